// Package cliexit maps a CLI run's terminal error to a process exit
// code. Both cmd/compile and cmd/run share a single main() that calls
// os.Exit(run()) rather than scattering os.Exit calls through command
// bodies, so every *Error type each component returns needs to funnel
// through one place here.
package cliexit

import (
	"errors"

	"github.com/corepilot/corepilot/internal/annotator"
	"github.com/corepilot/corepilot/internal/compiler"
	"github.com/corepilot/corepilot/internal/profile"
	"github.com/corepilot/corepilot/internal/session"
	"github.com/corepilot/corepilot/internal/snapshot"
)

// Exit codes. 0 is success; everything else follows spec.md §6's rule
// that a run exits 0 iff the last action fully succeeded.
const (
	OK               = 0
	GenericFailure   = 1
	InputFailure     = 2
	FetchFailure     = 3
	AnnotationFailed = 4
	ProfileFailed    = 5
	CompileExhausted = 6
	CompileFailed    = 7
	SessionFailed    = 8
	CaseFailures     = 9 // one or more batch/single cases did not pass
)

// Code inspects err and returns the process exit code it maps to. A nil
// err returns OK. Unrecognized errors return GenericFailure.
func Code(err error) int {
	if err == nil {
		return OK
	}

	var fetchErr *snapshot.FetchError
	if errors.As(err, &fetchErr) {
		return FetchFailure
	}

	var annErr *annotator.AnnotationError
	if errors.As(err, &annErr) {
		return AnnotationFailed
	}

	var profErr *profile.ProfileError
	if errors.As(err, &profErr) {
		return ProfileFailed
	}

	var compErr *compiler.CompileError
	if errors.As(err, &compErr) {
		if compErr.Code == "COMPILE_EXHAUSTED" {
			return CompileExhausted
		}
		return CompileFailed
	}

	var sessErr *session.Error
	if errors.As(err, &sessErr) {
		return SessionFailed
	}

	var caseErr *CaseFailureError
	if errors.As(err, &caseErr) {
		return CaseFailures
	}

	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return InputFailure
	}

	return GenericFailure
}

// InputError marks a failure caused by a bad flag, missing file, or
// other caller mistake rather than a component failure, so Code can
// tell it apart from GenericFailure.
type InputError struct {
	Message string
	Cause   error
}

func (e *InputError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *InputError) Unwrap() error { return e.Cause }

// CaseFailureError reports that a run or batch completed without a
// fatal error but one or more cases did not pass, per spec.md §6's
// rule that case failures still produce a non-zero exit.
type CaseFailureError struct {
	Failed  int
	Errored int
	Total   int
}

func (e *CaseFailureError) Error() string {
	return "one or more cases did not pass"
}
