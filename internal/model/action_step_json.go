package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// rawActionStep mirrors ActionStep but leaves Value as json.RawMessage so
// UnmarshalJSON can accept both a string and a number (count_* assertions
// may legitimately carry either, per spec §3's ActionStep definition) while
// normalizing both onto ActionStep.Value as a string.
type rawActionStep struct {
	T        string          `json:"t"`
	Selector string          `json:"selector,omitempty"`
	URL      string          `json:"url,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Kind     string          `json:"kind,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ActionStep) UnmarshalJSON(data []byte) error {
	var raw rawActionStep
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.T = raw.T
	s.Selector = raw.Selector
	s.URL = raw.URL
	s.Kind = raw.Kind
	s.Value = ""
	s.HasValue = false

	if len(raw.Value) == 0 || bytes.Equal(bytes.TrimSpace(raw.Value), []byte("null")) {
		return nil
	}
	s.HasValue = true

	var str string
	if err := json.Unmarshal(raw.Value, &str); err == nil {
		s.Value = str
		return nil
	}
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(raw.Value))
	dec.UseNumber()
	if err := dec.Decode(&num); err == nil {
		s.Value = num.String()
		return nil
	}
	return fmt.Errorf("action step value must be a string or a number: %s", string(raw.Value))
}

// MarshalJSON implements json.Marshaler.
func (s ActionStep) MarshalJSON() ([]byte, error) {
	type alias struct {
		T        string `json:"t"`
		Selector string `json:"selector,omitempty"`
		URL      string `json:"url,omitempty"`
		Value    *string `json:"value,omitempty"`
		Kind     string `json:"kind,omitempty"`
	}
	a := alias{T: s.T, Selector: s.Selector, URL: s.URL, Kind: s.Kind}
	if s.HasValue {
		v := s.Value
		a.Value = &v
	}
	return json.Marshal(a)
}
