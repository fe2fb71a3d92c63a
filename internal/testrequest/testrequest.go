// Package testrequest parses a natural-language TestRequest Markdown
// document into the model.TestRequest the Plan Compiler consumes: a
// title, an ordered list of numbered steps, and the first URL mentioned
// in the body. It uses goldmark's parser/AST only — no HTML is ever
// rendered, unlike the teacher's internal/markdown package, which this
// package replaces for an entirely different purpose.
package testrequest

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/corepilot/corepilot/internal/model"
)

// urlPattern mirrors compiler_mvp/test_request_parser.py's URL_PATTERN.
var urlPattern = regexp.MustCompile(`https?://[\w\-./?=#%&:+]+`)

// Parse reads and parses the Markdown file at path.
func Parse(path string) (*model.TestRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test request: %w", err)
	}
	tr := ParseBytes(data)
	tr.SourcePath = path
	if tr.Title == "" {
		tr.Title = strings.TrimSuffix(baseName(path), ext(path))
	}
	return tr, nil
}

// ParseBytes parses Markdown source already in memory.
func ParseBytes(source []byte) *model.TestRequest {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	tr := &model.TestRequest{}

	var walkErr error
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			if tr.Title == "" {
				tr.Title = strings.TrimSpace(textOf(node, source))
			}

		case *ast.List:
			if node.IsOrdered() {
				index := node.Start
				if index == 0 {
					index = 1
				}
				for child := node.FirstChild(); child != nil; child = child.NextSibling() {
					item, ok := child.(*ast.ListItem)
					if !ok {
						continue
					}
					stepText := strings.TrimSpace(textOf(item, source))
					if stepText != "" {
						tr.Steps = append(tr.Steps, model.TestRequestStep{
							Index: index,
							Text:  stepText,
						})
					}
					index++
				}
				return ast.WalkSkipChildren, nil
			}
		}
		return ast.WalkContinue, nil
	})
	if walkErr != nil {
		return tr
	}

	if loc := urlPattern.FindIndex(source); loc != nil {
		tr.BaseURL = string(source[loc[0]:loc[1]])
	}

	return tr
}

// textOf concatenates the raw source text of every text-bearing leaf
// under n, collapsing internal newlines the way Markdown's soft-wrap does.
func textOf(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := child.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func ext(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}
