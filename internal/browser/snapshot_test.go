package browser

import (
	"testing"

	"github.com/corepilot/corepilot/internal/model"
)

func TestRawDomNodeToModelConvertsChildrenRecursively(t *testing.T) {
	raw := rawDomNode{
		DomID: "n1", Tag: "div", Depth: 0,
		Children: []rawDomNode{
			{DomID: "n2", Tag: "span", Depth: 1},
		},
	}
	got := raw.toModel()
	if got.DomID != "n1" || len(got.Children) != 1 {
		t.Fatalf("unexpected conversion: %+v", got)
	}
	if got.Children[0].DomID != "n2" || got.Children[0].Tag != "span" {
		t.Errorf("unexpected child: %+v", got.Children[0])
	}
}

func TestRawControlToModelMapsFieldNames(t *testing.T) {
	raw := rawControl{Tag: "input", ID: "q", ClassName: "a b", NameAttr: "query"}
	got := raw.toModel()
	if got.Class != "a b" || got.Name != "query" {
		t.Errorf("unexpected mapping: %+v", got)
	}
}

func TestCountNodesCountsEveryNodeInTheTree(t *testing.T) {
	tree := &model.DomNode{Children: []*model.DomNode{
		{Children: []*model.DomNode{{}, {}}},
		{},
	}}
	if got := countNodes(tree); got != 4 {
		t.Errorf("countNodes = %d, want 4", got)
	}
}

func TestCountNodesNilIsZero(t *testing.T) {
	if got := countNodes(nil); got != 0 {
		t.Errorf("countNodes(nil) = %d, want 0", got)
	}
}

func TestMaxDepthOfFindsDeepestChild(t *testing.T) {
	tree := &model.DomNode{Depth: 0, Children: []*model.DomNode{
		{Depth: 1, Children: []*model.DomNode{{Depth: 2}}},
		{Depth: 1},
	}}
	if got := maxDepthOf(tree); got != 2 {
		t.Errorf("maxDepthOf = %d, want 2", got)
	}
}
