package nodes

import (
	"context"

	"github.com/fluxpanel/workflow-engine/services/graph"
)

// TextNode carries a literal text value with no upstream dependency; its
// resolved input is populated by the resolver's default-merge from the
// node's own configured value when no incoming edge overrides it.
type TextNode struct {
	BaseFields
}

func NewTextNode(base BaseFields) *TextNode {
	return &TextNode{BaseFields: base}
}

func (n *TextNode) Kind() graph.NodeKind { return graph.KindText }

func (n *TextNode) Execute(_ context.Context, inputs map[string]any) (*ExecutionResult, error) {
	text, _ := inputs["text"].(string)
	return &ExecutionResult{Outputs: map[string]any{"text": text, "value": text}}, nil
}
