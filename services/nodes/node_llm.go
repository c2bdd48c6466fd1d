package nodes

import (
	"context"
	"strings"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
	"github.com/fluxpanel/workflow-engine/services/graph"
)

// LLMNode dispatches a chat-completion task, optionally multi-modal via a
// fan-in "images" slot.
type LLMNode struct {
	BaseFields
	tasks remotetask.Runner
}

func NewLLMNode(base BaseFields, tasks remotetask.Runner) *LLMNode {
	return &LLMNode{BaseFields: base, tasks: tasks}
}

func (n *LLMNode) Kind() graph.NodeKind { return graph.KindLLM }

func (n *LLMNode) Execute(ctx context.Context, inputs map[string]any) (*ExecutionResult, error) {
	userMessage, _ := inputs["user_message"].(string)
	if strings.TrimSpace(userMessage) == "" {
		return nil, apierr.New(apierr.CodeMissingInput, "llm node requires a non-empty user_message")
	}

	systemPrompt, _ := inputs["system_prompt"].(string)
	model, _ := inputs["model"].(string)
	images, _ := inputs["images"].([]any)

	payload := map[string]any{
		"model":        model,
		"systemPrompt": systemPrompt,
		"userMessage":  userMessage,
		"imageUrls":    images,
	}

	result, err := n.tasks.TriggerAndPoll(ctx, "llm-execute", payload)
	if err != nil {
		return nil, translateTaskError(err)
	}

	text, _ := result.Output["text"].(string)
	outputs := map[string]any{"text": text, "response": text}
	if m, ok := result.Output["model"]; ok {
		outputs["model"] = m
	}

	return &ExecutionResult{Outputs: outputs, TaskName: "llm-execute", RemoteRunID: result.RemoteRunID}, nil
}
