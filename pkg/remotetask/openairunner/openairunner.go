// Package openairunner backs the "llm-execute" task with a real OpenAI chat
// completion call. Submit performs the call synchronously (OpenAI requests
// are typically sub-second) and stores the outcome in a handle store for
// Poll to return on its first tick, so the task still goes through the
// ordinary submit/poll lifecycle the rest of the system expects.
package openairunner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fluxpanel/workflow-engine/pkg/handlestore"
	"github.com/fluxpanel/workflow-engine/pkg/remotetask"
)

// Backend dispatches llm-execute tasks to OpenAI's chat completions API.
type Backend struct {
	client *openai.Client
	model  string
	store  handlestore.Store
}

// New constructs a Backend using apiKey and defaultModel as the model name
// used when a task payload does not specify one. store holds handle/poll
// state across Submit and Poll calls; pass a handlestore.NewMemoryStore()
// when no Redis address is configured.
func New(apiKey, defaultModel string, store handlestore.Store) *Backend {
	return &Backend{
		client: openai.NewClient(apiKey),
		model:  defaultModel,
		store:  store,
	}
}

func (b *Backend) Submit(ctx context.Context, taskName string, payload map[string]any) (string, error) {
	if taskName != "llm-execute" {
		return "", fmt.Errorf("openairunner: unsupported task %q", taskName)
	}

	model, _ := payload["model"].(string)
	if model == "" {
		model = b.model
	}
	systemPrompt, _ := payload["systemPrompt"].(string)
	userMessage, _ := payload["userMessage"].(string)
	imageURLs, _ := payload["imageUrls"].([]any)

	var messages []openai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, buildUserMessage(userMessage, imageURLs))

	handle := newHandle()

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})

	var result remotetask.PollResult
	switch {
	case err != nil:
		result = remotetask.PollResult{Terminal: true, Success: false, Status: "FAILED", ErrorMessage: err.Error()}
	case len(resp.Choices) == 0:
		result = remotetask.PollResult{Terminal: true, Success: false, Status: "FAILED", ErrorMessage: "openai: empty choices"}
	default:
		text := resp.Choices[0].Message.Content
		result = remotetask.PollResult{
			Terminal: true,
			Success:  true,
			Status:   "COMPLETED",
			Output:   map[string]any{"text": text, "response": text, "model": model},
		}
	}

	if setErr := b.store.Set(ctx, handle, result); setErr != nil {
		return "", fmt.Errorf("openairunner: record handle %q: %w", handle, setErr)
	}
	return handle, nil
}

func (b *Backend) Poll(ctx context.Context, _ string, handle string) (remotetask.PollResult, error) {
	res, ok, err := b.store.Get(ctx, handle)
	if err != nil {
		return remotetask.PollResult{}, fmt.Errorf("openairunner: poll handle %q: %w", handle, err)
	}
	if !ok {
		return remotetask.PollResult{}, fmt.Errorf("openairunner: unknown handle %q", handle)
	}
	if err := b.store.Delete(ctx, handle); err != nil {
		return remotetask.PollResult{}, fmt.Errorf("openairunner: clear handle %q: %w", handle, err)
	}
	return res, nil
}

func newHandle() string {
	var raw [8]byte
	_, _ = rand.Read(raw[:])
	return "oai-" + hex.EncodeToString(raw[:])
}

func buildUserMessage(text string, imageURLs []any) openai.ChatCompletionMessage {
	if len(imageURLs) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}
	for _, u := range imageURLs {
		if url, ok := u.(string); ok && url != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		}
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}
