// Package executor turns a composed context pack into a model execution:
// builds the message sequence, invokes the chat client, and extracts the
// signals and buttons the orchestration loop consumes.
package executor

import (
	"context"
	"fmt"

	"cosci/internal/llm"
	"cosci/internal/logging"
	"cosci/internal/types"
)

// User-facing fallback messages. The loop relies on failures surfacing as
// normal results carrying stop signals, never as transport errors.
const (
	msgUnreachable = "죄송합니다. AI 서비스에 연결할 수 없습니다. 잠시 후 다시 시도해주세요."
	msgFailed      = "죄송합니다. 응답 생성 중 오류가 발생했습니다. 다시 시도해주세요."
	msgStreamError = "응답 생성 중 오류가 발생했습니다."
)

// eventPlaceholder substitutes for the user message on event-triggered turns.
const eventPlaceholder = "(이벤트 트리거)"

// maxHistoryMessages caps how many prior messages accompany one execution.
const maxHistoryMessages = 8

// Result is the outcome of one skill execution.
type Result struct {
	Content       string                 `json:"content"`
	RawResponse   string                 `json:"raw_response"`
	Signals       types.ExecutionSignals `json:"signals"`
	PromptButtons []string               `json:"prompt_buttons,omitempty"`
}

// Executor runs skills against a chat client.
type Executor struct {
	client llm.Client
}

// New creates an Executor. A nil client is tolerated; executions then return
// the unreachable fallback.
func New(client llm.Client) *Executor {
	return &Executor{client: client}
}

// buildMessages assembles system prompt, trailing history, and the user turn
// with the context pack embedded verbatim.
func buildMessages(skillID, contextPack, userMessage string, history []types.ConversationMessage) []llm.Message {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(skillID)},
	}

	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, m := range history {
		if m.Role == llm.RoleUser || m.Role == llm.RoleAssistant {
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	if userMessage == "" {
		userMessage = eventPlaceholder
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("[CONTEXT_PACK]\n%s\n[/CONTEXT_PACK]\n\n사용자 메시지: %s", contextPack, userMessage),
	})

	return messages
}

// Execute runs one skill and returns the cleaned content plus parsed
// signals. Provider failures come back as an apologetic result with
// terminating signals, not as an error.
func (e *Executor) Execute(ctx context.Context, skillID, contextPack, userMessage string, history []types.ConversationMessage) Result {
	timer := logging.StartTimer(logging.CategoryExecutor, "Execute")
	defer timer.Stop()

	if e.client == nil {
		logging.Executor("execute %s: no chat client configured", skillID)
		return Result{Content: msgUnreachable, Signals: types.FailureSignals()}
	}

	messages := buildMessages(skillID, contextPack, userMessage, history)
	logging.ExecutorDebug("execute %s: %d messages, pack_len=%d", skillID, len(messages), len(contextPack))

	raw, err := e.client.Complete(ctx, messages)
	if err != nil {
		logging.Executor("execute %s failed: %v", skillID, err)
		return Result{Content: msgFailed, Signals: types.FailureSignals()}
	}

	return Result{
		Content:       cleanContent(raw),
		RawResponse:   raw,
		Signals:       parseSignals(raw),
		PromptButtons: parsePromptButtons(raw),
	}
}

// ExecuteStream runs one skill with streaming. Content deltas are forwarded
// as they arrive; once the stream ends the accumulated text is parsed and
// signals, buttons (when present), and a final done event are emitted. On
// failure a single error event terminates the stream.
func (e *Executor) ExecuteStream(ctx context.Context, skillID, contextPack, userMessage string, history []types.ConversationMessage) <-chan types.StreamChunk {
	out := make(chan types.StreamChunk, 32)

	go func() {
		defer close(out)

		if e.client == nil {
			out <- types.StreamChunk{Type: types.ChunkError, Data: types.ErrorPayload{Message: msgUnreachable}}
			return
		}

		messages := buildMessages(skillID, contextPack, userMessage, history)
		contentChan, errChan := e.client.CompleteStream(ctx, messages)

		var full string
		for delta := range contentChan {
			full += delta
			select {
			case out <- types.StreamChunk{Type: types.ChunkContent, Data: delta}:
			case <-ctx.Done():
				return
			}
		}
		if err := <-errChan; err != nil {
			logging.Executor("stream %s failed: %v", skillID, err)
			out <- types.StreamChunk{Type: types.ChunkError, Data: types.ErrorPayload{Message: msgStreamError}}
			return
		}

		signals := parseSignals(full)
		buttons := parsePromptButtons(full)
		content := cleanContent(full)

		out <- types.StreamChunk{Type: types.ChunkSignals, Data: signals}
		if len(buttons) > 0 {
			out <- types.StreamChunk{Type: types.ChunkButtons, Data: buttons}
		}
		out <- types.StreamChunk{Type: types.ChunkDone, Data: types.DonePayload{
			Content:       content,
			Signals:       signals,
			PromptButtons: buttons,
		}}
	}()

	return out
}
