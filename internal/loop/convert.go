package loop

import (
	"encoding/json"
	"fmt"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/history"
	"github.com/qbit-ai/qbit/pkg/models"
)

// buildCompletionRequest assembles the wire request for one iteration.
// CompletionRequest has no temperature field, so Config's Temperature is
// not forwarded; that is a limitation of the provider interface, not of
// this loop.
func buildCompletionRequest(model, system string, h history.History, toolDefs []agent.Tool, maxTokens int) *agent.CompletionRequest {
	return &agent.CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  toCompletionMessages(h),
		Tools:     toolDefs,
		MaxTokens: maxTokens,
	}
}

// toCompletionMessages converts a full history into the wire message
// sequence a CompletionRequest carries.
func toCompletionMessages(h history.History) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(h.Entries))
	for _, e := range h.Entries {
		content, calls, results, attachments := toCompletionMessagesContent(e.Parts)
		out = append(out, agent.CompletionMessage{
			Role:        roleString(e.Role),
			Content:     content,
			ToolCalls:   calls,
			ToolResults: results,
			Attachments: attachments,
		})
	}
	return out
}

// toCompletionMessagesContent flattens entry parts into the wire message
// shape. Reasoning parts are not forwarded on the wire: CompletionMessage
// has no reasoning field, so reasoning is preserved in history for
// display and transcript purposes but not replayed into the next request
// body. Signature continuation would require extending CompletionMessage
// itself.
func toCompletionMessagesContent(parts []history.Part) (string, []models.ToolCall, []models.ToolResult, []models.Attachment) {
	var content string
	var calls []models.ToolCall
	var results []models.ToolResult
	var attachments []models.Attachment

	for _, p := range parts {
		switch p.Kind {
		case history.PartText:
			content += p.Text
		case history.PartToolCall:
			calls = append(calls, models.ToolCall{
				ID:    p.ToolCallID,
				Name:  p.ToolCallName,
				Input: json.RawMessage(p.ToolCallArgs),
			})
		case history.PartToolResult:
			results = append(results, models.ToolResult{
				ToolCallID: p.ToolResultID,
				Content:    p.ToolResultContent,
			})
		case history.PartImage:
			attachments = append(attachments, models.Attachment{
				Type:     "image",
				MimeType: p.ImageMimeType,
				URL:      fmt.Sprintf("data:%s;base64,%s", p.ImageMimeType, p.ImageBase64),
			})
		case history.PartReasoning:
			// Not forwarded on the wire; see doc comment above.
		}
	}
	return content, calls, results, attachments
}

func roleString(r history.Role) string {
	switch r {
	case history.RoleUser:
		return "user"
	case history.RoleAssistant:
		return "assistant"
	case history.RoleTool:
		return "tool"
	default:
		return string(r)
	}
}
