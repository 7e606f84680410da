// Package translate converts OpenAI Chat Completions requests into the
// Gemini-style content format used by the Cloud Code backend, and defines
// the wire structures for both sides.
package translate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/schema"
)

// ThoughtSignature is attached to every function-call part sent upstream.
// The backend validates thought signatures on Claude models; this sentinel
// tells it to skip that validation for replayed history.
const ThoughtSignature = "skip_thought_signature_validator"

var dataURIRe = regexp.MustCompile(`^data:(image/[a-zA-Z0-9.+-]+);base64,(.+)$`)

// NewCallID synthesizes a tool-call id in the OpenAI style.
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// ToGemini maps an OpenAI message history to Gemini contents. System and
// developer messages are lifted out into the returned system instruction
// text; when several are present the last one wins.
func ToGemini(messages []Message) (string, []GeminiContent) {
	var system string
	var contents []GeminiContent

	binder := newCallBinder()

	for _, msg := range messages {
		switch msg.Role {
		case "system", "developer":
			if text := msg.Content.TextContent(); text != "" {
				system = text
			}

		case "assistant":
			parts := assistantParts(msg, binder)
			if len(parts) > 0 {
				contents = append(contents, GeminiContent{Role: "model", Parts: parts})
			}

		case "tool":
			part := toolResponsePart(msg, binder)
			contents = append(contents, GeminiContent{Role: "user", Parts: []GeminiPart{part}})

		default: // user and anything unrecognized
			parts := userParts(msg.Content)
			if len(parts) > 0 {
				contents = append(contents, GeminiContent{Role: "user", Parts: parts})
			}
		}
	}

	return system, contents
}

func userParts(content Content) []GeminiPart {
	if content.IsText {
		if content.Text == "" {
			return nil
		}
		return []GeminiPart{{Text: content.Text}}
	}

	var parts []GeminiPart
	for _, p := range content.Parts {
		switch p.Type {
		case "text":
			if p.Text != "" {
				parts = append(parts, GeminiPart{Text: p.Text})
			}
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			m := dataURIRe.FindStringSubmatch(p.ImageURL.URL)
			if m == nil {
				// Remote URLs cannot be forwarded; the backend only
				// accepts inline data.
				continue
			}
			parts = append(parts, GeminiPart{
				InlineData: &GeminiInlineData{MimeType: m[1], Data: m[2]},
			})
		}
	}
	return parts
}

// callBinder pairs assistant tool calls with later tool-response messages.
// Responses normally reference a call by id; when a client omits ids the
// binder falls back to the oldest unmatched call for the same function name.
type callBinder struct {
	names   map[string]string   // call id -> function name
	pending map[string][]string // function name -> unmatched ids, oldest first
}

func newCallBinder() *callBinder {
	return &callBinder{
		names:   make(map[string]string),
		pending: make(map[string][]string),
	}
}

func (b *callBinder) record(id, name string) {
	b.names[id] = name
	b.pending[name] = append(b.pending[name], id)
}

func (b *callBinder) resolve(msg Message) (id, name string) {
	if msg.ToolCallID != "" {
		id = msg.ToolCallID
		name = b.names[id]
		if name == "" {
			name = msg.Name
		}
		b.consume(name, id)
	} else {
		name = msg.Name
		if queue := b.pending[name]; len(queue) > 0 {
			id = queue[0]
			b.pending[name] = queue[1:]
		}
	}
	if id == "" {
		id = "unknown"
	}
	return id, name
}

func (b *callBinder) consume(name, id string) {
	queue := b.pending[name]
	for i, pending := range queue {
		if pending == id {
			b.pending[name] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

func assistantParts(msg Message, binder *callBinder) []GeminiPart {
	var parts []GeminiPart
	if text := msg.Content.TextContent(); text != "" {
		parts = append(parts, GeminiPart{Text: text})
	}

	for _, call := range msg.ToolCalls {
		id := call.ID
		if id == "" {
			id = NewCallID()
		}
		binder.record(id, call.Function.Name)

		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		parts = append(parts, GeminiPart{
			FunctionCall: &GeminiFunctionCall{
				ID:   id,
				Name: call.Function.Name,
				Args: args,
			},
			ThoughtSignature: ThoughtSignature,
		})
	}
	return parts
}

func toolResponsePart(msg Message, binder *callBinder) GeminiPart {
	id, name := binder.resolve(msg)
	return GeminiPart{
		FunctionResponse: &GeminiFunctionResponse{
			ID:   id,
			Name: name,
			Response: map[string]any{
				"result": msg.Content.TextContent(),
			},
		},
	}
}

// ToGeminiTools converts OpenAI tool definitions to a single Gemini tool
// holding all function declarations. Parameter schemas go through the
// strict sanitizer for Claude models and the light one otherwise.
func ToGeminiTools(tools []Tool, strict bool) []GeminiTool {
	var decls []GeminiFunctionDeclaration
	for _, tool := range tools {
		if tool.Type != "function" || tool.Function == nil {
			continue
		}
		params := tool.Function.Parameters
		if params != nil {
			if strict {
				params = schema.CleanStrict(params)
			} else {
				params = schema.CleanLight(params)
			}
		}
		decls = append(decls, GeminiFunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  params,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []GeminiTool{{FunctionDeclarations: decls}}
}
