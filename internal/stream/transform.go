// Package stream converts the backend's cumulative SSE frames into
// incremental OpenAI chat.completion.chunk deltas.
//
// The backend re-sends every previously delivered part with each new frame,
// so a naive pass-through duplicates text and tool calls. Function-call
// parts sit at stable positions within a candidate's parts list, which makes
// position-based dedup safe. Text parts are not deduplicated; upstream does
// not resend identical text at the same position in practice.
package stream

import (
	"bytes"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/translate"
)

// Transformer holds per-response state. Use one instance per upstream
// response.
type Transformer struct {
	keepThinking  bool
	toolCallIndex int
	emittedCalls  map[int]bool // part positions whose functionCall was emitted
	sawFrame      bool
}

func New(keepThinking bool) *Transformer {
	return &Transformer{
		keepThinking: keepThinking,
		emittedCalls: make(map[int]bool),
	}
}

// Run consumes the upstream body and calls emit for each OpenAI chunk in
// receive order. It always terminates the sequence with exactly one chunk
// carrying a "stop" finish reason. Run closes nothing; the caller owns body.
func (t *Transformer) Run(body io.Reader, emit func(translate.StreamChunk)) {
	buf := make([]byte, 4096)
	var pending []byte
	var tail []byte // non-SSE bytes, retried as raw JSON at stream end

	for {
		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := pending[:idx]
				pending = pending[idx+1:]
				tail = t.handleLine(line, tail, emit)
			}
		}
		if err == io.EOF {
			tail = t.handleLine(pending, tail, emit)
			t.flushTail(tail, emit)
			emit(stopChunk())
			return
		}
		if err != nil {
			emit(translate.StreamChunk{Choices: []translate.StreamChoice{{
				Delta:        translate.Delta{Content: "\n\nStream error: " + err.Error()},
				FinishReason: strPtr("stop"),
			}}})
			return
		}
	}
}

// handleLine processes one SSE line. Lines that are not data frames are
// collected into tail so a plain-JSON (non-SSE) response still parses.
func (t *Transformer) handleLine(line, tail []byte, emit func(translate.StreamChunk)) []byte {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return tail
	}
	if payload, ok := strings.CutPrefix(trimmed, "data:"); ok {
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			return tail
		}
		t.sawFrame = true
		t.handleFrame(payload, emit)
		return tail
	}
	return append(tail, line...)
}

// flushTail retries accumulated non-SSE bytes as a raw JSON object or array.
func (t *Transformer) flushTail(tail []byte, emit func(translate.StreamChunk)) {
	if t.sawFrame || len(tail) == 0 {
		return
	}
	parsed := gjson.ParseBytes(tail)
	if parsed.IsObject() {
		t.handleFrame(parsed.Raw, emit)
		return
	}
	if parsed.IsArray() {
		for _, frame := range parsed.Array() {
			t.handleFrame(frame.Raw, emit)
		}
	}
}

func (t *Transformer) handleFrame(payload string, emit func(translate.StreamChunk)) {
	parts := gjson.Get(payload, "response.candidates.0.content.parts")
	if !parts.Exists() {
		parts = gjson.Get(payload, "candidates.0.content.parts")
	}
	if !parts.Exists() {
		return
	}

	for i, part := range parts.Array() {
		if text := part.Get("text"); text.Exists() {
			if part.Get("thought").Bool() && !t.keepThinking {
				continue
			}
			emit(translate.StreamChunk{Choices: []translate.StreamChoice{{
				Delta: translate.Delta{Content: text.String()},
			}}})
			continue
		}

		call := part.Get("functionCall")
		if !call.Exists() || t.emittedCalls[i] {
			continue
		}
		args := call.Get("args").Raw
		if args == "" {
			args = "{}"
		}
		// __thinking_text is backend-internal scratch, never part of the
		// declared tool schema.
		if cleaned, err := sjson.Delete(args, "__thinking_text"); err == nil {
			args = cleaned
		}
		emit(translate.StreamChunk{Choices: []translate.StreamChoice{{
			Delta: translate.Delta{ToolCalls: []translate.ToolCallDelta{{
				Index: t.toolCallIndex,
				ID:    translate.NewCallID(),
				Type:  "function",
				Function: translate.FunctionCall{
					Name:      call.Get("name").String(),
					Arguments: args,
				},
			}}},
		}}})
		t.emittedCalls[i] = true
		t.toolCallIndex++
	}
}

func stopChunk() translate.StreamChunk {
	return translate.StreamChunk{Choices: []translate.StreamChoice{{
		Delta:        translate.Delta{},
		FinishReason: strPtr("stop"),
	}}}
}

func strPtr(s string) *string { return &s }
