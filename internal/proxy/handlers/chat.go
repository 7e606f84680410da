package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/auth/token"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/catalog"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/config"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/db/models"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/proxy/monitor"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/reasoning"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/stream"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/translate"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/upstream"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/util"
)

const defaultModel = "gemini-3-flash"

// Deps carries the shared services the chat handler needs.
type Deps struct {
	Config   *config.Config
	Tokens   *token.Cache
	Upstream *upstream.Client
	Monitor  *monitor.ProxyMonitor // nil when monitoring is disabled
}

// ChatCompletions handles POST /v1/chat/completions and /chat/completions.
func ChatCompletions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		record := models.RequestLog{Method: r.Method, Path: r.URL.Path}
		defer func() {
			if deps.Monitor != nil {
				record.Duration = time.Since(start).Milliseconds()
				deps.Monitor.LogRequest(record)
			}
		}()

		refreshToken := bearerToken(r)
		if refreshToken == "" {
			refreshToken = deps.Config.DefaultRefreshToken
		}
		if refreshToken == "" {
			record.Status = http.StatusUnauthorized
			writeOpenAIError(w, http.StatusUnauthorized, "missing bearer token: pass your Google refresh token as Authorization: Bearer <token>")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
		if err != nil {
			record.Status = http.StatusBadRequest
			writeOpenAIError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		record.RequestBody = string(body)

		var req translate.ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			record.Status = http.StatusBadRequest
			record.Error = err.Error()
			writeOpenAIError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if len(req.Messages) == 0 {
			record.Status = http.StatusBadRequest
			writeOpenAIError(w, http.StatusBadRequest, "messages is required and must not be empty")
			return
		}

		model := req.Model
		if model == "" {
			model = defaultModel
		}
		if !catalog.Has(model) {
			log.Printf("⚠️ Model %q is not in the catalog, forwarding as-is", model)
		}
		claude := reasoning.IsClaudeFamily(model)
		streaming := req.IsStream()
		record.Model = model
		record.Stream = streaming

		clientRequestID := r.Header.Get("X-Request-ID")
		payload, mappedModel, err := buildUpstreamPayload(deps.Config, &req, model, claude, clientRequestID)
		if err != nil {
			record.Status = http.StatusInternalServerError
			record.Error = err.Error()
			writeOpenAIError(w, http.StatusInternalServerError, "failed to build upstream request: "+err.Error())
			return
		}
		record.MappedModel = mappedModel

		ctx := r.Context()
		accessToken, err := deps.Tokens.GetAccessToken(ctx, refreshToken)
		if err != nil {
			record.Status = http.StatusInternalServerError
			record.Error = err.Error()
			writeOpenAIError(w, http.StatusInternalServerError, "token refresh failed: "+err.Error())
			return
		}

		projectID, err := deps.Tokens.GetProjectID(ctx, refreshToken)
		if err != nil {
			log.Printf("⚠️ Project discovery failed, continuing without project: %v", err)
		}
		if projectID != "" {
			var setErr error
			payload, setErr = setPayloadProject(payload, projectID)
			if setErr != nil {
				record.Status = http.StatusInternalServerError
				writeOpenAIError(w, http.StatusInternalServerError, "failed to build upstream request")
				return
			}
		}

		style := upstream.StyleGeminiCLI
		if claude {
			style = upstream.StyleAntigravity
		}
		record.Style = style
		fp := deps.Tokens.GetFingerprint(refreshToken)

		if deps.Config.Verbose {
			log.Printf("📤 Upstream payload (%s, %s): %s", mappedModel, style, util.TruncateBytes(payload))
		}

		resp, err := deps.Upstream.Request(ctx, payload, accessToken, upstream.Options{
			Style:     style,
			Model:     mappedModel,
			QuotaUser: fp.QuotaUser,
			DeviceID:  fp.DeviceID,
		})
		if err != nil {
			record.Status = http.StatusInternalServerError
			record.Error = err.Error()
			writeOpenAIError(w, http.StatusInternalServerError, "upstream request failed: "+err.Error())
			return
		}
		defer resp.Body.Close()

		if clientRequestID != "" {
			w.Header().Set("X-Request-ID", clientRequestID)
		}

		if streaming {
			record.Status = http.StatusOK
			streamResponse(w, deps.Config, model, resp.Body)
			return
		}
		completeResponse(w, deps.Config, model, resp.Body, &record)
	}
}

// buildUpstreamPayload assembles the v1internal envelope from the client
// request. A client-supplied request id is honored; otherwise one is
// synthesized.
func buildUpstreamPayload(cfg *config.Config, req *translate.ChatRequest, model string, claude bool, requestID string) ([]byte, string, error) {
	system, contents := translate.ToGemini(req.Messages)

	var tools []translate.GeminiTool
	if len(req.Tools) > 0 {
		tools = translate.ToGeminiTools(req.Tools, claude)
	}

	genCfg := &translate.GenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		TopP:            req.TopP,
		StopSequences:   req.Stop,
	}
	reasoning.ApplyThinking(genCfg, model, req.ReasoningEffort, cfg.ThinkingBudget)

	mappedModel := reasoning.NormalizeModelForAntigravity(model, req.ReasoningEffort)

	if requestID == "" {
		requestID = "agent-" + uuid.NewString()
	}

	envelope := translate.GeminiRequest{
		Model:       mappedModel,
		UserAgent:   "antigravity",
		RequestID:   requestID,
		RequestType: "agent",
		Request: translate.GeminiRequestPayload{
			Contents:         contents,
			Tools:            tools,
			GenerationConfig: genCfg,
			SessionID:        "session-" + uuid.NewString(),
		},
	}
	if claude && len(tools) > 0 {
		envelope.Request.ToolConfig = &translate.GeminiToolConfig{
			FunctionCallingConfig: &translate.GeminiFunctionCallingConfig{Mode: "VALIDATED"},
		}
	}
	if system != "" {
		envelope.Request.SystemInstruction = &translate.GeminiContent{
			Role:  "user",
			Parts: []translate.GeminiPart{{Text: system}},
		}
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, "", err
	}
	return payload, mappedModel, nil
}

func setPayloadProject(payload []byte, projectID string) ([]byte, error) {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}
	envelope["project"] = projectID
	return json.Marshal(envelope)
}

// streamResponse pipes the upstream SSE body through the transformer and
// re-emits enriched OpenAI chunks, terminated by [DONE].
func streamResponse(w http.ResponseWriter, cfg *config.Config, model string, body io.Reader) {
	setSSEHeaders(w)
	flusher, canFlush := w.(http.Flusher)

	id := newCompletionID()
	created := time.Now().Unix()

	stream.New(cfg.KeepThinking).Run(body, func(chunk translate.StreamChunk) {
		chunk.ID = id
		chunk.Object = "chat.completion.chunk"
		chunk.Created = created
		chunk.Model = model
		data, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		if canFlush {
			flusher.Flush()
		}
	})

	fmt.Fprint(w, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}

// completeResponse accumulates the transformed stream into one completion
// object.
func completeResponse(w http.ResponseWriter, cfg *config.Config, model string, body io.Reader, record *models.RequestLog) {
	raw, err := io.ReadAll(body)
	if err != nil {
		record.Status = http.StatusInternalServerError
		record.Error = err.Error()
		writeOpenAIError(w, http.StatusInternalServerError, "failed to read upstream response: "+err.Error())
		return
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		record.Status = http.StatusBadGateway
		record.Error = "empty upstream body"
		writeOpenAIError(w, http.StatusBadGateway, "upstream returned an empty body")
		return
	}

	var content strings.Builder
	var toolCalls []translate.ToolCall
	seenCalls := make(map[string]bool)

	stream.New(cfg.KeepThinking).Run(bytes.NewReader(raw), func(chunk translate.StreamChunk) {
		for _, choice := range chunk.Choices {
			content.WriteString(choice.Delta.Content)
			for _, call := range choice.Delta.ToolCalls {
				key := call.ID + "\x00" + call.Function.Name
				if seenCalls[key] {
					continue
				}
				seenCalls[key] = true
				toolCalls = append(toolCalls, translate.ToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: call.Function,
				})
			}
		}
	})

	finishReason := "stop"
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	}

	message := translate.AssistantMessage{Role: "assistant", ToolCalls: toolCalls}
	if text := content.String(); text != "" {
		message.Content = &text
	}

	response := translate.ChatResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []translate.Choice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
	}

	record.Status = http.StatusOK
	if out, err := json.Marshal(response); err == nil {
		record.ResponseBody = string(out)
	}
	writeJSON(w, http.StatusOK, response)
}
