package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ModelCache resolves a fallback model slug when the Responses dialect
// rejects the requested one; an external collaborator per spec §4.4.
type ModelCache interface {
	FallbackModel(rejected string) (string, bool)
}

// noopModelCache never has a fallback; used when no cache is configured.
type noopModelCache struct{}

func (noopModelCache) FallbackModel(string) (string, bool) { return "", false }

// ResponsesProvider speaks the Responses SSE dialect: POST
// {model, instructions, input:[...], tools, tool_choice, parallel_tool_calls:false, stream:true},
// consume events discriminated by their "type" field.
type ResponsesProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	modelCache ModelCache
}

func NewResponsesProvider(name, baseURL, apiKey, model string, cache ModelCache) *ResponsesProvider {
	if cache == nil {
		cache = noopModelCache{}
	}
	return &ResponsesProvider{
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      normalizeResponsesModel(model),
		client:     &http.Client{Timeout: 0},
		modelCache: cache,
	}
}

func (p *ResponsesProvider) Name() string     { return p.name }
func (p *ResponsesProvider) Dialect() Dialect { return DialectResponses }

// normalizeResponsesModel strips any "vendor/" prefix, keeping only the
// segment after the last "/".
func normalizeResponsesModel(model string) string {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

type rInputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rInputItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Content   []rInputContent `json:"content,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Output    string          `json:"output,omitempty"`
}

type rTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type rRequest struct {
	Model             string       `json:"model"`
	Instructions      string       `json:"instructions,omitempty"`
	Input             []rInputItem `json:"input"`
	Tools             []rTool      `json:"tools,omitempty"`
	ToolChoice        string       `json:"tool_choice,omitempty"`
	ParallelToolCalls bool         `json:"parallel_tool_calls"`
	Stream            bool         `json:"stream"`
}

// buildResponsesInput concatenates system messages into instructions and
// turns the remaining messages into the Responses dialect's input items.
func buildResponsesInput(messages []Message) (instructions string, input []rInputItem) {
	var sys []string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			sys = append(sys, m.Content)
		case RoleUser, RoleAssistant:
			kind := "input_text"
			if m.Role == RoleAssistant {
				kind = "output_text"
			}
			if m.Content != "" {
				input = append(input, rInputItem{
					Type:    "message",
					Role:    string(m.Role),
					Content: []rInputContent{{Type: kind, Text: m.Content}},
				})
			}
			for _, tc := range m.ToolCalls {
				input = append(input, rInputItem{Type: "function_call", Name: tc.Name, Arguments: tc.Arguments, CallID: tc.ID})
			}
		case RoleTool:
			input = append(input, rInputItem{Type: "function_call_output", CallID: m.ToolCallID, Output: m.Content})
		}
	}
	return strings.Join(sys, "\n\n"), input
}

func buildResponsesTools(specs []ToolSpec) []rTool {
	out := make([]rTool, 0, len(specs))
	for _, s := range specs {
		out = append(out, rTool{Type: "function", Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}
	return out
}

type rEvent struct {
	Type string `json:"type"`
	Delta string `json:"delta"`
	Item  *struct {
		Type      string `json:"type"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		CallID    string `json:"call_id"`
	} `json:"item"`
	Response *struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

func (p *ResponsesProvider) buildRequest(req Request, model string) ([]byte, error) {
	instructions, input := buildResponsesInput(req.Messages)
	rReq := rRequest{
		Model:             model,
		Instructions:      instructions,
		Input:             input,
		ParallelToolCalls: false,
		Stream:            true,
	}
	if len(req.Tools) > 0 {
		rReq.Tools = buildResponsesTools(req.Tools)
		rReq.ToolChoice = "auto"
	}
	return json.Marshal(rReq)
}

func (p *ResponsesProvider) doRequest(ctx context.Context, req Request, model string) (*http.Response, int, string, error) {
	body, err := p.buildRequest(req, model)
	if err != nil {
		return nil, 0, "", fmt.Errorf("%s: encode request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, 0, "", fmt.Errorf("%s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, 0, "", fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, resp.StatusCode, string(respBody), nil
	}
	return resp, resp.StatusCode, "", nil
}

// streamWithFallback issues the request, and on a 400 containing "not
// supported" consults the model cache for a fallback slug, retrying at
// most once.
func (p *ResponsesProvider) streamWithFallback(ctx context.Context, req Request) (*http.Response, error) {
	model := chooseModel(normalizeResponsesModel(req.Model), p.model)

	resp, status, errBody, err := p.doRequest(ctx, req, model)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}

	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(errBody), "not supported") {
		if fallback, ok := p.modelCache.FallbackModel(model); ok {
			resp2, status2, errBody2, err2 := p.doRequest(ctx, req, fallback)
			if err2 != nil {
				return nil, err2
			}
			if resp2 != nil {
				return resp2, nil
			}
			return nil, fmt.Errorf("%s: API error (status %d): %s", p.name, status2, errBody2)
		}
	}

	return nil, fmt.Errorf("%s: API error (status %d): %s", p.name, status, errBody)
}

func (p *ResponsesProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	resp, err := p.streamWithFallback(ctx, req)
	if err != nil {
		return nil, err
	}

	return newChannelStream(func(emit func(Event)) error {
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var collected []ToolCall

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var ev rEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "response.output_text.delta":
				emit(Event{Kind: EventAgentChunk, Text: ev.Delta})
			case "response.reasoning_text.delta":
				emit(Event{Kind: EventAgentReasoning, Text: ev.Delta})
			case "response.output_item.done":
				if ev.Item != nil && ev.Item.Type == "function_call" {
					collected = append(collected, ToolCall{ID: ev.Item.CallID, Name: ev.Item.Name, Arguments: ev.Item.Arguments})
				}
			case "response.failed":
				msg := "response failed"
				if ev.Response != nil && ev.Response.Error != nil {
					msg = ev.Response.Error.Message
				}
				emit(Event{Kind: EventAgentError, Err: fmt.Errorf("%s: %s", p.name, msg)})
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("%s: streaming error: %w", p.name, err)
		}

		if len(collected) > 0 {
			emit(Event{Kind: EventAgentToolCalls, ToolCalls: collected})
			return nil
		}
		emit(Event{Kind: EventAgentDone})
		return nil
	}), nil
}

func (p *ResponsesProvider) Complete(ctx context.Context, req Request) (string, error) {
	model := chooseModel(normalizeResponsesModel(req.Model), p.model)
	instructions, input := buildResponsesInput(req.Messages)
	rReq := rRequest{Model: model, Instructions: instructions, Input: input, Stream: false}

	body, err := json.Marshal(rReq)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s: API error (status %d): %s", p.name, resp.StatusCode, string(respBody))
	}

	var parsed struct {
		OutputText string `json:"output_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	return parsed.OutputText, nil
}
