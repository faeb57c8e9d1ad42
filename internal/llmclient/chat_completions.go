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
	"time"
)

// ChatCompletionsProvider speaks the Chat-Completions SSE dialect: POST
// {model, messages, stream:true, tools?}, consume "data: " lines of
// {choices:[{delta:{...}}]}.
type ChatCompletionsProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewChatCompletionsProvider(name, baseURL, apiKey, model string) *ChatCompletionsProvider {
	return &ChatCompletionsProvider{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 0},
	}
}

func (p *ChatCompletionsProvider) Name() string     { return p.name }
func (p *ChatCompletionsProvider) Dialect() Dialect { return DialectChatCompletions }

type ccMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ccToolCallReq `json:"tool_calls,omitempty"`
}

type ccToolCallReq struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type ccTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ccRequest struct {
	Model      string      `json:"model"`
	Messages   []ccMessage `json:"messages"`
	Tools      []ccTool    `json:"tools,omitempty"`
	ToolChoice string      `json:"tool_choice,omitempty"`
	Stream     bool        `json:"stream"`
}

type ccDelta struct {
	Content         string `json:"content"`
	ReasoningText   string `json:"reasoning"`
	ReasoningAlt    string `json:"reasoning_content"`
	ToolCalls       []struct {
		Index    int    `json:"index"`
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

type ccChoice struct {
	Delta        ccDelta `json:"delta"`
	FinishReason string  `json:"finish_reason"`
}

type ccResponse struct {
	Choices []ccChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func buildCCMessages(messages []Message) []ccMessage {
	out := make([]ccMessage, 0, len(messages))
	for _, m := range messages {
		cm := ccMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			req := ccToolCallReq{ID: tc.ID, Type: "function"}
			req.Function.Name = tc.Name
			req.Function.Arguments = tc.Arguments
			cm.ToolCalls = append(cm.ToolCalls, req)
		}
		out = append(out, cm)
	}
	return out
}

func buildCCTools(specs []ToolSpec) []ccTool {
	out := make([]ccTool, 0, len(specs))
	for _, s := range specs {
		t := ccTool{Type: "function"}
		t.Function.Name = s.Name
		t.Function.Description = s.Description
		t.Function.Parameters = s.Parameters
		out = append(out, t)
	}
	return out
}

// pendingToolCalls accumulates tool-call deltas indexed by their "index"
// field, upgrading id/name as they arrive and appending to arguments.
type pendingToolCalls struct {
	byIndex map[int]*ToolCall
	order   []int
}

func newPendingToolCalls() *pendingToolCalls {
	return &pendingToolCalls{byIndex: make(map[int]*ToolCall)}
}

func (p *pendingToolCalls) add(index int, id, name, argsDelta string) {
	tc, ok := p.byIndex[index]
	if !ok {
		tc = &ToolCall{}
		p.byIndex[index] = tc
		p.order = append(p.order, index)
	}
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += argsDelta
}

func (p *pendingToolCalls) calls() []ToolCall {
	out := make([]ToolCall, 0, len(p.order))
	for _, idx := range p.order {
		tc := p.byIndex[idx]
		if tc.ID == "" {
			continue
		}
		out = append(out, *tc)
	}
	return out
}

func (p *ChatCompletionsProvider) doRequest(ctx context.Context, req Request) (*http.Response, error) {
	ccReq := ccRequest{
		Model:    chooseModel(req.Model, p.model),
		Messages: buildCCMessages(req.Messages),
		Stream:   true,
	}
	if len(req.Tools) > 0 {
		ccReq.Tools = buildCCTools(req.Tools)
		if req.ToolChoice != "" {
			ccReq.ToolChoice = string(req.ToolChoice)
		}
	}

	body, err := json.Marshal(ccReq)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%s: API error (status %d): %s", p.name, resp.StatusCode, string(respBody))
	}
	return resp, nil
}

func (p *ChatCompletionsProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	resp, err := p.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return newChannelStream(func(emit func(Event)) error {
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		pending := newPendingToolCalls()
		finishedWithToolCalls := false

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chatResp ccResponse
			if err := json.Unmarshal([]byte(data), &chatResp); err != nil {
				continue
			}
			if chatResp.Error != nil {
				emit(Event{Kind: EventAgentError, Err: fmt.Errorf("%s: %s", p.name, chatResp.Error.Message)})
				return nil
			}

			for _, choice := range chatResp.Choices {
				if choice.Delta.Content != "" {
					emit(Event{Kind: EventAgentChunk, Text: choice.Delta.Content})
				}
				reasoning := choice.Delta.ReasoningText
				if reasoning == "" {
					reasoning = choice.Delta.ReasoningAlt
				}
				if reasoning != "" {
					emit(Event{Kind: EventAgentReasoning, Text: reasoning})
				}
				for _, tc := range choice.Delta.ToolCalls {
					pending.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
				}
				if choice.FinishReason == "tool_calls" {
					finishedWithToolCalls = true
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("%s: streaming error: %w", p.name, err)
		}

		calls := pending.calls()
		if finishedWithToolCalls && len(calls) > 0 {
			emit(Event{Kind: EventAgentToolCalls, ToolCalls: calls})
			return nil
		}
		emit(Event{Kind: EventAgentDone})
		return nil
	}), nil
}

func (p *ChatCompletionsProvider) Complete(ctx context.Context, req Request) (string, error) {
	nonStreamReq := req
	ccReq := ccRequest{Model: chooseModel(req.Model, p.model), Messages: buildCCMessages(nonStreamReq.Messages), Stream: false}

	body, err := json.Marshal(ccReq)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s: API error (status %d): %s", p.name, resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

func chooseModel(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
