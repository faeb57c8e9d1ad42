package turnengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jayasuryajsk/lorikeet/internal/eventbus"
	"github.com/jayasuryajsk/lorikeet/internal/llmclient"
	"github.com/jayasuryajsk/lorikeet/internal/memstore"
	"github.com/jayasuryajsk/lorikeet/internal/sandbox"
	"github.com/jayasuryajsk/lorikeet/internal/sessionlog"
	"github.com/jayasuryajsk/lorikeet/internal/toolexec"
)

// Options configures a new Engine. Log, Memory, Extractor, and Logger are
// optional; a nil Memory/Extractor simply skips memory injection and
// extraction, matching spec §4.5's "when nil, recall runs keyword-only"
// posture extended to "when absent, skip memory entirely".
type Options struct {
	Provider         llmclient.Provider
	Model            string
	Executor         *toolexec.Executor
	Policy           *sandbox.Policy
	Bus              *eventbus.Bus
	Log              *sessionlog.Store
	Memory           *memstore.Store
	Extractor        *memstore.Extractor
	ToolNames        []string // nil = every tool llmclient knows about
	ReasoningEffort  string
	ExtractOnTurnEnd bool
	Logger           *slog.Logger
}

// Engine is the Turn Engine state machine from spec §4.7. One Engine owns
// one session's transcript and tool-invocation history; it is the single
// mutable-state owner the event bus delivers to.
type Engine struct {
	mu sync.Mutex

	provider  llmclient.Provider
	model     string
	executor  *toolexec.Executor
	policy    *sandbox.Policy
	bus       *eventbus.Bus
	log       *sessionlog.Store
	memory    *memstore.Store
	extractor *memstore.Extractor
	toolNames []string
	effort    string
	extractTE bool
	logger    *slog.Logger

	state       State
	messages    []Message
	invocations []ToolInvocation
	turns       []Turn

	turnID          uint64
	nextToolGroupID uint64
	callIDToGroupID map[string]uint64
	failures        map[string]int
	recentFiles     []string

	cancel context.CancelFunc
}

// New constructs an idle Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:        opts.Provider,
		model:           opts.Model,
		executor:        opts.Executor,
		policy:          opts.Policy,
		bus:             opts.Bus,
		log:             opts.Log,
		memory:          opts.Memory,
		extractor:       opts.Extractor,
		toolNames:       opts.ToolNames,
		effort:          opts.ReasoningEffort,
		extractTE:       opts.ExtractOnTurnEnd,
		logger:          logger,
		state:           StateIdle,
		nextToolGroupID: 1,
		callIDToGroupID: make(map[string]uint64),
		failures:        make(map[string]int),
	}
}

// RestoreFromReplay seeds the engine from a replayed session file, per
// spec §4.6: the next turn/group id counters and the call→group mapping
// are restored so a resumed session keeps ids strictly increasing.
func (e *Engine) RestoreFromReplay(state sessionlog.ReplayState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.messages = make([]Message, 0, len(state.Messages))
	for _, m := range state.Messages {
		e.messages = append(e.messages, Message{
			Role:       llmclient.Role(m.Role),
			Content:    m.Content,
			Reasoning:  m.Reasoning,
			ToolCallID: m.ToolCallID,
			ToolCalls:  convertToolCallRefs(m.ToolCalls),
			TurnID:     m.TurnID,
		})
	}

	e.invocations = make([]ToolInvocation, 0, len(state.ToolInvocations))
	for _, t := range state.ToolInvocations {
		endTime := time.Time{}
		e.invocations = append(e.invocations, ToolInvocation{
			CallID:      t.CallID,
			Tool:        t.Tool,
			ArgsSummary: t.Target,
			TurnID:      t.TurnID,
			GroupID:     t.GroupID,
			Status:      InvocationStatus(t.Status),
			Output:      t.Output,
			EndTime:     &endTime,
		})
	}

	e.turnID = state.NextTurnID - 1
	e.nextToolGroupID = state.NextToolGroupID
	e.callIDToGroupID = state.CallIDToGroupID
	if e.callIDToGroupID == nil {
		e.callIDToGroupID = make(map[string]uint64)
	}
	for _, rf := range state.RecentFiles {
		e.recentFiles = append(e.recentFiles, rf.Path)
	}
}

// SeedSystemMessage appends a system-role message to the transcript
// (recording it to the session log too, so a resumed session replays it
// exactly once). Call it once, before the first Submit, to set the
// assistant's instructions; buildRequest injects recalled memory right
// after the first system message it finds.
func (e *Engine) SeedSystemMessage(content string) {
	if content == "" {
		return
	}
	m := Message{Role: llmclient.RoleSystem, Content: content}
	e.appendMessage(m)
	e.recordMessage(m)
}

func convertToolCallRefs(refs []sessionlog.ToolCallRef) []llmclient.ToolCall {
	if len(refs) == 0 {
		return nil
	}
	out := make([]llmclient.ToolCall, len(refs))
	for i, r := range refs {
		out[i] = llmclient.ToolCall{ID: r.ID, Name: r.Name, Arguments: r.Arguments}
	}
	return out
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Messages returns a snapshot copy of the transcript.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Message(nil), e.messages...)
}

// Invocations returns a snapshot copy of every tool invocation recorded
// so far, across all turns.
func (e *Engine) Invocations() []ToolInvocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ToolInvocation(nil), e.invocations...)
}

// Cancel cancels the context of the in-flight LLM stream, if any, which
// ends that stream early. It does not stop a tool call that is already
// running (tools run under the context passed to Submit), and it does not
// set the engine's state itself.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Submit drives one user turn: Idle --submit--> Awaiting LLM, then
// repeatedly Awaiting LLM <-> Awaiting Tools until the stream ends in a
// final assistant message (-> Idle) or the loop guard fires
// (-> Loop-Aborted). It blocks until the turn engine returns to one of
// those terminal states.
func (e *Engine) Submit(ctx context.Context, userMessage string) error {
	e.mu.Lock()
	if e.state != StateIdle && e.state != StateLoopAborted {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("turnengine: cannot submit a new message while in state %s", state)
	}
	e.turnID++
	turnID := e.turnID
	startIdx := len(e.invocations)
	e.turns = append(e.turns, Turn{TurnID: turnID, UserMessage: userMessage, StartIdxInTools: startIdx})
	e.state = StateAwaitingLLM
	e.mu.Unlock()

	userMsg := Message{Role: llmclient.RoleUser, Content: userMessage, TurnID: turnID}
	e.appendMessage(userMsg)
	e.recordMessage(userMsg)

	if e.extractor != nil {
		prevAssistant := e.lastAssistantContent()
		if err := e.extractor.OnUserMessage(ctx, userMessage, prevAssistant); err != nil {
			e.logger.Warn("memory extraction on user message failed", "error", err)
		}
	}

	return e.runTurn(ctx, turnID)
}

// runTurn repeatedly performs one LLM round, then (if tool calls were
// requested) one tool-dispatch round, until a terminal state is reached.
func (e *Engine) runTurn(ctx context.Context, turnID uint64) error {
	for {
		toolCalls, content, reasoning, streamErr := e.streamOnce(ctx, turnID)
		if streamErr != nil {
			e.bus.Send(eventbus.AgentError(streamErr.Error()))
			e.bus.Send(eventbus.AgentDone())
			e.setState(StateIdle)
			return streamErr
		}

		if len(toolCalls) == 0 {
			e.bus.Send(eventbus.AgentDone())
			asst := Message{Role: llmclient.RoleAssistant, Content: content, Reasoning: reasoning, TurnID: turnID}
			e.appendMessage(asst)
			e.recordMessage(asst)
			e.setState(StateIdle)
			if e.extractTE {
				e.runTurnEndExtraction(ctx, turnID, content)
			}
			return nil
		}

		e.setState(StateAwaitingTools)
		groupID := e.allocateGroupID(toolCalls)

		asst := Message{
			Role:      llmclient.RoleAssistant,
			Content:   content,
			Reasoning: reasoning,
			ToolCalls: toolCalls,
			TurnID:    turnID,
		}
		e.appendMessage(asst)
		e.recordMessage(asst)
		e.bus.Send(eventbus.AgentToolCalls(toRequests(toolCalls)))

		aborted := e.dispatchToolCalls(ctx, turnID, groupID, toolCalls)
		if aborted {
			return nil
		}
		e.setState(StateAwaitingLLM)
	}
}

// streamOnce assembles the per-call prompt (transcript + ephemeral memory
// injection), performs one streaming round, and returns the accumulated
// content/reasoning plus any requested tool calls.
func (e *Engine) streamOnce(ctx context.Context, turnID uint64) (toolCalls []llmclient.ToolCall, content, reasoning string, err error) {
	req, err := e.buildRequest(ctx)
	if err != nil {
		return nil, "", "", err
	}

	roundCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}()

	stream, err := e.provider.Stream(roundCtx, req)
	if err != nil {
		return nil, "", "", fmt.Errorf("llm stream: %w", err)
	}
	defer stream.Close()

	var contentBuilder, reasoningBuilder strings.Builder
	for {
		ev, recvErr := stream.Recv()
		if recvErr != nil {
			break
		}
		switch ev.Kind {
		case llmclient.EventAgentChunk:
			contentBuilder.WriteString(ev.Text)
			e.bus.Send(eventbus.AgentChunk(ev.Text))
		case llmclient.EventAgentReasoning:
			reasoningBuilder.WriteString(ev.Text)
			e.bus.Send(eventbus.AgentReasoning(ev.Text))
		case llmclient.EventAgentToolCalls:
			toolCalls = ev.ToolCalls
		case llmclient.EventAgentError:
			if ev.Err != nil {
				return nil, "", "", ev.Err
			}
		case llmclient.EventAgentDone:
		}
	}

	return toolCalls, contentBuilder.String(), reasoningBuilder.String(), nil
}

// buildRequest snapshots the transcript (minus anything the engine itself
// never persists, since memory injection never touches e.messages),
// optionally prepends the memory injection block right after the first
// system message, and returns the request to send upstream.
func (e *Engine) buildRequest(ctx context.Context) (llmclient.Request, error) {
	e.mu.Lock()
	snapshot := append([]Message(nil), e.messages...)
	lastUser := lastUserContent(snapshot)
	activePaths := append([]string(nil), e.recentFiles...)
	e.mu.Unlock()

	msgs := make([]llmclient.Message, 0, len(snapshot)+1)

	injected := ""
	if e.memory != nil {
		block, err := e.memory.BuildInjectionContext(ctx, lastUser, activePaths)
		if err != nil {
			e.logger.Warn("memory injection failed", "error", err)
		} else {
			injected = block
		}
	}

	insertedInjection := false
	for _, m := range snapshot {
		msgs = append(msgs, llmclient.Message{
			Role:       m.Role,
			Content:    m.Content,
			Reasoning:  m.Reasoning,
			ToolCallID: m.ToolCallID,
			ToolCalls:  m.ToolCalls,
		})
		if !insertedInjection && injected != "" && m.Role == llmclient.RoleSystem {
			msgs = append(msgs, llmclient.Message{Role: llmclient.RoleSystem, Content: injected})
			insertedInjection = true
		}
	}
	if !insertedInjection && injected != "" {
		msgs = append([]llmclient.Message{{Role: llmclient.RoleSystem, Content: injected}}, msgs...)
	}

	return llmclient.Request{
		Model:           e.model,
		Messages:        msgs,
		Tools:           llmclient.FilterToolSpecs(e.toolNames),
		ToolChoice:      llmclient.ToolChoiceAuto,
		ReasoningEffort: e.effort,
	}, nil
}

// dispatchToolCalls runs every requested tool call through the executor,
// appends one tool-result message per call, records each completed
// invocation to the session log, and applies the loop guard. It returns
// true if the loop guard fired (engine is now Loop-Aborted).
func (e *Engine) dispatchToolCalls(ctx context.Context, turnID, groupID uint64, calls []llmclient.ToolCall) bool {
	results := make([]eventbus.ToolResult, 0, len(calls))
	var abortTool, abortTarget string
	aborted := false

	for _, call := range calls {
		target := targetFor(call.Name, call.Arguments)
		summary := summarizeArgs(call.Name, call.Arguments)
		start := time.Now()

		inv := ToolInvocation{
			CallID:      call.ID,
			Tool:        call.Name,
			ArgsRaw:     call.Arguments,
			ArgsSummary: summary,
			TurnID:      turnID,
			GroupID:     groupID,
			Status:      StatusRunning,
			StartTime:   start,
			Buffer:      toolexec.NewOutputBuffer(),
		}
		e.mu.Lock()
		e.invocations = append(e.invocations, inv)
		idx := len(e.invocations) - 1
		e.mu.Unlock()

		result, success := e.executor.Execute(ctx, call.Name, call.Arguments, call.ID)

		end := time.Now()
		status := StatusSuccess
		if !success {
			status = StatusError
		}
		e.mu.Lock()
		e.invocations[idx].Status = status
		e.invocations[idx].EndTime = &end
		e.invocations[idx].Output = result
		e.mu.Unlock()

		e.recordTool(sessionlog.ToolEvent{
			Tool:      call.Name,
			Target:    target,
			Output:    result,
			Status:    sessionlog.ToolStatus(status),
			ElapsedMs: end.Sub(start).Milliseconds(),
			CallID:    call.ID,
		})

		if success {
			e.trackRecentFile(call.Name, target)
		} else {
			if e.extractor != nil {
				if err := e.extractor.OnToolFailure(ctx, call.Name, target, result); err != nil {
					e.logger.Warn("memory extraction on tool failure failed", "error", err)
				}
			}
			key := failureKey(turnID, call.Name, target)
			e.mu.Lock()
			e.failures[key]++
			count := e.failures[key]
			e.mu.Unlock()
			if count >= loopGuardThreshold {
				aborted = true
				abortTool, abortTarget = call.Name, target
			}
		}

		status2 := "success"
		if !success {
			status2 = "error"
		}
		results = append(results, eventbus.ToolResult{CallID: call.ID, Output: result, Status: status2})

		resultMsg := Message{Role: llmclient.RoleTool, Content: result, ToolCallID: call.ID, TurnID: turnID}
		e.appendMessage(resultMsg)
		e.recordMessage(resultMsg)
	}

	e.bus.Send(eventbus.ToolResultsReady(results))

	if aborted {
		abortMsg := fmt.Sprintf("Tool loop detected: `%s` kept failing on %s", abortTool, abortTarget)
		msg := Message{Role: llmclient.RoleAssistant, Content: abortMsg, TurnID: turnID}
		e.appendMessage(msg)
		e.recordMessage(msg)
		e.setState(StateLoopAborted)
		return true
	}
	return false
}

func (e *Engine) allocateGroupID(calls []llmclient.ToolCall) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	groupID := e.nextToolGroupID
	e.nextToolGroupID++
	for _, c := range calls {
		e.callIDToGroupID[c.ID] = groupID
	}
	if len(e.turns) > 0 {
		last := &e.turns[len(e.turns)-1]
		last.ToolGroupIDs = append(last.ToolGroupIDs, groupID)
	}
	return groupID
}

func (e *Engine) trackRecentFile(tool, target string) {
	switch tool {
	case "read_file", "write_file", "edit_file":
	default:
		return
	}
	if target == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	filtered := e.recentFiles[:0]
	for _, f := range e.recentFiles {
		if !strings.EqualFold(f, target) {
			filtered = append(filtered, f)
		}
	}
	e.recentFiles = append([]string{target}, filtered...)
}

func (e *Engine) appendMessage(m Message) {
	e.mu.Lock()
	e.messages = append(e.messages, m)
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) recordMessage(m Message) {
	if e.log == nil {
		return
	}
	refs := make([]sessionlog.ToolCallRef, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		refs[i] = sessionlog.ToolCallRef{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	if err := e.log.RecordMessage(sessionlog.MessageEvent{
		Role:       sessionlog.Role(m.Role),
		Content:    m.Content,
		Reasoning:  m.Reasoning,
		ToolCallID: m.ToolCallID,
		ToolCalls:  refs,
	}); err != nil {
		e.logger.Warn("session log: record message failed", "error", err)
	}
}

func (e *Engine) recordTool(t sessionlog.ToolEvent) {
	if e.log == nil {
		return
	}
	if err := e.log.RecordTool(t); err != nil {
		e.logger.Warn("session log: record tool failed", "error", err)
	}
}

func (e *Engine) lastAssistantContent() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.messages) - 1; i >= 0; i-- {
		if e.messages[i].Role == llmclient.RoleAssistant {
			return e.messages[i].Content
		}
	}
	return ""
}

func lastUserContent(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llmclient.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func toRequests(calls []llmclient.ToolCall) []eventbus.ToolCallRequest {
	out := make([]eventbus.ToolCallRequest, len(calls))
	for i, c := range calls {
		out[i] = eventbus.ToolCallRequest{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

// runTurnEndExtraction packages the turn into a plain-text summary, asks
// the non-streaming LLM helper to extract durable memories, and persists
// the ones that clear the confidence/importance bar, per spec §4.5. It is
// best-effort: any failure is logged, never surfaced to the turn result.
func (e *Engine) runTurnEndExtraction(ctx context.Context, turnID uint64, assistantResponse string) {
	if e.provider == nil || e.extractor == nil {
		return
	}
	summary := e.buildTurnSummary(turnID, assistantResponse)

	resp, err := e.provider.Complete(ctx, llmclient.Request{
		Model: e.model,
		Messages: []llmclient.Message{
			{Role: llmclient.RoleSystem, Content: memstore.TurnEndExtractionPrompt},
			{Role: llmclient.RoleUser, Content: summary},
		},
	})
	if err != nil {
		e.logger.Warn("turn-end extraction call failed", "error", err)
		return
	}

	candidates, err := parseExtractedMemories(resp)
	if err != nil {
		e.logger.Warn("turn-end extraction parse failed", "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}
	if stored, err := e.extractor.PersistExtracted(ctx, candidates); err != nil {
		e.logger.Warn("turn-end extraction persist failed", "error", err)
	} else {
		e.logger.Debug("turn-end extraction stored memories", "count", stored)
	}
}

func (e *Engine) buildTurnSummary(turnID uint64, assistantResponse string) string {
	e.mu.Lock()
	var userMessage string
	var turnInvocations []ToolInvocation
	for _, t := range e.turns {
		if t.TurnID == turnID {
			userMessage = t.UserMessage
		}
	}
	for _, inv := range e.invocations {
		if inv.TurnID == turnID {
			turnInvocations = append(turnInvocations, inv)
		}
	}
	e.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("## User Message\n")
	sb.WriteString(strings.TrimSpace(userMessage))
	sb.WriteString("\n\n")

	if len(turnInvocations) > 0 {
		sb.WriteString("## Tool Calls\n")
		for _, inv := range turnInvocations {
			sb.WriteString(fmt.Sprintf("- %s (%s) %s\n", inv.Tool, strings.ToUpper(string(inv.Status)), truncate(inv.ArgsSummary, 140)))
			if first := firstLine(inv.Output); first != "" {
				sb.WriteString(fmt.Sprintf("  Output: %s\n", truncate(first, 180)))
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Agent Response\n")
	sb.WriteString(strings.TrimSpace(assistantResponse))
	return sb.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// parseExtractedMemories scans resp for the first balanced {...} object
// and decodes it as {memories: [...]}, per spec §4.5's "parse the first
// JSON object from the response".
func parseExtractedMemories(resp string) ([]memstore.ExtractedMemory, error) {
	start := strings.IndexByte(resp, '{')
	if start < 0 {
		return nil, nil
	}
	depth := 0
	end := -1
	for i := start; i < len(resp); i++ {
		switch resp[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("no balanced JSON object found")
	}

	var payload struct {
		Memories []memstore.ExtractedMemory `json:"memories"`
	}
	if err := json.Unmarshal([]byte(resp[start:end+1]), &payload); err != nil {
		return nil, err
	}
	return payload.Memories, nil
}
