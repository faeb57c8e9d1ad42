package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jayasuryajsk/lorikeet/internal/config"
	"github.com/jayasuryajsk/lorikeet/internal/embedding"
	"github.com/jayasuryajsk/lorikeet/internal/eventbus"
	"github.com/jayasuryajsk/lorikeet/internal/lsp"
	"github.com/jayasuryajsk/lorikeet/internal/mcp"
	"github.com/jayasuryajsk/lorikeet/internal/memstore"
	"github.com/jayasuryajsk/lorikeet/internal/sandbox"
	"github.com/jayasuryajsk/lorikeet/internal/semindex"
	"github.com/jayasuryajsk/lorikeet/internal/sessionlog"
	"github.com/jayasuryajsk/lorikeet/internal/llmclient"
	"github.com/jayasuryajsk/lorikeet/internal/toolexec"
	"github.com/jayasuryajsk/lorikeet/internal/turnengine"
)

// newEngineProvider builds the llmclient.Provider for the active provider
// config, resolving lazy credentials first. Only provider types speaking
// one of the two wire dialects llmclient understands (Chat Completions or
// Responses) are supported; anything else is a clear error rather than a
// silently-wrong request shape.
func newEngineProvider(cfg *config.Config) (llmclient.Provider, string, error) {
	pc := cfg.GetActiveProviderConfig()
	if pc == nil {
		return nil, "", fmt.Errorf("no provider configured for %q; run 'term-llm config edit'", cfg.DefaultProvider)
	}
	if err := pc.ResolveForInference(); err != nil {
		return nil, "", fmt.Errorf("resolve provider credentials: %w", err)
	}

	apiKey := pc.ResolvedAPIKey
	if apiKey == "" {
		apiKey = pc.APIKey
	}
	baseURL := pc.ResolvedURL
	if baseURL == "" {
		baseURL = pc.BaseURL
	}
	model := pc.Model
	providerType := config.InferProviderType(cfg.DefaultProvider, pc.Type)

	switch providerType {
	case config.ProviderTypeOpenAI, config.ProviderTypeChatGPT:
		return llmclient.NewResponsesProvider(cfg.DefaultProvider, baseURL, apiKey, model, nil), model, nil
	case config.ProviderTypeZen, config.ProviderTypeOpenRouter, config.ProviderTypeXAI,
		config.ProviderTypeVenice, config.ProviderTypeOpenAICompat:
		return llmclient.NewChatCompletionsProvider(cfg.DefaultProvider, baseURL, apiKey, model), model, nil
	default:
		return nil, "", fmt.Errorf("provider type %q speaks neither wire dialect the turn engine understands yet (chat_completions or responses)", providerType)
	}
}

// storeEmbedder adapts internal/embedding's batch-request EmbeddingProvider
// to memstore's minimal Embed(texts) shape.
type storeEmbedder struct {
	provider embedding.EmbeddingProvider
}

// allCanonicalToolNames lists every tool the turn engine knows about, for
// callers that want the sandbox to allow the full surface by default.
func allCanonicalToolNames() []string {
	names := make([]string, len(llmclient.CanonicalToolSpecs))
	for i, spec := range llmclient.CanonicalToolSpecs {
		names[i] = spec.Name
	}
	return names
}

func (s storeEmbedder) Embed(texts []string) ([][]float64, error) {
	result, err := s.provider.Embed(embedding.EmbedRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	vectors := make([][]float64, len(texts))
	for _, e := range result.Embeddings {
		if e.Index >= 0 && e.Index < len(vectors) {
			vectors[e.Index] = e.Vector
		}
	}
	return vectors, nil
}

// engineStack bundles every collaborator a turnengine.Engine needs, so
// chat/ask/index commands can build one consistently and close it down
// the same way.
type engineStack struct {
	Policy   *sandbox.Policy
	Bus      *eventbus.Bus
	Executor *toolexec.Executor
	Log      *sessionlog.Store
	Memory   *memstore.Store
	SemIndex *semindex.Engine
	LSP      *lsp.Manager
	MCP      *mcp.Manager
	Engine   *turnengine.Engine
}

func (s *engineStack) Close() {
	if s.MCP != nil {
		s.MCP.StopAll()
	}
	if s.LSP != nil {
		s.LSP.CloseAll()
	}
	if s.Memory != nil {
		s.Memory.Close()
	}
	if s.Log != nil {
		s.Log.Close()
	}
}

// attachMCP loads the user's MCP config, enables every configured server
// (best-effort: a server that fails to start is skipped), and wires the
// resulting manager into executor so "servername__toolname" calls route
// to it. Server startup is asynchronous, so a tool call arriving before a
// server reaches StatusReady simply reports that server as not running.
//
// MCP tool names are only known once a server reports its tool list, so
// they can't be folded into allowTools at policy-construction time.
// Passing one explicitly via --tools lets the sandbox allow calls to it,
// but the model is only sent specs from llmclient.CanonicalToolSpecs, so
// no MCP tool spec is advertised to it.
func attachMCP(ctx context.Context, executor *toolexec.Executor) *mcp.Manager {
	m := mcp.NewManager()
	if err := m.LoadConfig(); err != nil {
		return m
	}
	for _, name := range m.AvailableServers() {
		_ = m.Enable(ctx, name)
	}
	executor.MCP = m
	return m
}

// buildEngineStack wires a turnengine.Engine against the workspace at
// root, using cfg's sandbox/tool settings. An empty resumeSessionID starts
// a fresh session file. A non-empty one replays that session's log into
// the engine (failing if the log cannot be loaded) and records the
// continued conversation in a new session file with a fresh id; the
// replayed history is not copied into the new file.
func buildEngineStack(cfg *config.Config, root, systemMessage, resumeSessionID string, allowTools []string) (*engineStack, error) {
	provider, model, err := newEngineProvider(cfg)
	if err != nil {
		return nil, err
	}

	sandboxCfg := sandbox.Config{
		Root:       root,
		AllowPaths: append(append([]string{}, cfg.Tools.ReadDirs...), cfg.Tools.WriteDirs...),
	}
	policy := sandbox.FromConfig(sandboxCfg, root, allowTools)

	bus := eventbus.New(256)
	executor := toolexec.New(policy, bus)
	executor.WorkspaceRoot = root
	executor.ProjectID = sessionlog.ProjectHash(root)

	configDir, err := config.GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config directory: %w", err)
	}

	var log *sessionlog.Store
	if resumeSessionID != "" {
		dir, err := sessionlog.SessionsDir(configDir, root)
		if err != nil {
			return nil, err
		}
		events, err := sessionlog.LoadEvents(filepath.Join(dir, resumeSessionID+".jsonl"))
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", resumeSessionID, err)
		}
		log, err = sessionlog.InitFile(configDir, root, "")
		if err != nil {
			return nil, err
		}
		replay := sessionlog.Replay(events)
		stack := &engineStack{Policy: policy, Bus: bus, Executor: executor, Log: log}
		finishEngineStack(stack, cfg, provider, model, root, configDir, executor)
		stack.Engine.RestoreFromReplay(replay)
		return stack, nil
	}

	log, err = sessionlog.InitFile(configDir, root, "")
	if err != nil {
		return nil, err
	}
	stack := &engineStack{Policy: policy, Bus: bus, Executor: executor, Log: log}
	finishEngineStack(stack, cfg, provider, model, root, configDir, executor)
	stack.Engine.SeedSystemMessage(systemMessage)
	return stack, nil
}

// finishEngineStack wires the memory/semindex/lsp collaborators into
// executor and constructs the turnengine.Engine, shared by the fresh and
// resume paths above. The resume path restores its transcript (including
// any prior system message) via RestoreFromReplay instead.
func finishEngineStack(stack *engineStack, cfg *config.Config, provider llmclient.Provider, model, root, configDir string, executor *toolexec.Executor) {
	memPath := filepath.Join(configDir, "memory", sessionlog.ProjectHash(root)+".db")
	var memory *memstore.Store
	var extractor *memstore.Extractor
	if embedder, err := embedding.NewEmbeddingProvider(cfg, ""); err == nil {
		if m, err := memstore.Open(memPath, storeEmbedder{provider: embedder}); err == nil {
			memory = m
			extractor = memstore.NewExtractor(m, sessionlog.ProjectHash(root))
		}
		indexDir := filepath.Join(configDir, "semindex", sessionlog.ProjectHash(root))
		if sem, err := semindex.NewEngine(embedder, 0, semindex.DefaultConfig(indexDir)); err == nil {
			sem.SetRoot(root)
			executor.SemIndex = sem
			stack.SemIndex = sem
		}
	}
	executor.Memory = memory
	stack.Memory = memory
	stack.LSP = lsp.NewManager()
	executor.LSP = stack.LSP
	stack.MCP = attachMCP(context.Background(), executor)

	stack.Engine = turnengine.New(turnengine.Options{
		Provider:         provider,
		Model:            model,
		Executor:         executor,
		Policy:           stack.Policy,
		Bus:              stack.Bus,
		Log:              stack.Log,
		Memory:           memory,
		Extractor:        extractor,
		ExtractOnTurnEnd: true,
	})
}
