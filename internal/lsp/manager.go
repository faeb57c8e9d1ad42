package lsp

import (
	"context"
	"sync"
)

// Manager caches one running Client per (root, language) pair so repeated
// lsp tool calls within a session reuse the same server process instead of
// restarting it, mirroring the original's LspManager.
type Manager struct {
	mu      sync.Mutex
	clients map[managerKey]*Client
}

type managerKey struct {
	root string
	lang Language
}

// NewManager returns an empty client cache.
func NewManager() *Manager {
	return &Manager{clients: make(map[managerKey]*Client)}
}

// GetOrStart returns the cached client for (lang, root), starting a new
// server process if none exists yet.
func (m *Manager) GetOrStart(ctx context.Context, lang Language, root string) (*Client, error) {
	key := managerKey{root: root, lang: lang}

	m.mu.Lock()
	if c, ok := m.clients[key]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	c, err := Start(ctx, lang, root)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.clients[key]; ok {
		m.mu.Unlock()
		c.Close()
		return existing, nil
	}
	m.clients[key] = c
	m.mu.Unlock()
	return c, nil
}

// CloseAll terminates every cached server process.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.clients {
		c.Close()
		delete(m.clients, k)
	}
}
