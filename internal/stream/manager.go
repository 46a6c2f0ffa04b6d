// Package stream tracks the lifecycle of the encoder/mux programs a
// prismenc process is currently running, providing the create/remove/
// list operations cmd/prismenc's HTTP control surface lists them
// through. One Program wraps one running pipeline.Graph; the package
// itself has no opinion on what a Graph does, only on bookkeeping which
// ones are alive under which name.
package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/prismenc/pipeline"
)

// Program is one named, currently-running pipeline.Graph.
type Program struct {
	Key       string
	StartedAt time.Time
	Graph     *pipeline.Graph
	done      chan struct{}
}

// Manager manages the lifecycle of active programs.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	programs map[string]*Program
}

// NewManager creates a new program manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "program-manager"),
		programs: make(map[string]*Program),
	}
}

// Create registers a new program bound to g. Returns the program and
// true if created, or nil and false if a program with this key already
// exists.
func (m *Manager) Create(key string, g *pipeline.Graph) (*Program, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.programs[key]; ok {
		m.log.Warn("program already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	p := &Program{
		Key:       key,
		StartedAt: time.Now(),
		Graph:     g,
		done:      make(chan struct{}),
	}

	m.programs[key] = p
	m.log.Info("program created", "key", key)
	return p, true
}

// Remove removes a program from the manager.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	p, ok := m.programs[key]
	if ok {
		delete(m.programs, key)
	}
	m.mu.Unlock()

	if ok {
		close(p.done)
		m.log.Info("program removed", "key", key)
	}
}

// List returns every active program.
func (m *Manager) List() []*Program {
	m.mu.RLock()
	defer m.mu.RUnlock()

	programs := make([]*Program, 0, len(m.programs))
	for _, p := range m.programs {
		programs = append(programs, p)
	}
	return programs
}
