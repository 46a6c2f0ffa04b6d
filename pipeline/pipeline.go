// Package pipeline wires every stage and queue for one program into one
// running, cancelable unit: it owns cancellation and shutdown ordering
// but not the stages or queues themselves, which are built and
// connected by the caller (cmd/prismenc) and only registered here.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Stage is the shape every stage package in this module implements:
// input.Stage, encoder.Stage, encoder/smoothing.Stage, mux.Stage,
// mux/smoothing.Stage, output.Stage (or output.FanOut feeding several of
// the latter).
type Stage interface {
	Run(ctx context.Context) error
}

// Tier names, fixed to the shutdown join order. Filter application runs
// inline inside the input tier rather than as its own goroutine, so a
// conceptual "filters" stage collapses into TierInput here.
const (
	TierOutput       = "output"
	TierMuxSmoothing = "mux-smoothing"
	TierMux          = "mux"
	TierEncoder      = "encoder"
	TierInput        = "input"
)

// joinOrder joins stages leaves-first (outputs -> smoothing -> mux ->
// encoders -> filters -> inputs), collapsed to this program's five
// registrable tiers.
var joinOrder = []string{TierOutput, TierMuxSmoothing, TierMux, TierEncoder, TierInput}

type stageEntry struct {
	name  string
	stage Stage
}

// Graph holds every stage and queue for one running program.
type Graph struct {
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	tiers map[string][]stageEntry

	running map[string]*sync.WaitGroup

	errMu sync.Mutex
	errs  []error
}

// New constructs an empty Graph. Register stages with AddStage before
// calling Run.
func New(log *slog.Logger) *Graph {
	if log == nil {
		log = slog.Default()
	}
	return &Graph{
		log:   log.With("component", "pipeline"),
		tiers: make(map[string][]stageEntry),
	}
}

// AddStage registers one stage under the named tier (one of the Tier*
// constants). Stages within and across tiers all run concurrently; tier
// membership only governs Stop's join order.
func (g *Graph) AddStage(tier, name string, stage Stage) {
	g.tiers[tier] = append(g.tiers[tier], stageEntry{name: name, stage: stage})
}

// Run starts every registered stage's Run loop in its own goroutine
// against a context derived from ctx, and returns immediately. Call
// Shutdown to begin a graceful stop, then Stop to join every stage and
// collect any error it returned.
func (g *Graph) Run(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.running = make(map[string]*sync.WaitGroup, len(joinOrder))

	for _, tier := range joinOrder {
		wg := &sync.WaitGroup{}
		g.running[tier] = wg
		for _, entry := range g.tiers[tier] {
			wg.Add(1)
			go func(tier string, e stageEntry) {
				defer wg.Done()
				if err := e.stage.Run(g.ctx); err != nil {
					g.log.Error("stage exited with error", "tier", tier, "stage", e.name, "error", err)
					g.recordErr(fmt.Errorf("%s/%s: %w", tier, e.name, err))
				}
			}(tier, entry)
		}
	}
}

func (g *Graph) recordErr(err error) {
	g.errMu.Lock()
	g.errs = append(g.errs, err)
	g.errMu.Unlock()
}

// Shutdown begins a graceful stop by canceling the graph's context.
// input.Stage is the only stage that ever blocks without a canceled
// queue to wake it (it selects on capture.Source.Frames() and ctx.Done()
// directly), so canceling ctx is what starts the whole teardown: each
// input.Stage then cancels its own output queues on return, each
// encoder/mux/smoothing stage downstream does the same to the queue it
// alone produces into, and so on to the outputs. Shutdown does not cancel
// any queue itself — a queue is destroyed only after all of its
// producers have exited, so only a queue's own producer may cancel it,
// never an external caller, or an in-flight Push from that producer
// could race a cancel and silently drop an already-drained item.
func (g *Graph) Shutdown() {
	if g.cancel != nil {
		g.cancel()
	}
}

// Stop joins every tier in leaves-first order (outputs, then
// mux-smoothing, mux, encoders, inputs) and returns every error any
// stage's Run reported. Call Shutdown first; Stop blocks until every
// stage has returned.
func (g *Graph) Stop() []error {
	for _, tier := range joinOrder {
		if wg, ok := g.running[tier]; ok {
			wg.Wait()
		}
		g.log.Info("pipeline tier drained", "tier", tier)
	}
	return g.errs
}
