// Package smoothing implements the mux-smoothing stage: a small FIFO
// between the mux stage and the per-destination output stage that holds
// muxed tsmux.Buffer values and releases each
// once the shared mux clock (the audio-pts-derived software clock the
// input stage advances once per audio frame) reaches the PCR it carries,
// absorbing whatever jitter the mux stage's own production rate has.
// Its target/alert depth is sized by trim_ms, clamped to [0, 2000].
package smoothing

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/prismenc/avclock"
	"github.com/zsiec/prismenc/queue"
	"github.com/zsiec/prismenc/tsmux"
)

// Config configures one Stage.
type Config struct {
	// TrimMS sizes the FIFO's target depth in milliseconds of buffered
	// PCR lead time; New clamps it to [0, 2000]. A backlog deeper than
	// this raises the latency-alert counter but is never itself dropped
	// — only the drop_early guard upstream in mux.Stage discards frames.
	TrimMS int

	// MuxClock is the shared software clock the input stage advances
	// once per audio frame. Nil disables pacing: every buffer is
	// released as soon as it is popped.
	MuxClock *avclock.MuxClock

	Log *slog.Logger
}

// Stage is the mux-smoothing FIFO. Construct with New.
type Stage struct {
	cfg       Config
	in        *queue.Queue[*tsmux.Buffer]
	out       *queue.Queue[*tsmux.Buffer]
	trimTicks int64
	log       *slog.Logger

	mu      sync.Mutex
	pending []*tsmux.Buffer

	framesIn      atomic.Int64
	framesOut     atomic.Int64
	latencyAlerts atomic.Int64
}

// New constructs a Stage.
func New(cfg Config, in, out *queue.Queue[*tsmux.Buffer]) *Stage {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.TrimMS < 0 {
		cfg.TrimMS = 0
	}
	if cfg.TrimMS > 2000 {
		cfg.TrimMS = 2000
	}
	return &Stage{
		cfg:       cfg,
		in:        in,
		out:       out,
		trimTicks: int64(cfg.TrimMS) * (avclock.HZ27M / 1000),
		log:       cfg.Log.With("component", "mux-smoothing"),
	}
}

// Stats reports the stage's frame and alert counters.
type Stats struct {
	FramesIn      int64
	FramesOut     int64
	LatencyAlerts int64
}

// Stats returns a snapshot of the stage's counters.
func (s *Stage) Stats() Stats {
	return Stats{
		FramesIn:      s.framesIn.Load(),
		FramesOut:     s.framesOut.Load(),
		LatencyAlerts: s.latencyAlerts.Load(),
	}
}

// Run pops muxed buffers until the input queue is canceled, releasing
// each once the mux clock reaches its PCR, then drains whatever is
// still held before returning. On return it cancels its own output
// queue, cascading the shutdown drain to every per-destination
// output.Stage reading from it.
func (s *Stage) Run(ctx context.Context) error {
	defer s.out.Cancel()
	for {
		buf, ok := s.in.Pop()
		if !ok {
			s.drain()
			return nil
		}
		s.framesIn.Add(1)
		s.enqueue(buf)
	}
}

func (s *Stage) enqueue(buf *tsmux.Buffer) {
	s.mu.Lock()
	s.pending = append(s.pending, buf)
	lag := s.lagTicksLocked()
	s.mu.Unlock()

	if s.trimTicks > 0 && lag > s.trimTicks {
		s.latencyAlerts.Add(1)
		s.log.Warn("mux-smoothing FIFO depth past alert threshold", "lag_ticks", lag)
	}
	s.release()
}

// lagTicksLocked must be called with s.mu held. It reports how far the
// last PCR-bearing pending buffer sits ahead of the current mux clock,
// the FIFO's effective depth expressed in time rather than item count.
func (s *Stage) lagTicksLocked() int64 {
	if s.cfg.MuxClock == nil {
		return 0
	}
	for i := len(s.pending) - 1; i >= 0; i-- {
		if due, ok := dueTick(s.pending[i]); ok {
			return due - s.cfg.MuxClock.Value()
		}
	}
	return 0
}

// release pops and forwards every pending buffer whose due PCR (if any)
// the mux clock has already reached, in FIFO order.
func (s *Stage) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) > 0 {
		head := s.pending[0]
		if s.cfg.MuxClock != nil {
			if due, ok := dueTick(head); ok && s.cfg.MuxClock.Value() < due {
				break
			}
		}
		s.pending = s.pending[1:]
		if s.out.Push(head) {
			s.framesOut.Add(1)
		}
	}
}

// dueTick reports a buffer's earliest carried PCR, the tick the mux
// clock must reach before it may be released. A buffer with no PCR
// (audio-only or metadata-only) has no due tick and releases as soon as
// it reaches the head of the FIFO.
func dueTick(buf *tsmux.Buffer) (int64, bool) {
	if len(buf.PCRs27M) == 0 {
		return 0, false
	}
	return buf.PCRs27M[0], true
}

// drain flushes every still-held buffer on shutdown.
func (s *Stage) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, buf := range s.pending {
		if s.out.Push(buf) {
			s.framesOut.Add(1)
		}
	}
	s.pending = nil
}
