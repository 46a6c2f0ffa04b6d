// Package smoothing implements the encoder-smoothing stage: a
// per-output-stream VBV-paced gate between the video encoder and the
// mux, present only in generic (non-low-latency) system mode. It
// holds coded video frames the encoder produced faster than real time
// and releases them once the codec's virtual VBV occupancy has decayed
// back under the configured buffer duration, so the mux never sees a
// burst the codec's own ratecontrol model did not anticipate.
package smoothing

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/prismenc/avclock"
	"github.com/zsiec/prismenc/frame"
	"github.com/zsiec/prismenc/queue"
)

// Config configures one smoothing.Stage.
type Config struct {
	OutputStreamID string
	FrameRate      frame.Rational // one coded frame's nominal duration
	BitrateKbps    int64
	VBVBufKbps     int64 // 0 disables pacing: every frame releases immediately

	Log *slog.Logger
}

// Stage paces one output stream's coded video frames.
//
// heldTicks models the codec's virtual VBV occupancy: it grows by one
// frame's duration on every enqueue and decays continuously at the
// wall-clock rate (cumulative frame-duration sum minus elapsed wall
// time), floored at zero. A frame at the head of the
// pending list releases once heldTicks, after decay, sits below the
// configured VBV buffer duration.
type Stage struct {
	cfg            Config
	in             *queue.Queue[*frame.Coded]
	out            *queue.Queue[*frame.Coded]
	log            *slog.Logger
	frameDurTicks  int64
	vbvBufDurTicks int64
	now            func() time.Time

	mu        sync.Mutex
	pending   []*frame.Coded
	heldTicks int64
	lastEval  time.Time

	framesIn  atomic.Int64
	framesOut atomic.Int64
}

// New constructs a Stage. in and out are already-configured queues.
func New(cfg Config, in, out *queue.Queue[*frame.Coded]) *Stage {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Stage{
		cfg: cfg,
		in:  in,
		out: out,
		log: cfg.Log.With("component", "enc-smoothing", "stream", cfg.OutputStreamID),
		now: time.Now,
	}
	if cfg.FrameRate.Num > 0 {
		s.frameDurTicks = avclock.HZ27M * int64(cfg.FrameRate.Den) / int64(cfg.FrameRate.Num)
	}
	if cfg.BitrateKbps > 0 {
		s.vbvBufDurTicks = cfg.VBVBufKbps * avclock.HZ27M / cfg.BitrateKbps
	}
	return s
}

// Stats reports the stage's frame counters.
type Stats struct {
	FramesIn  int64
	FramesOut int64
}

// Stats returns a snapshot of the stage's counters.
func (s *Stage) Stats() Stats {
	return Stats{FramesIn: s.framesIn.Load(), FramesOut: s.framesOut.Load()}
}

// ResetFill zeroes the virtual VBV occupancy estimate: on a frame-drop
// event from the input stage, this resets the fill estimate to zero to
// avoid locking speedcontrol in an underflow state.
func (s *Stage) ResetFill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heldTicks = 0
}

// Run pops coded frames until the input queue is canceled, releasing
// each downstream once the VBV pacing gate admits it, then drains any
// still-held frames before returning. On return it cancels its own
// output queue; that queue is typically shared by several output
// streams' smoothing stages feeding one mux, so the mux sees it
// canceled as soon as the first one exits — acceptable since every
// stage shuts down around the same moment, not staggered.
func (s *Stage) Run(ctx context.Context) error {
	defer s.out.Cancel()
	for {
		c, ok := s.in.Pop()
		if !ok {
			s.drain()
			return nil
		}
		s.framesIn.Add(1)
		s.enqueue(c)
	}
}

func (s *Stage) enqueue(c *frame.Coded) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.lastEval.IsZero() {
		s.lastEval = now
	}
	s.decay(now)
	s.heldTicks += s.frameDurTicks
	s.pending = append(s.pending, c)
	s.release()
}

// decay must be called with s.mu held. It reduces heldTicks by however
// many ticks of wall-clock time elapsed since the last evaluation,
// floored at zero, and advances lastEval to now.
func (s *Stage) decay(now time.Time) {
	elapsed := ticksElapsed(now.Sub(s.lastEval))
	s.heldTicks -= elapsed
	if s.heldTicks < 0 {
		s.heldTicks = 0
	}
	s.lastEval = now
}

// release must be called with s.mu held. It pops and forwards pending
// frames while the VBV gate admits them. vbvBufDurTicks <= 0 (no
// bitrate/VBV configured) disables pacing entirely.
func (s *Stage) release() {
	for len(s.pending) > 0 {
		if s.vbvBufDurTicks > 0 && s.heldTicks >= s.vbvBufDurTicks {
			break
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		if s.out.Push(next) {
			s.framesOut.Add(1)
		}
	}
}

// drain flushes every still-held frame on shutdown: each stage on
// cancel drains its input queue, freeing frames, before returning —
// applied here to the stage's own local backlog rather than a
// queue.Queue, since the held frames already left the input queue.
func (s *Stage) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.pending {
		if s.out.Push(c) {
			s.framesOut.Add(1)
		}
	}
	s.pending = nil
	s.heldTicks = 0
}

func ticksElapsed(d time.Duration) int64 {
	return int64(d) * avclock.HZ27M / int64(time.Second)
}
