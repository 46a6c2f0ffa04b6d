// Package input implements the fan-out stage between capture.Source and
// the per-output-stream encoder queues: it runs the one video filter
// (in place) and however many audio filters a program's output streams
// need (each producing its own independently-owned derived frame, since
// frame.Raw has single-ownership semantics and an 8-channel PCM source
// may feed four different AC-3 downmixes), advances the shared mux clock
// once per audio frame, and detects loss-of-signal:
// on LOS it sets the drop-flags, optionally repeats the last good video
// frame up to a configured count with continuous PTS and muted audio,
// and clears on reacquire.
package input

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/prismenc/audiofilter"
	"github.com/zsiec/prismenc/avclock"
	"github.com/zsiec/prismenc/capture"
	"github.com/zsiec/prismenc/ctrl"
	"github.com/zsiec/prismenc/frame"
	"github.com/zsiec/prismenc/queue"
	"github.com/zsiec/prismenc/videofilter"
)

// VideoRoute feeds one video output stream's encoder input queue.
type VideoRoute struct {
	OutputStreamID string
	Filter         *videofilter.Filter
	Queue          *queue.Queue[*frame.Raw]

	// OnLOS, if set, is called once per loss-of-signal transition, so
	// the matching encoder-smoothing stage can reset its VBV fill
	// estimate.
	OnLOS func()
}

// AudioRoute feeds one audio output stream's encoder input queue. The
// same Filter is used for both PCM extraction (Run) and bitstream
// passthrough matching (MatchesBitstreamPair/ForwardBitstream); Stage
// picks the path per incoming frame's Kind.
type AudioRoute struct {
	OutputStreamID string
	Filter         *audiofilter.Filter
	Queue          *queue.Queue[*frame.Raw]

	// AudioOffsetTicks biases a forwarded bitstream frame's PTS, already
	// converted via avclock.MSToTicks from audio_offset_ms.
	AudioOffsetTicks int64
}

// Config configures one Stage: one physical capture source fanned out to
// however many output streams derive from it.
type Config struct {
	InputStreamID string

	VideoRoute  *VideoRoute
	AudioRoutes []AudioRoute

	// Origin establishes the program's PTS origin from the first raw
	// frame observed by any input.Stage feeding it.
	Origin *avclock.Origin

	// MuxClock is advanced once per audio frame, shared across every
	// stage feeding the same program.
	MuxClock *avclock.MuxClock

	// HalfDuplex applies the 1080i half-duplex correction; set only when
	// this source's capture.Capabilities reports HalfDuplex.
	HalfDuplex *avclock.HalfDuplexCorrection

	// DropFlags is Set on loss-of-signal and left for the consuming
	// stages to Clear on reacquire.
	DropFlags *ctrl.DropFlags

	// FrameIntervalTicks is one video frame's nominal duration in 27 MHz
	// ticks, used both as the repeated-frame PTS step and to derive the
	// default LOS watchdog timeout when LOSTimeout is zero.
	FrameIntervalTicks int64

	// LOSTimeout is how long Stage waits for a frame before declaring
	// loss-of-signal. Zero selects 3x the frame interval.
	LOSTimeout time.Duration

	Log *slog.Logger
}

// Stage runs one capture.Source and fans its frames out to Config's
// routes. Construct with New; Run drives it from a single goroutine.
type Stage struct {
	cfg Config
	src capture.Source
	log *slog.Logger

	losTimeout time.Duration

	framesIn        int64
	framesOut       int64
	injectedFrames  int64
	losEvents       int64
	inLOS           bool
	repeatsRemaining int64
	lastGoodVideo   *frame.Raw
	videoPTS27M     int64
}

// New constructs a Stage driving src.
func New(cfg Config, src capture.Source) *Stage {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	losTimeout := cfg.LOSTimeout
	if losTimeout <= 0 {
		if cfg.FrameIntervalTicks > 0 {
			losTimeout = 3 * time.Duration(cfg.FrameIntervalTicks) * time.Second / avclock.HZ27M
		} else {
			losTimeout = 500 * time.Millisecond
		}
	}
	return &Stage{
		cfg:        cfg,
		src:        src,
		log:        cfg.Log.With("component", "input", "stream", cfg.InputStreamID),
		losTimeout: losTimeout,
	}
}

// Stats reports the stage's frame counters.
type Stats struct {
	FramesIn       int64
	FramesOut      int64
	InjectedFrames int64
	LOSEvents      int64
}

// Stats returns a snapshot of the stage's counters. Not safe to call
// concurrently with Run; callers poll it from the same goroutine or
// after Run has returned, matching the rest of this codebase's
// lighter-weight Stage.Stats for stages without atomic counters.
func (s *Stage) Stats() Stats {
	return Stats{
		FramesIn:       s.framesIn,
		FramesOut:      s.framesOut,
		InjectedFrames: s.injectedFrames,
		LOSEvents:      s.losEvents,
	}
}

// Run pulls frames from the capture source until its channel closes or
// ctx is canceled, fanning each out to its routes. On return it cancels
// every route's queue, since this Stage is each queue's only producer,
// and a queue is drained and destroyed only after all of its producers
// have exited.
func (s *Stage) Run(ctx context.Context) error {
	defer s.cancelRoutes()

	timer := time.NewTimer(s.losTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			s.onLOSTick()
			timer.Reset(s.losTimeout)
		case r, ok := <-s.src.Frames():
			if !ok {
				return nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.losTimeout)
			s.onFrame(r)
		}
	}
}

func (s *Stage) cancelRoutes() {
	if s.cfg.VideoRoute != nil {
		s.cfg.VideoRoute.Queue.Cancel()
	}
	for _, rt := range s.cfg.AudioRoutes {
		rt.Queue.Cancel()
	}
}

// onFrame dispatches one observed frame, clearing any in-progress LOS
// state first.
func (s *Stage) onFrame(r *frame.Raw) {
	s.framesIn++
	if s.inLOS {
		s.inLOS = false
		s.repeatsRemaining = 0
		s.log.Info("signal reacquired")
	}

	if s.cfg.Origin != nil {
		r.HW.AudioPTS27M = s.cfg.Origin.Offset(r.HW.AudioPTS27M)
		r.HW.VideoPTS27M = s.cfg.Origin.Offset(r.HW.VideoPTS27M)
	}

	switch r.Kind {
	case frame.KindVideo:
		s.routeVideo(r, false)
	case frame.KindAudioPCM:
		s.routeAudioPCM(r)
		if s.cfg.MuxClock != nil {
			s.cfg.MuxClock.Advance(r.HW.AudioPTS27M)
		}
	case frame.KindAudioBitstream:
		s.routeAudioBitstream(r)
		if s.cfg.MuxClock != nil {
			s.cfg.MuxClock.Advance(r.HW.AudioPTS27M)
		}
	default:
		r.Release()
	}
}

func (s *Stage) routeVideo(r *frame.Raw, injected bool) {
	rt := s.cfg.VideoRoute
	if rt == nil {
		r.Release()
		return
	}
	if !injected {
		s.videoPTS27M = r.PTS
		s.lastGoodVideo = cloneVideoFrame(r)
	}
	if rt.Filter != nil {
		if err := rt.Filter.Run(r); err != nil {
			s.log.Warn("videofilter rejected frame", "error", err)
			r.Release()
			return
		}
	}
	if rt.Queue.Push(r) {
		s.framesOut++
	} else {
		r.Release()
	}
}

// routeAudioPCM derives one independently-owned frame per audio route
// from the shared source frame, then releases the source exactly once.
func (s *Stage) routeAudioPCM(r *frame.Raw) {
	if s.inLOS {
		// Audio is muted during the loss-of-signal gap — simply drop
		// rather than derive and push.
		r.Release()
		return
	}
	for i := range s.cfg.AudioRoutes {
		rt := &s.cfg.AudioRoutes[i]
		if rt.Filter == nil {
			continue
		}
		out, err := rt.Filter.Run(r)
		if err != nil {
			s.log.Warn("audiofilter rejected frame", "stream", rt.OutputStreamID, "error", err)
			continue
		}
		if rt.Queue.Push(out) {
			s.framesOut++
		} else {
			out.Release()
		}
	}
	r.Release()
}

// routeAudioBitstream forwards an already-encoded audio frame (e.g. a
// passthrough AC-3 pair) to the single matching route: forward to
// exactly the one bitstream encoder configured for that pair. Ownership
// passes to the forwarded copy; no fan-out, no separate release.
func (s *Stage) routeAudioBitstream(r *frame.Raw) {
	if s.inLOS {
		r.Release()
		return
	}
	for i := range s.cfg.AudioRoutes {
		rt := &s.cfg.AudioRoutes[i]
		if rt.Filter == nil || !rt.Filter.MatchesBitstreamPair(r) {
			continue
		}
		fwd := rt.Filter.ForwardBitstream(r, rt.AudioOffsetTicks)
		if rt.Queue.Push(fwd) {
			s.framesOut++
		} else {
			fwd.Release()
		}
		return
	}
	r.Release()
}

// onLOSTick fires once per missed frame interval while no frame arrives.
// It sets the drop-flags on the first tick of a loss event and, while
// sdi_input.inject_frame_enable is armed and repeats remain, synthesizes
// a repeated video frame with a continuously advancing PTS.
func (s *Stage) onLOSTick() {
	if !s.inLOS {
		s.inLOS = true
		s.losEvents++
		s.log.Warn("loss of signal detected")
		if s.cfg.DropFlags != nil {
			if s.cfg.VideoRoute != nil {
				s.cfg.DropFlags.Set("video-encoder-drop")
			}
			if len(s.cfg.AudioRoutes) > 0 {
				s.cfg.DropFlags.Set("audio-encoder-drop")
			}
			s.cfg.DropFlags.Set("mux-drop")
		}
		if s.cfg.VideoRoute != nil && s.cfg.VideoRoute.OnLOS != nil {
			s.cfg.VideoRoute.OnLOS()
		}

		snap := ctrl.Load()
		s.repeatsRemaining = 0
		if snap.SDIInjectFrameEnable {
			s.repeatsRemaining = snap.SDIInjectFrameCountMax
		}
	}

	if s.repeatsRemaining <= 0 || s.lastGoodVideo == nil || s.cfg.VideoRoute == nil {
		return
	}
	s.repeatsRemaining--
	s.injectedFrames++

	if s.cfg.FrameIntervalTicks > 0 {
		s.videoPTS27M += s.cfg.FrameIntervalTicks
	}
	repeat := cloneVideoFrame(s.lastGoodVideo)
	repeat.PTS = s.videoPTS27M
	repeat.HW.VideoPTS27M = s.videoPTS27M
	repeat.HW.AudioPTS27M = s.videoPTS27M
	repeat.HW.WallClock = time.Now()
	s.routeVideo(repeat, true)
}

// cloneVideoFrame deep-copies a video raw frame's pixel planes into
// fresh, unowned buffers so a repeated frame can outlive the original's
// payload (which may be a capture device's DMA ring slot, already
// returned by the time a repeat is synthesized several ticks later).
func cloneVideoFrame(r *frame.Raw) *frame.Raw {
	planes := make([][]byte, len(r.Planes))
	for i, p := range r.Planes {
		cp := make([]byte, len(p))
		copy(cp, p)
		planes[i] = cp
	}
	strides := make([]int, len(r.Strides))
	copy(strides, r.Strides)

	return &frame.Raw{
		Kind:          r.Kind,
		InputStreamID: r.InputStreamID,
		HW:            r.HW,
		PTS:           r.PTS,
		Planes:        planes,
		Strides:       strides,
		Width:         r.Width,
		Height:        r.Height,
		Colorspace:    r.Colorspace,
		Interlaced:    r.Interlaced,
		TFF:           r.TFF,
		SAR:           r.SAR,
	}
}
