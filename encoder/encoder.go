// Package encoder implements the dispatch stage between the video/audio
// filters and the mux: one Stage per output stream, each driving a single
// codec.VideoAdapter or codec.AudioAdapter, re-basing the codec's
// internal clock onto the audio-master clock (avclock), converting
// SCTE-104 VANC to SCTE-35 sections, and optionally stamping the
// SEI latency probe.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/prismenc/avclock"
	"github.com/zsiec/prismenc/codec"
	"github.com/zsiec/prismenc/ctrl"
	"github.com/zsiec/prismenc/frame"
	"github.com/zsiec/prismenc/nalutil"
	"github.com/zsiec/prismenc/queue"
	"github.com/zsiec/prismenc/scte"
)

// adapter is the shape codec.VideoAdapter and codec.AudioAdapter share.
// Stage drives either through this interface so it does not need two
// near-identical implementations.
type adapter interface {
	Start(sd codec.OutputStreamDescriptor) error
	Submit(r *frame.Raw) error
	Poll() ([]codec.CodedBuffer, error)
	Reconfigure(p codec.ParamSet) error
	Close() error
}

var (
	_ adapter = codec.VideoAdapter(nil)
	_ adapter = codec.AudioAdapter(nil)
)

// Config configures one Stage. All tick-denominated fields are 27 MHz
// ticks (avclock.HZ27M), already converted from whatever millisecond
// runtime variable fed them.
type Config struct {
	OutputStreamID string
	Video          bool // false selects the audio path

	Log *slog.Logger

	// SchedulingOffsetTicks is the accumulated encoder + smoothing
	// latency budget for this output stream, the schedulingOffset input
	// to avclock.VideoRebase. Video only.
	SchedulingOffsetTicks int64

	// LookaheadTicks is the audio codec's fixed lookahead, and
	// AudioOffsetTicks the configured audio_offset_ms bias (already
	// converted via avclock.MSToTicks). Both feed avclock.AudioSchedule.
	// Audio only.
	LookaheadTicks   int64
	AudioOffsetTicks int64

	// CodecLatencyTicks is this encoder's own frame latency, added to a
	// converted SCTE-35 section's pts_adjustment.
	CodecLatencyTicks int64

	// SEITimestamping enables the latency-probe SEI marker described in
	// nalutil: the stage stamps FieldEnteredEncoder before Submit and
	// FieldExitedEncoder after Poll, then prepends the marker NAL to the
	// coded access unit. Video only.
	SEITimestamping bool

	// DropFlags and DropFlagKey wire in the "video-encoder-drop /
	// audio-encoder-drop" signal: the input stage Sets the named flag
	// on loss-of-signal; this Stage Clears it the next time it observes
	// a frame, logging the transition exactly once. Nil disables the
	// check.
	DropFlags   *ctrl.DropFlags
	DropFlagKey string
}

// Stage is the dispatch loop for one output stream. Construct with New;
// a Stage is safe to drive from one Run goroutine while Reconfigure and
// Close are called from others.
type Stage struct {
	cfg     Config
	adapter adapter
	in      *queue.Queue[*frame.Raw]
	out     *queue.Queue[*frame.Coded]
	log     *slog.Logger

	mu          sync.Mutex
	sd          codec.OutputStreamDescriptor
	forceIDR    bool
	pendingMeta []frame.MetadataItem

	framesIn  atomic.Int64
	framesOut atomic.Int64
	dropped   atomic.Int64
}

// New constructs a Stage and starts its codec adapter. in and out are
// already-configured queues (capacity and overflow policy, including the
// video-encoder input queue's OverflowFatal ceiling, are the pipeline
// builder's concern, not Stage's).
func New(cfg Config, ad adapter, sd codec.OutputStreamDescriptor, in *queue.Queue[*frame.Raw], out *queue.Queue[*frame.Coded]) (*Stage, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Stage{
		cfg:     cfg,
		adapter: ad,
		in:      in,
		out:     out,
		log:     cfg.Log.With("component", "encoder", "stream", cfg.OutputStreamID),
		sd:      sd,
	}
	if err := ad.Start(sd); err != nil {
		return nil, fmt.Errorf("encoder: start %s: %w", cfg.OutputStreamID, err)
	}
	return s, nil
}

// Stats reports the stage's frame counters, in the corpus's
// atomic-counter idiom (internal/pipeline.Pipeline).
type Stats struct {
	FramesIn  int64
	FramesOut int64
	Dropped   int64
}

// Stats returns a snapshot of the stage's counters.
func (s *Stage) Stats() Stats {
	return Stats{
		FramesIn:  s.framesIn.Load(),
		FramesOut: s.framesOut.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Run pops raw frames until the input queue is canceled, handing each to
// the codec and pushing every resulting coded buffer downstream. It
// returns nil on a clean cancel, or an error only for a fatal codec
// failure: the stage's contract is to consume forever or observe
// cancel. On return it cancels its own output queue: this Stage is
// that queue's only producer, and a queue is destroyed only after all
// producers have exited, so the cascade to the mux/smoothing stage
// downstream is this Stage's job, not the pipeline orchestrator's.
func (s *Stage) Run(ctx context.Context) error {
	defer s.out.Cancel()
	for {
		r, ok := s.in.Pop()
		if !ok {
			return nil
		}
		s.framesIn.Add(1)
		s.observeDropFlag()

		if err := s.process(r); err != nil {
			s.log.Error("fatal codec failure", "error", err)
			return err
		}
	}
}

// observeDropFlag clears this stage's drop flag the first time it
// observes a frame after the input stage set it on loss-of-signal,
// logging the recovery exactly once per loss event.
func (s *Stage) observeDropFlag() {
	if s.cfg.DropFlags == nil || s.cfg.DropFlagKey == "" {
		return
	}
	if s.cfg.DropFlags.IsSet(s.cfg.DropFlagKey) {
		s.cfg.DropFlags.Clear(s.cfg.DropFlagKey)
		s.log.Info("signal recovered, clearing drop flag", "flag", s.cfg.DropFlagKey)
	}
}

// process drives one raw frame through Submit/Poll, re-bases every
// resulting coded buffer's clock, converts or forwards any attached
// metadata, and pushes the result downstream.
func (s *Stage) process(r *frame.Raw) error {
	hw := r.HW

	for _, m := range r.Metadata {
		converted, err := s.convertMetadata(m)
		if err != nil {
			s.log.Warn("dropping malformed metadata item", "error", err)
			continue
		}
		if converted != nil {
			s.pendingMeta = append(s.pendingMeta, converted)
		}
	}

	stampSEI := s.cfg.Video && s.cfg.SEITimestamping
	var marker []byte
	var markerOff int
	if stampSEI {
		marker = nalutil.BuildMarker()
		markerOff = nalutil.FindMarker(marker)
		if markerOff >= 0 {
			_ = nalutil.StampField(marker, markerOff, nalutil.FieldEnteredEncoder, time.Now().UnixNano())
		}
	}

	s.mu.Lock()
	err := s.adapter.Submit(r)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	s.mu.Lock()
	bufs, err := s.adapter.Poll()
	forceIDR := s.forceIDR
	s.forceIDR = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}

	for i, b := range bufs {
		coded := s.toCoded(b, hw)

		if stampSEI && markerOff >= 0 {
			_ = nalutil.StampField(marker, markerOff, nalutil.FieldExitedEncoder, time.Now().UnixNano())
			coded.Data = prependSEINAL(coded.Data, marker)
		}

		if i == 0 && len(s.pendingMeta) > 0 {
			coded.Metadata = append(coded.Metadata, s.pendingMeta...)
			s.pendingMeta = nil
		}

		if forceIDR {
			coded.RandomAccess = true
			coded.Priority = true
			forceIDR = false // only the first buffer after a reopen carries the IDR
		}

		if !s.out.Push(coded) {
			s.dropped.Add(1)
			continue
		}
		s.framesOut.Add(1)
	}
	return nil
}

// toCoded re-bases a codec.CodedBuffer's internal clock onto the
// audio-master clock via avclock, producing the frame.Coded the mux
// stage consumes.
func (s *Stage) toCoded(b codec.CodedBuffer, hw frame.HWTimestamps) *frame.Coded {
	c := &frame.Coded{
		OutputStreamID: s.cfg.OutputStreamID,
		Data:           b.Data,
		RandomAccess:   b.RandomAccess,
		Priority:       b.RandomAccess,
		CPBInitial:     b.CPBInitial,
		CPBFinal:       b.CPBFinal,
		HW:             hw,
	}

	if s.cfg.Video {
		c.Type = frame.CodedVideo
		realDTS, realPTS := avclock.VideoRebase(hw.AudioPTS27M, s.cfg.SchedulingOffsetTicks, b.CodecPTS, b.CodecDTS)
		c.RealDTS = realDTS
		c.RealPTS = realPTS
		c.PTS = realDTS
		return c
	}

	c.Type = frame.CodedAudio
	pts := avclock.AudioSchedule(hw.AudioPTS27M, s.cfg.LookaheadTicks, s.cfg.AudioOffsetTicks)
	c.PTS = pts
	c.RealPTS = pts
	c.RealDTS = pts
	return c
}

// convertMetadata converts a SCTE104VANC item to a ready-to-mux
// SCTE35Section, or forwards an SMPTE2038 item unchanged. Any other
// concrete type is an error: the encoder stage never invents new
// metadata kinds.
func (s *Stage) convertMetadata(m frame.MetadataItem) (frame.MetadataItem, error) {
	switch v := m.(type) {
	case frame.SCTE104VANC:
		req, err := scte.DecodeSpliceRequest(v.Payload)
		if err != nil {
			return nil, fmt.Errorf("scte-104 decode: %w", err)
		}
		section := scte.ToSection(req, v.SourcePTS27M, s.cfg.CodecLatencyTicks)
		encoded, err := section.Encode()
		if err != nil {
			return nil, fmt.Errorf("scte-35 encode: %w", err)
		}
		return frame.SCTE35Section{Section: encoded}, nil
	case frame.SMPTE2038:
		return v, nil
	default:
		return nil, fmt.Errorf("unrecognized metadata item %T", m)
	}
}

// Reconfigure applies a live parameter change via the adapter's
// new-value-available flags. If the adapter reports the change
// unsupported without a restart, Reconfigure closes and reopens it with
// the updated
// descriptor, and arranges for the next coded buffer to be forced
// RandomAccess so the mux can restart decode cleanly from it.
func (s *Stage) Reconfigure(p codec.ParamSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.adapter.Reconfigure(p)
	if err == nil {
		applyParamSet(&s.sd, p)
		return nil
	}

	var unsupported codec.ErrReconfigureUnsupported
	if !errors.As(err, &unsupported) {
		return fmt.Errorf("reconfigure: %w", err)
	}

	s.log.Warn("live reconfigure unsupported, reopening codec with IDR", "param", unsupported.Param)
	if err := s.adapter.Close(); err != nil {
		return fmt.Errorf("close before reopen: %w", err)
	}
	applyParamSet(&s.sd, p)
	if err := s.adapter.Start(s.sd); err != nil {
		return fmt.Errorf("reopen: %w", err)
	}
	s.forceIDR = true
	return nil
}

// applyParamSet mutates sd in place with every non-zero field of p, the
// same "zero means no change requested" convention codec.ParamSet
// documents.
func applyParamSet(sd *codec.OutputStreamDescriptor, p codec.ParamSet) {
	if p.BitrateKbps > 0 {
		sd.BitrateKbps = p.BitrateKbps
	}
	if p.GOPMin > 0 {
		sd.GOPMin = p.GOPMin
	}
	if p.GOPMax > 0 {
		sd.GOPMax = p.GOPMax
	}
	if p.LookaheadFrames > 0 {
		sd.LookaheadFrames = p.LookaheadFrames
	}
	if p.QPFloor > 0 {
		sd.QPFloor = p.QPFloor
	}
}

// Close shuts down the underlying codec adapter. It does not drain or
// cancel the input/output queues; Run cancels its own output queue when
// it returns.
func (s *Stage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.Close()
}

// prependSEINAL wraps marker (an already-stamped nalutil latency-probe
// RBSP payload) in a minimal H.264 SEI NAL header and Annex-B start code,
// and prepends it to an access unit's bytes.
func prependSEINAL(data []byte, marker []byte) []byte {
	const nalTypeSEI = 0x06
	out := make([]byte, 0, 5+len(marker)+len(data))
	out = append(out, 0x00, 0x00, 0x00, 0x01, nalTypeSEI)
	out = append(out, marker...)
	out = append(out, data...)
	return out
}
