// Package mux implements the mux stage: it pops coded frames from the
// shared mux queue, feeds each to a tsmux.Assembler to produce MPEG-2
// transport stream packets (inserting PAT/PMT ahead of every video
// keyframe, and routing SCTE-35/SMPTE-2038 metadata items to their own
// PIDs), and pushes the result to the mux-smoothing queue as a
// tsmux.Buffer. It also enforces the drop_early staleness guard: a video
// frame whose real_dts has already fallen more than one frame interval
// behind the shared mux clock cannot arrive on time and is dropped
// rather than reordered.
package mux

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/prismenc/avclock"
	"github.com/zsiec/prismenc/ctrl"
	"github.com/zsiec/prismenc/frame"
	"github.com/zsiec/prismenc/queue"
	"github.com/zsiec/prismenc/scte"
	"github.com/zsiec/prismenc/tsmux"
)

// Config configures one Stage.
type Config struct {
	Program tsmux.ProgramConfig

	// Streams maps an encoder's OutputStreamID to the tsmux stream
	// configuration the assembler packetizes it under. Every video/audio
	// OutputStreamID feeding this mux's input queue must have an entry.
	Streams map[string]tsmux.StreamConfig

	// SCTE35 and SMPTE2038, if set, bind the respective metadata item
	// kind carried on a coded frame's Metadata list to its own PID,
	// independent of which output stream produced the frame.
	SCTE35    *tsmux.StreamConfig
	SMPTE2038 *tsmux.StreamConfig

	// MuxClock is the shared software clock the input stage advances
	// once per audio frame. FrameIntervalTicks is one video frame's
	// nominal duration in 27 MHz ticks, the drop_early staleness window.
	// Either one nil/zero disables the drop_early check.
	MuxClock           *avclock.MuxClock
	FrameIntervalTicks int64

	// DropFlags wires in the "mux-drop" signal: the input stage Sets it
	// on loss-of-signal; this Stage Clears it the next time it observes
	// a frame. Nil disables the check.
	DropFlags *ctrl.DropFlags

	Log *slog.Logger
}

// Stage is the mux dispatch loop. Construct with New; Run drives it from
// a single goroutine, matching the Assembler's single-writer assumption.
type Stage struct {
	cfg Config
	in  *queue.Queue[*frame.Coded]
	out *queue.Queue[*tsmux.Buffer]
	asm *tsmux.Assembler
	log *slog.Logger

	sentFirstPSI bool

	framesIn     atomic.Int64
	framesOut    atomic.Int64
	droppedEarly atomic.Int64
}

// New constructs a Stage driving a fresh tsmux.Assembler for cfg.Program.
func New(cfg Config, in *queue.Queue[*frame.Coded], out *queue.Queue[*tsmux.Buffer]) *Stage {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Stage{
		cfg: cfg,
		in:  in,
		out: out,
		asm: tsmux.NewAssembler(cfg.Program),
		log: cfg.Log.With("component", "mux"),
	}
}

// Stats reports the stage's frame counters.
type Stats struct {
	FramesIn     int64
	FramesOut    int64
	DroppedEarly int64
}

// Stats returns a snapshot of the stage's counters.
func (s *Stage) Stats() Stats {
	return Stats{
		FramesIn:     s.framesIn.Load(),
		FramesOut:    s.framesOut.Load(),
		DroppedEarly: s.droppedEarly.Load(),
	}
}

// Run pops coded frames until the input queue is canceled, pushing one
// tsmux.Buffer downstream per admitted frame. On return it cancels its
// own output queue, cascading the shutdown drain to mux-smoothing —
// this stage is the assembler's single writer, so it is always the
// shared mux input queue's sole consumer even though several
// encoder/smoothing stages feed it.
func (s *Stage) Run(ctx context.Context) error {
	defer s.out.Cancel()
	for {
		c, ok := s.in.Pop()
		if !ok {
			return nil
		}
		s.framesIn.Add(1)
		if s.cfg.DropFlags != nil && s.cfg.DropFlags.IsSet("mux-drop") {
			s.cfg.DropFlags.Clear("mux-drop")
			s.log.Info("signal recovered, clearing mux-drop flag")
		}

		if s.dropEarly(c) {
			s.droppedEarly.Add(1)
			s.log.Warn("dropping stale video frame", "real_dts", c.RealDTS)
			continue
		}

		buf, err := s.process(c)
		if err != nil {
			s.log.Warn("dropping unmuxable frame", "error", err)
			continue
		}
		if s.out.Push(buf) {
			s.framesOut.Add(1)
		}
	}
}

// dropEarly implements a staleness guard: a video frame whose real_dts
// has already fallen more than one frame interval behind the shared mux
// clock cannot be packetized on time.
func (s *Stage) dropEarly(c *frame.Coded) bool {
	if c.Type != frame.CodedVideo || s.cfg.MuxClock == nil || s.cfg.FrameIntervalTicks <= 0 {
		return false
	}
	now := s.cfg.MuxClock.Value()
	return c.RealDTS < now-s.cfg.FrameIntervalTicks
}

// process packetizes one coded frame, prefixing PAT/PMT ahead of every
// video keyframe (and the very first frame, so a receiver joining mid
// stream always sees PSI before its first access unit), and returns the
// resulting tsmux.Buffer.
func (s *Stage) process(c *frame.Coded) (*tsmux.Buffer, error) {
	sc, ok := s.cfg.Streams[c.OutputStreamID]
	if !ok {
		return nil, errUnconfiguredStream(c.OutputStreamID)
	}

	var packets [][]byte
	var pcrs []int64

	needsPSI := !s.sentFirstPSI || (c.Type == frame.CodedVideo && c.RandomAccess)
	if needsPSI {
		packets = append(packets, s.asm.WritePAT()...)
		pmt, err := s.asm.WritePMT()
		if err != nil {
			return nil, err
		}
		packets = append(packets, pmt...)
		s.sentFirstPSI = true
	}

	var pcr *int64
	if sc.PID == s.cfg.Program.PCRPID && c.Type == frame.CodedVideo {
		v := c.RealDTS
		pcr = &v
		pcrs = append(pcrs, v)
	}

	pts := int64(scte.TicksToMPEGPTS(c.RealPTS))
	var dtsPtr *int64
	if c.Type == frame.CodedVideo {
		dts := int64(scte.TicksToMPEGPTS(c.RealDTS))
		dtsPtr = &dts
	}

	pes, err := s.asm.WritePES(sc, &pts, dtsPtr, c.Data, pcr)
	if err != nil {
		return nil, err
	}
	packets = append(packets, pes...)

	for _, m := range c.Metadata {
		switch v := m.(type) {
		case frame.SCTE35Section:
			if s.cfg.SCTE35 == nil {
				s.log.Warn("dropping scte-35 section: no PID configured")
				continue
			}
			packets = append(packets, s.asm.WriteSCTE35(s.cfg.SCTE35.PID, v.Section)...)
		case frame.SMPTE2038:
			if s.cfg.SMPTE2038 == nil {
				s.log.Warn("dropping smpte-2038 payload: no PID configured")
				continue
			}
			anc, err := s.asm.WriteSMPTE2038(*s.cfg.SMPTE2038, &pts, v.PESPayload)
			if err != nil {
				return nil, err
			}
			packets = append(packets, anc...)
		}
	}

	return &tsmux.Buffer{Data: tsmux.ConcatPackets(packets), PCRs27M: pcrs}, nil
}

type errUnconfiguredStream string

func (e errUnconfiguredStream) Error() string {
	return "mux: no tsmux stream configured for output stream " + string(e)
}
