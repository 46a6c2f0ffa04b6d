package output

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/prismenc/ctrl"
	"github.com/zsiec/prismenc/nalutil"
	"github.com/zsiec/prismenc/queue"
	"github.com/zsiec/prismenc/tsmux"
)

// Config configures one Stage.
type Config struct {
	Name string // destination label, for logging

	// SEITimestamping enables spec.md §4.8's "searches each 188-byte-
	// aligned packet for the pipeline's UUID marker and stamps 'time
	// transmitted to wire' fields" behavior. A live
	// video_encoder.sei_timestamping=1 via ctrl has the same effect.
	SEITimestamping bool

	// VideoPID/AudioPID/PMTPID identify this destination's video,
	// audio, and PMT PIDs so the udp_output.* one-shot fault-injection
	// variables can target the right packets. Zero means "not
	// tracked" — the corresponding fault-injection variable is
	// inert for this destination. PAT is always tsmux.PIDPAT.
	VideoPID uint16
	AudioPID uint16
	PMTPID   uint16

	Log *slog.Logger
}

// Stage is the per-destination output loop. Construct with New.
type Stage struct {
	cfg   Config
	in    *queue.Queue[*tsmux.Buffer]
	w     Writer
	meter *RateMeter
	log   *slog.Logger
	now   func() time.Time

	framesIn  atomic.Int64
	framesOut atomic.Int64
	dropped   atomic.Int64
}

// New constructs a Stage writing to w.
func New(cfg Config, w Writer, in *queue.Queue[*tsmux.Buffer]) *Stage {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Stage{
		cfg:   cfg,
		in:    in,
		w:     w,
		meter: NewRateMeter(),
		log:   cfg.Log.With("component", "output", "destination", cfg.Name),
		now:   time.Now,
	}
}

// Stats reports the stage's frame counters and current outbound rate.
type Stats struct {
	FramesIn      int64
	FramesOut     int64
	Dropped       int64
	BitsPerSecond float64
}

// Stats returns a snapshot of the stage's counters.
func (s *Stage) Stats() Stats {
	return Stats{
		FramesIn:      s.framesIn.Load(),
		FramesOut:     s.framesOut.Load(),
		Dropped:       s.dropped.Load(),
		BitsPerSecond: s.meter.BitsPerSecond(),
	}
}

// Run pops muxed buffers until the input queue is canceled, writing
// each to the configured transport. A write failure is logged and
// counted as a transient drop, per spec.md §7's "consume forever"
// contract — it is never fatal to the stage.
func (s *Stage) Run(ctx context.Context) error {
	for {
		buf, ok := s.in.Pop()
		if !ok {
			return nil
		}
		s.framesIn.Add(1)

		snap := ctrl.Load()

		if s.cfg.SEITimestamping || snap.VideoEncoderSEITimestamping {
			s.stampWireTime(buf.Data)
		}

		data := s.applyFaultInjection(buf.Data, snap)
		pcrs := buildPCRMarks(data, buf.PCRs27M)
		if err := s.w.Write(ctx, data, pcrs); err != nil {
			s.dropped.Add(1)
			s.log.Warn("write failed", "error", err)
			continue
		}
		s.meter.Record(len(data))
		s.framesOut.Add(1)
	}
}

// Close closes the underlying Writer.
func (s *Stage) Close() error {
	return s.w.Close()
}

// stampWireTime searches each 188-byte-aligned packet in data for the
// latency-probe UUID marker and, if present, stamps
// FieldTransmittedToWire with the current wall-clock time.
func (s *Stage) stampWireTime(data []byte) {
	now := s.now().UnixNano()
	for off := 0; off+tsmux.PacketSize <= len(data); off += tsmux.PacketSize {
		pkt := data[off : off+tsmux.PacketSize]
		fieldsOff := nalutil.FindMarker(pkt)
		if fieldsOff < 0 {
			continue
		}
		if err := nalutil.StampField(pkt, fieldsOff, nalutil.FieldTransmittedToWire, now); err != nil {
			s.log.Warn("failed to stamp wire-time marker", "error", err)
		}
	}
}

// buildPCRMarks scans data's transport stream packets for adaptation
// fields carrying a PCR, pairing each one found with the next value
// from pcrValues (tsmux.Buffer's own record of which PCR values it
// contains, in order). Fewer marks than pcrValues turns up only when
// udp_output.drop_next_video_packet happened to remove the one PCR-
// bearing packet in this cycle — an accepted, documented side effect of
// that fault injection, not an error.
func buildPCRMarks(data []byte, pcrValues []int64) []PCRMark {
	if len(pcrValues) == 0 {
		return nil
	}
	var marks []PCRMark
	vi := 0
	for off := 0; off+tsmux.PacketSize <= len(data) && vi < len(pcrValues); off += tsmux.PacketSize {
		pkt := data[off : off+tsmux.PacketSize]
		afc := pkt[3] & 0x30
		if afc != 0x20 && afc != 0x30 {
			continue
		}
		afLen := pkt[4]
		if afLen == 0 || pkt[5]&0x10 == 0 {
			continue
		}
		marks = append(marks, PCRMark{Offset: off, PCR27M: pcrValues[vi]})
		vi++
	}
	return marks
}

// pidOf reads a transport stream packet's 13-bit PID field.
func pidOf(pkt []byte) uint16 {
	return uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
}

// applyFaultInjection implements spec.md §6's udp_output.* one-shot
// variables: drop_next_{video,audio,pat,pmt}_packet remove exactly one
// matching packet; scramble_next_video_packet sets that packet's
// transport_scrambling_control bits; tei_next_packet sets the next
// packet's transport_error_indicator bit; bad_sync_next_packet corrupts
// the next packet's sync byte. Each is consumed (cleared) only once
// actually applied to a packet, via ctrl.ConsumeBool, so a variable set
// while this cycle holds no matching packet survives to the next cycle.
func (s *Stage) applyFaultInjection(data []byte, snap *ctrl.Block) []byte {
	if !(snap.DropNextVideoPacket || snap.DropNextAudioPacket || snap.DropNextPATPacket ||
		snap.DropNextPMTPacket || snap.ScrambleNextVideoPacket || snap.TEINextPacket ||
		snap.BadSyncNextPacket) {
		return data
	}

	out := data
	for off := 0; off+tsmux.PacketSize <= len(out); {
		pkt := out[off : off+tsmux.PacketSize]
		pid := pidOf(pkt)

		if snap.DropNextPATPacket && pid == tsmux.PIDPAT && ctrl.ConsumeBool("udp_output.drop_next_pat_packet") {
			out = append(out[:off], out[off+tsmux.PacketSize:]...)
			continue
		}
		if snap.DropNextPMTPacket && s.cfg.PMTPID != 0 && pid == s.cfg.PMTPID &&
			ctrl.ConsumeBool("udp_output.drop_next_pmt_packet") {
			out = append(out[:off], out[off+tsmux.PacketSize:]...)
			continue
		}
		if snap.DropNextVideoPacket && s.cfg.VideoPID != 0 && pid == s.cfg.VideoPID &&
			ctrl.ConsumeBool("udp_output.drop_next_video_packet") {
			out = append(out[:off], out[off+tsmux.PacketSize:]...)
			continue
		}
		if snap.DropNextAudioPacket && s.cfg.AudioPID != 0 && pid == s.cfg.AudioPID &&
			ctrl.ConsumeBool("udp_output.drop_next_audio_packet") {
			out = append(out[:off], out[off+tsmux.PacketSize:]...)
			continue
		}
		if snap.ScrambleNextVideoPacket && s.cfg.VideoPID != 0 && pid == s.cfg.VideoPID &&
			ctrl.ConsumeBool("udp_output.scramble_next_video_packet") {
			pkt[3] |= 0xC0 // transport_scrambling_control = '11'
		}
		if snap.TEINextPacket && ctrl.ConsumeBool("udp_output.tei_next_packet") {
			pkt[1] |= 0x80
		}
		if snap.BadSyncNextPacket && ctrl.ConsumeBool("udp_output.bad_sync_next_packet") {
			pkt[0] = 0x00
		}
		off += tsmux.PacketSize
	}
	return out
}
