// Package ctrl implements spec.md §6's runtime control variables: a
// flat name -> int64 namespace, published as one atomically-swapped
// Block so every stage reads a single consistent snapshot once per
// frame instead of racing on scattered globals (the Global mutable
// state re-architecture in spec.md §9).
package ctrl

import (
	"fmt"
	"sync/atomic"
)

// Block is a read-only snapshot of every runtime control variable.
// Stages hold onto a snapshot for the duration of one frame; they never
// mutate it. SetInt64 publishes a fresh Block by copy-and-swap.
type Block struct {
	SDIInjectFrameEnable   bool
	SDIInjectFrameCountMax int64

	AudioAC3OffsetMS int64
	AudioMP2OffsetMS int64

	CodecX264Bitrate   int64
	CodecX265Bitrate   int64
	CodecX264Lookahead int64
	CodecX264KeyintMin int64
	CodecX264KeyintMax int64
	CodecX265QPMin     int64

	// One-shot fault injection: each reads 1 once set, and reads back 0
	// once the output stage has acted on it (ConsumeBool).
	DropNextVideoPacket     bool
	DropNextAudioPacket     bool
	DropNextPATPacket       bool
	DropNextPMTPacket       bool
	ScrambleNextVideoPacket bool
	TEINextPacket           bool
	BadSyncNextPacket       bool

	LatencyAlertMS              int64
	TransportPayloadSize        int64
	MuxSmootherTrimMS           int64
	VideoEncoderSEITimestamping bool
}

var current atomic.Pointer[Block]

func init() {
	current.Store(&Block{
		TransportPayloadSize: 7 * 188,
	})
}

// Load returns the currently published Block. Callers must treat it as
// read-only.
func Load() *Block {
	return current.Load()
}

// field describes one name in the flat namespace: how to read and
// write it as an int64 on a Block. Whether a name is a one-shot
// fault-injection flag is not recorded here; ConsumeBool is what clears
// such a flag.
type field struct {
	name string
	get  func(*Block) int64
	set  func(*Block, int64) error
}

func boolField(name string, ptr func(*Block) *bool) field {
	return field{
		name: name,
		get: func(b *Block) int64 {
			if *ptr(b) {
				return 1
			}
			return 0
		},
		set: func(b *Block, v int64) error {
			*ptr(b) = v != 0
			return nil
		},
	}
}

func int64Field(name string, ptr func(*Block) *int64) field {
	return field{
		name: name,
		get:  func(b *Block) int64 { return *ptr(b) },
		set: func(b *Block, v int64) error {
			*ptr(b) = v
			return nil
		},
	}
}

var fields = []field{
	boolField("sdi_input.inject_frame_enable", func(b *Block) *bool { return &b.SDIInjectFrameEnable }),
	int64Field("sdi_input.inject_frame_count_max", func(b *Block) *int64 { return &b.SDIInjectFrameCountMax }),

	int64Field("audio_encoder.ac3_offset_ms", func(b *Block) *int64 { return &b.AudioAC3OffsetMS }),
	int64Field("audio_encoder.mp2_offset_ms", func(b *Block) *int64 { return &b.AudioMP2OffsetMS }),

	int64Field("codec.x264.bitrate", func(b *Block) *int64 { return &b.CodecX264Bitrate }),
	int64Field("codec.x265.bitrate", func(b *Block) *int64 { return &b.CodecX265Bitrate }),
	int64Field("codec.x264.lookahead", func(b *Block) *int64 { return &b.CodecX264Lookahead }),
	int64Field("codec.x264.keyint_min", func(b *Block) *int64 { return &b.CodecX264KeyintMin }),
	int64Field("codec.x264.keyint_max", func(b *Block) *int64 { return &b.CodecX264KeyintMax }),
	int64Field("codec.x265.qpmin", func(b *Block) *int64 { return &b.CodecX265QPMin }),

	boolField("udp_output.drop_next_video_packet", func(b *Block) *bool { return &b.DropNextVideoPacket }),
	boolField("udp_output.drop_next_audio_packet", func(b *Block) *bool { return &b.DropNextAudioPacket }),
	boolField("udp_output.drop_next_pat_packet", func(b *Block) *bool { return &b.DropNextPATPacket }),
	boolField("udp_output.drop_next_pmt_packet", func(b *Block) *bool { return &b.DropNextPMTPacket }),
	boolField("udp_output.scramble_next_video_packet", func(b *Block) *bool { return &b.ScrambleNextVideoPacket }),
	boolField("udp_output.tei_next_packet", func(b *Block) *bool { return &b.TEINextPacket }),
	boolField("udp_output.bad_sync_next_packet", func(b *Block) *bool { return &b.BadSyncNextPacket }),

	int64Field("udp_output.latency_alert_ms", func(b *Block) *int64 { return &b.LatencyAlertMS }),
	{
		name: "udp_output.transport_payload_size",
		get:  func(b *Block) int64 { return b.TransportPayloadSize },
		set: func(b *Block, v int64) error {
			if v <= 0 || v%188 != 0 {
				return fmt.Errorf("ctrl: udp_output.transport_payload_size must be a positive multiple of 188, got %d", v)
			}
			b.TransportPayloadSize = v
			return nil
		},
	},
	{
		name: "mux_smoother.trim_ms",
		get:  func(b *Block) int64 { return b.MuxSmootherTrimMS },
		set: func(b *Block, v int64) error {
			if v < 0 {
				v = 0
			}
			if v > 2000 {
				v = 2000
			}
			b.MuxSmootherTrimMS = v
			return nil
		},
	},
	boolField("video_encoder.sei_timestamping", func(b *Block) *bool { return &b.VideoEncoderSEITimestamping }),
}

func lookup(name string) (field, bool) {
	for _, f := range fields {
		if f.name == name {
			return f, true
		}
	}
	return field{}, false
}

// SetInt64 validates name against the flat namespace and republishes
// Block with that variable set to value.
func SetInt64(name string, value int64) error {
	f, ok := lookup(name)
	if !ok {
		return fmt.Errorf("ctrl: unrecognized control variable %q", name)
	}
	for {
		old := current.Load()
		next := *old
		if err := f.set(&next, value); err != nil {
			return err
		}
		if current.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// GetInt64 reads one named variable from the currently published Block.
func GetInt64(name string) (int64, error) {
	f, ok := lookup(name)
	if !ok {
		return 0, fmt.Errorf("ctrl: unrecognized control variable %q", name)
	}
	return f.get(current.Load()), nil
}

// Dump returns every named variable's current value, for the operator
// control surface (cmd/prismenc's /vars endpoint) and for the error
// counters spec.md §7 says are "visible through the runtime-variable
// dump."
func Dump() map[string]int64 {
	b := current.Load()
	out := make(map[string]int64, len(fields))
	for _, f := range fields {
		out[f.name] = f.get(b)
	}
	return out
}

// ConsumeBool reads a boolean-valued variable and, if it was set,
// atomically clears it back to false and returns true. Stages call this
// for the one-shot fault-injection variables once they have actually
// acted on the condition — not merely because the flag was observed —
// so a flag that can't be applied to the current frame (e.g.
// drop_next_video_packet read while the current mux cycle holds no
// video packet) survives for the next one.
func ConsumeBool(name string) bool {
	f, ok := lookup(name)
	if !ok {
		return false
	}
	for {
		old := current.Load()
		if f.get(old) == 0 {
			return false
		}
		next := *old
		_ = f.set(&next, 0)
		if current.CompareAndSwap(old, &next) {
			return true
		}
	}
}
