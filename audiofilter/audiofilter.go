// Package audiofilter implements the per-output audio processing stage:
// SDI pair/mono channel extraction, dB gain, and debug effects for PCM
// sources, plus pair-matched passthrough forwarding for already-encoded
// bitstream sources. Mirrors videofilter's fixed-order filter-stage
// shape, adapted into the audio domain.
package audiofilter

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/zsiec/prismenc/frame"
)

// ErrChannelRangeOutOfBounds is returned by Run when the configured SDI
// pair/mono offset plus the output layout's channel count exceeds the
// source frame's channel count.
var ErrChannelRangeOutOfBounds = errors.New("audiofilter: channel range out of bounds")

// DebugEffect is a bitmask of per-channel debug signal-impairment
// effects, applied after gain.
type DebugEffect uint8

// Recognized debug effects. More than one may be set per channel; they
// are applied in the order listed (mute short-circuits the rest).
const (
	EffectMute DebugEffect = 1 << iota
	EffectStatic
	EffectBuzz
	EffectAttenuate
	EffectClip
)

// Config selects one output audio stream's extraction, gain, and debug
// parameters.
type Config struct {
	// SDIAudioPair is the 1-indexed SDI audio pair to extract from.
	SDIAudioPair int
	// MonoChannel selects the left (0) or right (1) channel of the pair.
	// ChannelOffset adds it to the pair's base offset for every output
	// layout, not only mono.
	MonoChannel int
	OutputLayout frame.ChannelLayout
	// GainDB is a dB string such as "-3dB", "+6", or "0dB". Empty means
	// unity gain.
	GainDB string
	// DebugEffects holds one bitmask per output channel. A shorter (or
	// nil) slice leaves the remaining channels unaffected.
	DebugEffects []DebugEffect
}

// Filter extracts, gains, and optionally impairs one output stream's
// audio channels from a source raw PCM frame.
type Filter struct {
	cfg        Config
	gainLinear float64
	log        *slog.Logger
	noise      []*rand.Rand // one deterministic noise source per output channel
}

// New builds a Filter for cfg, parsing its gain string once up front so
// Run never fails on malformed configuration after startup.
func New(cfg Config, log *slog.Logger) (*Filter, error) {
	if log == nil {
		log = slog.Default()
	}
	gain := 1.0
	if cfg.GainDB != "" {
		g, err := ParseGainDB(cfg.GainDB)
		if err != nil {
			return nil, fmt.Errorf("audiofilter: %w", err)
		}
		gain = g
	}

	n := cfg.OutputLayout.Channels()
	noise := make([]*rand.Rand, n)
	for i := range noise {
		// Deterministic per-channel seed: debug static must reproduce
		// identically run to run, not vary with wall-clock time.
		noise[i] = rand.New(rand.NewSource(int64(1 + i)))
	}

	return &Filter{
		cfg:        cfg,
		gainLinear: gain,
		log:        log.With("component", "audiofilter"),
		noise:      noise,
	}, nil
}

// Run extracts this output's channel selection from a source PCM frame,
// applies gain and any configured debug effects, and returns a new Raw
// frame ready for the encoder queue. The source frame is left untouched;
// the caller releases it independently.
func (f *Filter) Run(r *frame.Raw) (*frame.Raw, error) {
	if r.Kind != frame.KindAudioPCM {
		return nil, fmt.Errorf("audiofilter: Run called on non-PCM frame kind %s", r.Kind)
	}

	n := f.cfg.OutputLayout.Channels()
	offset := ChannelOffset(f.cfg.SDIAudioPair, f.cfg.MonoChannel)
	if offset < 0 || offset+n > len(r.Samples) {
		return nil, ErrChannelRangeOutOfBounds
	}

	out := &frame.Raw{
		Kind:          frame.KindAudioPCM,
		InputStreamID: r.InputStreamID,
		HW:            r.HW,
		PTS:           r.PTS,
		ChannelLayout: f.cfg.OutputLayout,
		SampleRate:    r.SampleRate,
		SampleFmt:     frame.SampleFormatS32P,
		SampleCount:   r.SampleCount,
		Samples:       make([][]int32, n),
	}

	for i := 0; i < n; i++ {
		src := r.Samples[offset+i]
		dst := make([]int32, len(src))
		copy(dst, src)

		applyGain(dst, f.gainLinear)

		var effect DebugEffect
		if i < len(f.cfg.DebugEffects) {
			effect = f.cfg.DebugEffects[i]
		}
		if effect != 0 {
			f.applyDebugEffects(dst, i, effect)
		}

		out.Samples[i] = dst
	}

	return out, nil
}

// ChannelOffset returns the source-channel index:
// 2*(sdiAudioPair-1) + monoChannel. sdiAudioPair is 1-indexed.
func ChannelOffset(sdiAudioPair, monoChannel int) int {
	if sdiAudioPair < 1 {
		return -1
	}
	return 2*(sdiAudioPair-1) + monoChannel
}

// ParseGainDB parses a dB gain string ("-3dB", "+6", "0 dB") into a
// linear scaler suitable for multiplying S32P samples.
func ParseGainDB(s string) (float64, error) {
	db, err := parseDBString(s)
	if err != nil {
		return 0, err
	}
	return math.Pow(10, db/20), nil
}

// MatchesBitstreamPair reports whether a bitstream frame's SDI audio
// pair matches this output's configured pair: forward to exactly the
// one bitstream encoder configured for that pair.
func (f *Filter) MatchesBitstreamPair(r *frame.Raw) bool {
	return r.Kind == frame.KindAudioBitstream && r.SDIAudioPair == f.cfg.SDIAudioPair
}

// ForwardBitstream applies the output's audio_offset_ms (expressed here
// in the pipeline's 27 MHz tick domain) to a matching bitstream frame's
// PTS and returns the retimed frame. Callers must check
// MatchesBitstreamPair first; ForwardBitstream does not duplicate that
// check so a caller iterating multiple outputs can short-circuit once.
func (f *Filter) ForwardBitstream(r *frame.Raw, audioOffsetTicks27M int64) *frame.Raw {
	out := *r
	out.PTS = r.PTS + audioOffsetTicks27M
	return &out
}
