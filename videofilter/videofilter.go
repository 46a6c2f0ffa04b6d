// Package videofilter implements the fixed-order raw-video processing
// pipeline stage: passthrough detection, PAL blanking, resize, chroma
// downconversion, dithering, user-data SEI encapsulation, and SAR
// defaulting, generalized from bit-level NAL/SEI demux handling into
// the filter (assembly) direction.
package videofilter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/prismenc/frame"
	"github.com/zsiec/prismenc/nalutil"
)

// ErrInvalidColorspace is returned by Run when a raw frame's Colorspace
// is not one of the recognized values.
var ErrInvalidColorspace = errors.New("videofilter: invalid colorspace")

// Config selects which of the seven operations run and with what
// parameters, mirroring an output stream's video-filter configuration
// block.
type Config struct {
	PALBlankLines     bool
	TargetWidth       int // 0 disables resize
	TargetHeight      int
	DownconvertChroma bool // 4:2:2 -> 4:2:0 for interlaced sources
	Dither8Bit        bool // 10-bit -> 8-bit triangular dither
	DefaultSAR        frame.Rational
	H265              bool // NAL type-field width for passthrough detection
}

// Filter runs the fixed seven-operation pipeline over one raw video
// frame in place, returning an error only for a non-video frame or an
// unrecognized colorspace (all other problems are logged and degrade gracefully:
// malformed user-data entries are dropped, not fatal).
type Filter struct {
	cfg Config
	log *slog.Logger
}

// New creates a Filter for the given configuration.
func New(cfg Config, log *slog.Logger) *Filter {
	if log == nil {
		log = slog.Default()
	}
	return &Filter{cfg: cfg, log: log.With("component", "videofilter")}
}

// Run applies the pipeline to r. Operations are applied in this fixed
// order: passthrough check, PAL blank-lines, resize, interlaced chroma
// downconvert, 8-bit dither, user-data encapsulation, SAR defaulting.
func (f *Filter) Run(r *frame.Raw) error {
	if r.Kind != frame.KindVideo {
		return fmt.Errorf("videofilter: Run called on non-video frame kind %s", r.Kind)
	}

	if f.passthrough(r) {
		// Already-compressed source: every other operation is
		// meaningless against coded NAL bytes, so only SAR defaulting
		// and user-data encapsulation (which target the bitstream
		// itself) still apply.
		f.encapsulateUserData(r)
		f.defaultSAR(r)
		return nil
	}

	if !validColorspace(r.Colorspace) {
		return ErrInvalidColorspace
	}

	if f.cfg.PALBlankLines {
		f.blankPALLines(r)
	}
	if f.cfg.TargetWidth > 0 && f.cfg.TargetHeight > 0 {
		f.resize(r)
	}
	if f.cfg.DownconvertChroma && r.Interlaced {
		f.downconvertChroma(r)
	}
	if f.cfg.Dither8Bit {
		f.dither8Bit(r)
	}
	f.encapsulateUserData(r)
	f.defaultSAR(r)

	return nil
}

func validColorspace(cs frame.Colorspace) bool {
	switch cs {
	case frame.Colorspace422P10, frame.Colorspace422P8, frame.Colorspace420P10, frame.Colorspace420P8:
		return true
	default:
		return false
	}
}

// passthrough reports whether r already carries compressed NAL data
// (capture hardware or an upstream stage already encoded it), in which
// case pixel-level operations must be skipped entirely.
func (f *Filter) passthrough(r *frame.Raw) bool {
	if !r.Compressed {
		return false
	}
	if len(r.NALUs) == 0 {
		return false
	}
	return true
}

// defaultSAR fills in the configured DefaultSAR (or 1:1 when none is
// configured) when the frame's sample aspect ratio is unset. A SAR
// already set on the frame is kept; no SAR is derived from AFD or WSS.
func (f *Filter) defaultSAR(r *frame.Raw) {
	if r.SAR.Num == 0 || r.SAR.Den == 0 {
		if f.cfg.DefaultSAR.Num != 0 && f.cfg.DefaultSAR.Den != 0 {
			r.SAR = f.cfg.DefaultSAR
		} else {
			r.SAR = frame.Rational{Num: 1, Den: 1}
		}
	}
}

// compressedNALKeyframe reports whether any NAL unit in any of a
// passthrough frame's NALUs buffers is a keyframe.
func (f *Filter) compressedNALKeyframe(r *frame.Raw) bool {
	for _, nalu := range r.NALUs {
		units := nalutil.ParseAnnexB(nalu, f.cfg.H265)
		for _, u := range units {
			if nalutil.IsKeyframe(u.Type, f.cfg.H265) {
				return true
			}
		}
	}
	return false
}
