// Package syntest generates synthetic raw video and audio frames for
// exercising the pipeline without vendor capture hardware: solid-color
// or checkerboard 4:2:2 video at a configurable resolution/frame rate,
// and a sine-tone PCM audio track. Fills the role a gen-streams style
// tool fulfills (producing deterministic broadcast-realistic fixtures
// for pipeline tests); such tools typically work out of process by
// driving ffmpeg against downloaded film sources, which is not an
// option for an in-process capture.Source, so frame generation here is
// written directly against frame.Raw instead.
package syntest

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/zsiec/prismenc/capture"
	"github.com/zsiec/prismenc/frame"
)

// Pattern selects the synthetic video content.
type Pattern int

// Recognized patterns.
const (
	PatternSolidColor Pattern = iota
	PatternCheckerboard
)

// Config parameterizes a synthetic source.
type Config struct {
	Width, Height int
	FrameRate     frame.Rational
	Pattern       Pattern
	// ToneHz is the sine-tone audio frequency; 0 disables audio frames.
	ToneHz     float64
	SampleRate int
	Channels   int
	Log        *slog.Logger
}

// Source is a capture.Source that emits synthetic frame.Raw values at
// the configured frame rate until its context is canceled.
type Source struct {
	cfg    Config
	frames chan *frame.Raw
	log    *slog.Logger
}

// New starts a synthetic source. The returned Source begins generating
// frames immediately in a background goroutine tied to ctx.
func New(ctx context.Context, cfg Config) *Source {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.FrameRate.Num == 0 || cfg.FrameRate.Den == 0 {
		cfg.FrameRate = frame.Rational{Num: 30000, Den: 1001}
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}

	s := &Source{
		cfg:    cfg,
		frames: make(chan *frame.Raw, 8),
		log:    log.With("component", "syntest"),
	}
	go s.run(ctx)
	return s
}

func (s *Source) Frames() <-chan *frame.Raw { return s.frames }

func (s *Source) Capabilities() capture.Capabilities {
	return capture.Capabilities{}
}

func (s *Source) Close() error {
	return nil
}

func (s *Source) run(ctx context.Context) {
	defer close(s.frames)

	frameDur := time.Duration(float64(time.Second) * float64(s.cfg.FrameRate.Den) / float64(s.cfg.FrameRate.Num))
	if frameDur <= 0 {
		frameDur = time.Second / 30
	}
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	var seq int64
	videoTick27M := int64(0)
	videoStep27M := int64(27_000_000) * int64(s.cfg.FrameRate.Den) / int64(s.cfg.FrameRate.Num)

	audioSamplesPerFrame := 0
	if s.cfg.ToneHz > 0 {
		audioSamplesPerFrame = s.cfg.SampleRate * s.cfg.FrameRate.Den / s.cfg.FrameRate.Num
	}
	audioTick27M := int64(0)
	audioStep27M := videoStep27M

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			wall := now
			v := s.buildVideoFrame(seq, wall, videoTick27M)
			select {
			case s.frames <- v:
			case <-ctx.Done():
				return
			}

			if audioSamplesPerFrame > 0 {
				a := s.buildAudioFrame(audioSamplesPerFrame, wall, audioTick27M)
				select {
				case s.frames <- a:
				case <-ctx.Done():
					return
				}
			}

			seq++
			videoTick27M += videoStep27M
			audioTick27M += audioStep27M
		}
	}
}

func (s *Source) buildVideoFrame(seq int64, wall time.Time, pts27M int64) *frame.Raw {
	w, h := s.cfg.Width, s.cfg.Height
	y := make([]byte, w*h)
	u := make([]byte, w*h/2)
	v := make([]byte, w*h/2)

	fillPlane(y, w, h, s.cfg.Pattern, seq, 0)
	fillPlane(u, w/2, h, s.cfg.Pattern, seq, 1)
	fillPlane(v, w/2, h, s.cfg.Pattern, seq, 2)

	return &frame.Raw{
		Kind:       frame.KindVideo,
		HW:         frame.HWTimestamps{WallClock: wall, VideoPTS27M: pts27M, AudioPTS27M: pts27M},
		PTS:        pts27M,
		Planes:     [][]byte{y, u, v},
		Strides:    []int{w, w / 2, w / 2},
		Width:      w,
		Height:     h,
		Colorspace: frame.Colorspace422P8,
		SAR:        frame.Rational{Num: 1, Den: 1},
	}
}

// fillPlane writes a solid mid-gray/mid-chroma value, or for the
// checkerboard pattern an alternating block pattern that shifts one
// pixel per frame (wrapping back every 16 frames) so a viewer can see
// motion.
func fillPlane(plane []byte, w, h int, pattern Pattern, seq int64, planeIdx int) {
	base := byte(128)
	if planeIdx == 0 {
		base = 96
	}
	if pattern == PatternSolidColor {
		for i := range plane {
			plane[i] = base
		}
		return
	}
	const block = 16
	shift := int(seq) % block
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			checker := ((row/block)+((col+shift)/block))%2 == 0
			val := base
			if checker {
				val = base/2 + 32
			}
			plane[row*w+col] = val
		}
	}
}

func (s *Source) buildAudioFrame(sampleCount int, wall time.Time, pts27M int64) *frame.Raw {
	layout := frame.LayoutStereo
	if s.cfg.Channels == 1 {
		layout = frame.LayoutMono
	} else if s.cfg.Channels >= 6 {
		layout = frame.Layout51
	}

	samples := make([][]int32, layout.Channels())
	for ch := range samples {
		buf := make([]int32, sampleCount)
		for i := range buf {
			t := float64(i) / float64(s.cfg.SampleRate)
			buf[i] = int32(0.25 * math.MaxInt32 * math.Sin(2*math.Pi*s.cfg.ToneHz*t))
		}
		samples[ch] = buf
	}

	return &frame.Raw{
		Kind:          frame.KindAudioPCM,
		HW:            frame.HWTimestamps{WallClock: wall, VideoPTS27M: pts27M, AudioPTS27M: pts27M},
		PTS:           pts27M,
		Samples:       samples,
		ChannelLayout: layout,
		SampleRate:    s.cfg.SampleRate,
		SampleFmt:     frame.SampleFormatS32P,
		SampleCount:   sampleCount,
	}
}
