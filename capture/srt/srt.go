// Package srt implements an SRT-based capture.Adapter for contribution
// feeds that deliver an already-compressed Annex-B elementary stream —
// the "capture hardware did compression" passthrough case, carried over
// the network instead of an SDI/HDMI cable. Built on the same srtgo
// listener/caller wiring (socket setup, accept-reject-by-StreamID, read
// loop) used for contribution ingest generally, repurposed from
// "receive a contribution feed for demux and viewer distribution" to
// "receive an elementary stream and hand it to the pipeline as
// passthrough raw frames," so the byte-pipe-to-a-registry step is
// replaced with parsing each read directly into a frame.Raw.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/prismenc/capture"
	"github.com/zsiec/prismenc/frame"
	"github.com/zsiec/prismenc/nalutil"
)

// readBufferSize is sized 1316*10: 1316 bytes is the standard SRT
// payload size (7 MPEG-TS packets' worth), sized up for a comfortable
// read granularity.
const readBufferSize = 1316 * 10

// latencyNs is the SRT latency setting (120ms), standard contribution-
// feed tuning.
const latencyNs = 120_000_000

// Mode selects whether an Adapter listens for inbound publish
// connections or dials a remote source.
type Mode int

// Recognized modes.
const (
	ModeListen Mode = iota
	ModeCall
)

// Config parameterizes an Adapter.
type Config struct {
	Mode Mode
	// Addr is the local listen address (ModeListen) or the remote
	// address to dial (ModeCall).
	Addr string
	// StreamID is matched against an inbound connection's StreamID in
	// ModeListen (empty accepts any non-empty StreamID, via an
	// AcceptRejectFunc), or set as the outbound StreamID in ModeCall.
	StreamID string
	H265     bool // NAL type-field width for Annex-B parsing
	Log      *slog.Logger
}

// Adapter implements capture.Adapter over one SRT listener or caller.
type Adapter struct {
	cfg Config
	log *slog.Logger
}

// New creates an Adapter for cfg.
func New(cfg Config) *Adapter {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{cfg: cfg, log: log.With("component", "capture-srt")}
}

// Probe reports the single Annex-B elementary-stream descriptor this
// adapter exposes; the actual resolution/frame rate are not knowable
// until the stream's SPS/VPS arrives, so Probe returns a stream
// identity only, and the pipeline's filter stage treats it as
// passthrough without needing pixel dimensions.
func (a *Adapter) Probe(ctx context.Context) ([]capture.StreamDescriptor, error) {
	return []capture.StreamDescriptor{{
		ID:   "srt-video",
		Kind: capture.StreamKindVideo,
	}}, nil
}

// Open accepts (ModeListen) or dials (ModeCall) one SRT connection and
// returns a Source streaming frame.Raw passthrough frames parsed from
// it.
func (a *Adapter) Open(ctx context.Context, sd capture.StreamDescriptor) (capture.Source, error) {
	switch a.cfg.Mode {
	case ModeListen:
		return a.openListener(ctx)
	case ModeCall:
		return a.openCaller(ctx)
	default:
		return nil, fmt.Errorf("capture/srt: unknown mode %d", a.cfg.Mode)
	}
}

func (a *Adapter) openListener(ctx context.Context) (capture.Source, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	l, err := srtgo.Listen(a.cfg.Addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SRT listen on %s: %w", a.cfg.Addr, err)
	}
	a.log.Info("listening", "addr", a.cfg.Addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		if a.cfg.StreamID != "" && req.StreamID != a.cfg.StreamID {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	conn, err := l.Accept()
	if err != nil {
		return nil, fmt.Errorf("SRT accept: %w", err)
	}
	a.log.Info("publish", "remote", conn.RemoteAddr())

	return newSource(ctx, conn, a.cfg.H265, a.log), nil
}

func (a *Adapter) openCaller(ctx context.Context) (capture.Source, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	cfg.StreamID = a.cfg.StreamID

	conn, err := srtgo.Dial(a.cfg.Addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SRT dial failed: %w", err)
	}
	a.log.Info("connected", "addr", a.cfg.Addr)

	return newSource(ctx, conn, a.cfg.H265, a.log), nil
}

// Source streams frame.Raw passthrough frames parsed from one SRT
// connection's Annex-B byte stream.
type Source struct {
	conn   *srtgo.Conn
	h265   bool
	log    *slog.Logger
	frames chan *frame.Raw
}

func newSource(ctx context.Context, conn *srtgo.Conn, h265 bool, log *slog.Logger) *Source {
	s := &Source{
		conn:   conn,
		h265:   h265,
		log:    log,
		frames: make(chan *frame.Raw, 8),
	}
	go s.run(ctx)
	return s
}

func (s *Source) Frames() <-chan *frame.Raw { return s.frames }

func (s *Source) Capabilities() capture.Capabilities {
	return capture.Capabilities{Compressed: true}
}

func (s *Source) Close() error {
	return s.conn.Close()
}

// run reads the connection until it closes or ctx is canceled, emitting
// one passthrough frame.Raw per read that contains at least one
// complete Annex-B NAL unit. This is a simplification of the general
// byte-pipe-to-demuxer model: a contribution encoder's SRT writes
// typically align on NAL boundaries, so one read is treated as one
// frame-worth of NALs rather than re-assembling access units across
// reads.
func (s *Source) run(ctx context.Context) {
	defer close(s.frames)
	defer s.conn.Close()

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := s.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read error", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}

		f := parseChunk(buf[:n], s.h265)
		if f == nil {
			continue
		}

		select {
		case s.frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

// parseChunk splits one SRT read into its Annex-B NAL units and builds
// the passthrough frame.Raw for it, or returns nil if the chunk
// contained no parseable NAL unit.
func parseChunk(buf []byte, h265 bool) *frame.Raw {
	units := nalutil.ParseAnnexB(buf, h265)
	if len(units) == 0 {
		return nil
	}

	nalus := make([][]byte, len(units))
	for i, u := range units {
		nalus[i] = u.Data
	}

	return &frame.Raw{
		Kind:       frame.KindVideo,
		Compressed: true,
		NALUs:      nalus,
	}
}
