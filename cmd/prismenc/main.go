// Command prismenc is a demo binary wiring a synthetic capture source
// through the full input -> filter -> encoder -> encoder-smoothing ->
// mux -> mux-smoothing -> output stage graph to one or more transport
// destinations, and exposing the runtime-variable control block (spec.md
// §6) over a small HTTP surface so an operator can poke it the way
// the corpus's cmd/prism exposes its own API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/prismenc/audiofilter"
	"github.com/zsiec/prismenc/avclock"
	"github.com/zsiec/prismenc/codec"
	"github.com/zsiec/prismenc/ctrl"
	"github.com/zsiec/prismenc/encoder"
	encsmoothing "github.com/zsiec/prismenc/encoder/smoothing"
	"github.com/zsiec/prismenc/frame"
	"github.com/zsiec/prismenc/input"
	"github.com/zsiec/prismenc/internal/codectest"
	"github.com/zsiec/prismenc/internal/stream"
	"github.com/zsiec/prismenc/internal/syntest"
	"github.com/zsiec/prismenc/mux"
	muxsmoothing "github.com/zsiec/prismenc/mux/smoothing"
	"github.com/zsiec/prismenc/output"
	"github.com/zsiec/prismenc/pipeline"
	"github.com/zsiec/prismenc/queue"
	"github.com/zsiec/prismenc/tsmux"
	"github.com/zsiec/prismenc/videofilter"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	targets := splitNonEmpty(envOr("OUTPUT_TARGETS", "file:out.ts"), ",")
	ctrlAddr := envOr("CTRL_ADDR", ":4445")

	log.Info("prismenc starting", "version", version, "targets", targets, "ctrl", ctrlAddr)

	mgr := stream.NewManager(log)

	g, err := buildProgram(log, programConfig{
		key:       "demo",
		targets:   targets,
		frameRate: frame.Rational{Num: 30000, Den: 1001},
		width:     1280,
		height:    720,
	})
	if err != nil {
		log.Error("failed to build program", "error", err)
		os.Exit(1)
	}
	mgr.Create("demo", g)

	g.Run(ctx)

	eg, ctx := errgroup.WithContext(ctx)

	ctrlSrv := &http.Server{Addr: ctrlAddr, Handler: ctrlMux(mgr)}
	eg.Go(func() error {
		log.Info("control HTTP server listening", "addr", ctrlAddr)
		if err := ctrlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return ctrlSrv.Shutdown(shutdownCtx)
	})

	<-ctx.Done()
	g.Shutdown()
	if errs := g.Stop(); len(errs) > 0 {
		for _, e := range errs {
			log.Error("stage error", "error", e)
		}
	}
	mgr.Remove("demo")

	if err := eg.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

type programConfig struct {
	key       string
	targets   []string
	frameRate frame.Rational
	width     int
	height    int
}

// buildProgram wires one synthetic capture source through the whole
// stage graph to every destination in cfg.targets, registering each
// stage in a fresh pipeline.Graph.
func buildProgram(log *slog.Logger, cfg programConfig) (*pipeline.Graph, error) {
	frameIntervalTicks := avclock.HZ27M * int64(cfg.frameRate.Den) / int64(cfg.frameRate.Num)

	src := syntest.New(context.Background(), syntest.Config{
		Width:      cfg.width,
		Height:     cfg.height,
		FrameRate:  cfg.frameRate,
		Pattern:    syntest.PatternCheckerboard,
		ToneHz:     440,
		SampleRate: 48000,
		Channels:   2,
		Log:        log,
	})

	origin := &avclock.Origin{}
	muxClock := avclock.NewMuxClock()
	dropFlags := ctrl.NewDropFlags()

	vf := videofilter.New(videofilter.Config{DefaultSAR: frame.Rational{Num: 1, Den: 1}}, log)
	af, err := audiofilter.New(audiofilter.Config{
		SDIAudioPair: 1,
		OutputLayout: frame.LayoutStereo,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("audiofilter: %w", err)
	}

	qRawVideo := queue.New[*frame.Raw]("video-raw", queue.DefaultCeiling, queue.OverflowFatal, nil)
	qRawAudio := queue.New[*frame.Raw]("audio-raw", 64, queue.OverflowBlock, nil)
	qVideoCoded := queue.New[*frame.Coded]("video-coded", 64, queue.OverflowBlock, nil)
	qMuxIn := queue.New[*frame.Coded]("mux-in", 64, queue.OverflowBlock, nil)
	qMuxOut := queue.New[*tsmux.Buffer]("mux-out", 64, queue.OverflowBlock, nil)
	qMuxSmoothed := queue.New[*tsmux.Buffer]("mux-smoothed", 64, queue.OverflowBlock, nil)

	videoSmoothing := encsmoothing.New(encsmoothing.Config{
		OutputStreamID: "video",
		FrameRate:      cfg.frameRate,
		BitrateKbps:    5000,
		VBVBufKbps:     10000,
		Log:            log,
	}, qVideoCoded, qMuxIn)

	videoAdapter := codectest.NewVideoAdapter()
	videoEnc, err := encoder.New(encoder.Config{
		OutputStreamID: "video",
		Video:          true,
		Log:            log,
		DropFlags:      dropFlags,
		DropFlagKey:    "video-encoder-drop",
	}, videoAdapter, codec.OutputStreamDescriptor{
		OutputStreamID: "video",
		Video:          true,
		Width:          cfg.width,
		Height:         cfg.height,
		FrameRate:      cfg.frameRate,
		BitrateKbps:    5000,
		VBVBufKbps:     10000,
		GOPMin:         30,
		GOPMax:         60,
	}, qRawVideo, qVideoCoded)
	if err != nil {
		return nil, fmt.Errorf("video encoder: %w", err)
	}

	audioAdapter := codectest.NewAudioAdapter()
	audioEnc, err := encoder.New(encoder.Config{
		OutputStreamID: "audio",
		Video:          false,
		Log:            log,
		DropFlags:      dropFlags,
		DropFlagKey:    "audio-encoder-drop",
	}, audioAdapter, codec.OutputStreamDescriptor{
		OutputStreamID: "audio",
		Video:          false,
		SampleRate:     48000,
		Channels:       2,
		Codec:          "aac",
	}, qRawAudio, qMuxIn)
	if err != nil {
		return nil, fmt.Errorf("audio encoder: %w", err)
	}

	muxStage := mux.New(mux.Config{
		Program: tsmux.ProgramConfig{
			ProgramNumber: 1,
			PMTPID:        0x1000,
			PCRPID:        0x100,
			Streams: []tsmux.StreamConfig{
				{PID: 0x100, Kind: tsmux.StreamVideo, Codec: tsmux.CodecH264},
				{PID: 0x101, Kind: tsmux.StreamAudio, Codec: tsmux.CodecAACADTS},
			},
		},
		Streams: map[string]tsmux.StreamConfig{
			"video": {PID: 0x100, Kind: tsmux.StreamVideo, Codec: tsmux.CodecH264},
			"audio": {PID: 0x101, Kind: tsmux.StreamAudio, Codec: tsmux.CodecAACADTS},
		},
		MuxClock:           muxClock,
		FrameIntervalTicks: frameIntervalTicks,
		DropFlags:          dropFlags,
		Log:                log,
	}, qMuxIn, qMuxOut)

	snap := ctrl.Load()
	muxSmoothingStage := muxsmoothing.New(muxsmoothing.Config{
		TrimMS:   int(snap.MuxSmootherTrimMS),
		MuxClock: muxClock,
		Log:      log,
	}, qMuxOut, qMuxSmoothed)

	destQueues := make([]*queue.Queue[*tsmux.Buffer], 0, len(cfg.targets))
	outputStages := make([]*output.Stage, 0, len(cfg.targets))
	for i, raw := range cfg.targets {
		t, err := output.ParseTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("output target %q: %w", raw, err)
		}
		w, err := output.NewWriter(t, uint32(0x1000+i))
		if err != nil {
			return nil, fmt.Errorf("output writer %q: %w", raw, err)
		}
		q := queue.New[*tsmux.Buffer](fmt.Sprintf("dest-%d", i), 64, queue.OverflowBlock, nil)
		destQueues = append(destQueues, q)
		outputStages = append(outputStages, output.New(output.Config{
			Name:     raw,
			VideoPID: 0x100,
			AudioPID: 0x101,
			PMTPID:   0x1000,
			Log:      log,
		}, w, q))
	}
	fanOut := output.NewFanOut(qMuxSmoothed, destQueues)

	inputStage := input.New(input.Config{
		InputStreamID: cfg.key,
		VideoRoute: &input.VideoRoute{
			OutputStreamID: "video",
			Filter:         vf,
			Queue:          qRawVideo,
			OnLOS:          videoSmoothing.ResetFill,
		},
		AudioRoutes: []input.AudioRoute{
			{OutputStreamID: "audio", Filter: af, Queue: qRawAudio},
		},
		Origin:             origin,
		MuxClock:           muxClock,
		DropFlags:          dropFlags,
		FrameIntervalTicks: frameIntervalTicks,
		Log:                log,
	}, src)

	graph := pipeline.New(log)
	graph.AddStage(pipeline.TierInput, cfg.key, inputStage)
	graph.AddStage(pipeline.TierEncoder, "video", videoEnc)
	graph.AddStage(pipeline.TierEncoder, "video-smoothing", videoSmoothing)
	graph.AddStage(pipeline.TierEncoder, "audio", audioEnc)
	graph.AddStage(pipeline.TierMux, "mux", muxStage)
	graph.AddStage(pipeline.TierMuxSmoothing, "mux-smoothing", muxSmoothingStage)
	graph.AddStage(pipeline.TierOutput, "fanout", fanOut)
	for i, stage := range outputStages {
		graph.AddStage(pipeline.TierOutput, fmt.Sprintf("dest-%d", i), stage)
	}

	return graph, nil
}

// ctrlMux builds the HTTP control surface spec.md §6 calls for: a
// listing of every runtime variable and per-name get/set, plus a
// snapshot of which programs are currently running.
func ctrlMux(mgr *stream.Manager) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /vars", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ctrl.Dump())
	})

	mux.HandleFunc("GET /vars/{name}", func(w http.ResponseWriter, r *http.Request) {
		v, err := ctrl.GetInt64(r.PathValue("name"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]int64{r.PathValue("name"): v})
	})

	mux.HandleFunc("POST /vars/{name}", func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("value")
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid value %q: %v", raw, err), http.StatusBadRequest)
			return
		}
		if err := ctrl.SetInt64(r.PathValue("name"), v); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]int64{r.PathValue("name"): v})
	})

	mux.HandleFunc("GET /programs", func(w http.ResponseWriter, r *http.Request) {
		programs := mgr.List()
		out := make([]map[string]any, len(programs))
		for i, p := range programs {
			out[i] = map[string]any{
				"key":        p.Key,
				"started_at": p.StartedAt,
			}
		}
		writeJSON(w, out)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
