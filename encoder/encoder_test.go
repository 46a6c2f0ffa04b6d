package encoder

import (
	"context"
	"testing"

	"github.com/zsiec/prismenc/avclock"
	"github.com/zsiec/prismenc/codec"
	"github.com/zsiec/prismenc/internal/codectest"
	"github.com/zsiec/prismenc/frame"
	"github.com/zsiec/prismenc/nalutil"
	"github.com/zsiec/prismenc/queue"
	"github.com/zsiec/prismenc/scte"
)

func newQueues(t *testing.T) (*queue.Queue[*frame.Raw], *queue.Queue[*frame.Coded]) {
	t.Helper()
	in := queue.New[*frame.Raw]("enc-in", 8, queue.OverflowBlock, nil)
	out := queue.New[*frame.Coded]("enc-out", 8, queue.OverflowBlock, nil)
	return in, out
}

func videoStage(t *testing.T, cfg Config) (*Stage, *queue.Queue[*frame.Raw], *queue.Queue[*frame.Coded]) {
	t.Helper()
	in, out := newQueues(t)
	cfg.Video = true
	if cfg.OutputStreamID == "" {
		cfg.OutputStreamID = "prog1-video"
	}
	sd := codec.OutputStreamDescriptor{
		OutputStreamID: cfg.OutputStreamID,
		Video:          true,
		FrameRate:      frame.Rational{Num: 30, Den: 1},
		BitrateKbps:    5000,
		VBVBufKbps:     2500,
		GOPMax:         30,
	}
	s, err := New(cfg, codectest.NewVideoAdapter(), sd, in, out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, in, out
}

func TestProcessRebasesVideoClock(t *testing.T) {
	s, _, out := videoStage(t, Config{SchedulingOffsetTicks: 5000})

	r := &frame.Raw{
		Kind: frame.KindVideo,
		HW:   frame.HWTimestamps{AudioPTS27M: 1_000_000},
	}
	if err := s.process(r); err != nil {
		t.Fatalf("process: %v", err)
	}

	c, ok := out.Pop()
	if !ok {
		t.Fatal("expected a coded frame")
	}
	wantDTS, wantPTS := avclock.VideoRebase(1_000_000, 5000, 0, 0)
	if c.RealDTS != wantDTS || c.RealPTS != wantPTS {
		t.Fatalf("RealDTS/RealPTS = %d/%d, want %d/%d", c.RealDTS, c.RealPTS, wantDTS, wantPTS)
	}
	if c.Type != frame.CodedVideo {
		t.Fatalf("Type = %v, want CodedVideo", c.Type)
	}
	if !c.RandomAccess {
		t.Fatal("first frame should be RandomAccess")
	}
}

func TestProcessRebasesAudioClock(t *testing.T) {
	in, out := newQueues(t)
	cfg := Config{OutputStreamID: "prog1-audio", LookaheadTicks: 2000, AudioOffsetTicks: 300}
	sd := codec.OutputStreamDescriptor{OutputStreamID: cfg.OutputStreamID, SampleRate: 48000, Channels: 2}
	s, err := New(cfg, codectest.NewAudioAdapter(), sd, in, out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := &frame.Raw{
		Kind:        frame.KindAudioPCM,
		HW:          frame.HWTimestamps{AudioPTS27M: 500_000},
		Samples:     [][]int32{{1, 2}, {3, 4}},
		SampleCount: 2,
		SampleRate:  48000,
	}
	if err := s.process(r); err != nil {
		t.Fatalf("process: %v", err)
	}

	c, ok := out.Pop()
	if !ok {
		t.Fatal("expected a coded frame")
	}
	want := avclock.AudioSchedule(500_000, 2000, 300)
	if c.PTS != want {
		t.Fatalf("PTS = %d, want %d", c.PTS, want)
	}
	if c.Type != frame.CodedAudio {
		t.Fatalf("Type = %v, want CodedAudio", c.Type)
	}
}

func TestProcessConvertsSCTE104ToSCTE35(t *testing.T) {
	s, _, out := videoStage(t, Config{CodecLatencyTicks: 900})

	req := scte.SpliceRequest{SpliceEventID: 42, OutOfNetwork: true, PreRollMillis: 2000}
	r := &frame.Raw{
		Kind: frame.KindVideo,
		HW:   frame.HWTimestamps{AudioPTS27M: 1_000_000},
		Metadata: []frame.MetadataItem{
			frame.SCTE104VANC{Payload: scte.EncodeSpliceRequest(req), SourcePTS27M: 1_000_000},
		},
	}
	if err := s.process(r); err != nil {
		t.Fatalf("process: %v", err)
	}

	c, ok := out.Pop()
	if !ok {
		t.Fatal("expected a coded frame")
	}
	if len(c.Metadata) != 1 {
		t.Fatalf("got %d metadata items, want 1", len(c.Metadata))
	}
	section, ok := c.Metadata[0].(frame.SCTE35Section)
	if !ok {
		t.Fatalf("metadata item type = %T, want frame.SCTE35Section", c.Metadata[0])
	}
	decoded, err := scte.DecodeBytes(section.Section)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	insert, ok := decoded.SpliceCommand.(*scte.SpliceInsert)
	if !ok {
		t.Fatalf("command type = %T, want *scte.SpliceInsert", decoded.SpliceCommand)
	}
	if insert.SpliceEventID != 42 {
		t.Fatalf("SpliceEventID = %d, want 42", insert.SpliceEventID)
	}
}

func TestProcessForwardsSMPTE2038Unchanged(t *testing.T) {
	s, _, out := videoStage(t, Config{})

	r := &frame.Raw{
		Kind:     frame.KindVideo,
		HW:       frame.HWTimestamps{AudioPTS27M: 1},
		Metadata: []frame.MetadataItem{frame.SMPTE2038{PESPayload: []byte{0xAA, 0xBB}}},
	}
	if err := s.process(r); err != nil {
		t.Fatalf("process: %v", err)
	}

	c, _ := out.Pop()
	if len(c.Metadata) != 1 {
		t.Fatalf("got %d metadata items, want 1", len(c.Metadata))
	}
	pes, ok := c.Metadata[0].(frame.SMPTE2038)
	if !ok {
		t.Fatalf("metadata item type = %T, want frame.SMPTE2038", c.Metadata[0])
	}
	if string(pes.PESPayload) != "\xAA\xBB" {
		t.Fatalf("PESPayload = %v, want unchanged", pes.PESPayload)
	}
}

func TestConvertMetadataRejectsUnrecognizedItem(t *testing.T) {
	s, _, _ := videoStage(t, Config{})
	_, err := s.convertMetadata(frame.SCTE35Section{Section: []byte{0x01}})
	if err == nil {
		t.Fatal("expected an error converting an already-converted item")
	}
}

func TestSEITimestampingPrependsMarkerNAL(t *testing.T) {
	s, _, out := videoStage(t, Config{SEITimestamping: true})

	r := &frame.Raw{Kind: frame.KindVideo, HW: frame.HWTimestamps{AudioPTS27M: 1}}
	if err := s.process(r); err != nil {
		t.Fatalf("process: %v", err)
	}

	c, _ := out.Pop()
	off := nalutil.FindMarker(c.Data)
	if off < 0 {
		t.Fatal("expected a latency-probe SEI marker in coded data")
	}
	entered, err := nalutil.ReadField(c.Data, off, nalutil.FieldEnteredEncoder)
	if err != nil {
		t.Fatalf("ReadField(EnteredEncoder): %v", err)
	}
	exited, err := nalutil.ReadField(c.Data, off, nalutil.FieldExitedEncoder)
	if err != nil {
		t.Fatalf("ReadField(ExitedEncoder): %v", err)
	}
	if entered == 0 || exited == 0 {
		t.Fatalf("expected both fields stamped, got entered=%d exited=%d", entered, exited)
	}
	if c.Data[4] != 0x06 {
		t.Fatalf("expected SEI NAL header byte 0x06 at offset 4, got %#x", c.Data[4])
	}
}

func TestRunDrainsUntilCanceled(t *testing.T) {
	s, in, out := videoStage(t, Config{})

	for i := 0; i < 3; i++ {
		in.Push(&frame.Raw{Kind: frame.KindVideo, HW: frame.HWTimestamps{AudioPTS27M: int64(i)}})
	}
	in.Cancel()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Stats().FramesIn != 3 || s.Stats().FramesOut != 3 {
		t.Fatalf("Stats = %+v, want 3 in / 3 out", s.Stats())
	}
	for i := 0; i < 3; i++ {
		if _, ok := out.Pop(); !ok {
			t.Fatalf("expected coded frame %d", i)
		}
	}
}

// fakeAdapter lets TestReconfigureReopensOnUnsupported force the
// Reconfigure-unsupported fallback path without depending on codectest's
// always-succeeds behavior.
type fakeAdapter struct {
	startCount int
	closed     bool
	lastSD     codec.OutputStreamDescriptor
}

func (f *fakeAdapter) Start(sd codec.OutputStreamDescriptor) error {
	f.startCount++
	f.lastSD = sd
	return nil
}

func (f *fakeAdapter) Submit(r *frame.Raw) error { r.Release(); return nil }

func (f *fakeAdapter) Poll() ([]codec.CodedBuffer, error) {
	return []codec.CodedBuffer{{}}, nil
}

func (f *fakeAdapter) Reconfigure(p codec.ParamSet) error {
	return codec.ErrReconfigureUnsupported{Param: "gop_max"}
}

func (f *fakeAdapter) Close() error { f.closed = true; return nil }

func TestReconfigureReopensOnUnsupported(t *testing.T) {
	in, out := newQueues(t)
	fa := &fakeAdapter{}
	sd := codec.OutputStreamDescriptor{OutputStreamID: "prog1-video", Video: true}
	s, err := New(Config{Video: true, OutputStreamID: "prog1-video"}, fa, sd, in, out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if fa.startCount != 1 {
		t.Fatalf("startCount = %d, want 1", fa.startCount)
	}

	if err := s.Reconfigure(codec.ParamSet{GOPMax: 60}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if fa.startCount != 2 {
		t.Fatalf("startCount after reconfigure = %d, want 2 (reopened)", fa.startCount)
	}
	if !fa.closed {
		t.Fatal("expected adapter to have been Closed before reopen")
	}
	if fa.lastSD.GOPMax != 60 {
		t.Fatalf("lastSD.GOPMax = %d, want 60", fa.lastSD.GOPMax)
	}
	if !s.forceIDR {
		t.Fatal("expected forceIDR to be armed after reopen")
	}

	r := &frame.Raw{Kind: frame.KindVideo, HW: frame.HWTimestamps{AudioPTS27M: 1}}
	if err := s.process(r); err != nil {
		t.Fatalf("process: %v", err)
	}
	c, _ := out.Pop()
	if !c.RandomAccess {
		t.Fatal("expected the first buffer after reopen to be forced RandomAccess")
	}
}

func TestNewPropagatesStartError(t *testing.T) {
	in, out := newQueues(t)
	_, err := New(Config{Video: true}, codectest.NewVideoAdapter(), codec.OutputStreamDescriptor{}, in, out)
	if err == nil {
		t.Fatal("expected an error starting a codec with an invalid (zero) frame rate")
	}
}
