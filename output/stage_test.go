package output

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/prismenc/ctrl"
	"github.com/zsiec/prismenc/nalutil"
	"github.com/zsiec/prismenc/queue"
	"github.com/zsiec/prismenc/tsmux"
)

func testProgram() tsmux.ProgramConfig {
	return tsmux.ProgramConfig{
		ProgramNumber: 1,
		PMTPID:        0x1000,
		PCRPID:        0x0100,
		Streams: []tsmux.StreamConfig{
			{PID: 0x0100, Kind: tsmux.StreamVideo, Codec: tsmux.CodecH264},
		},
	}
}

// bufferWithPCR builds a realistic tsmux.Buffer carrying one video PES
// packet with a PCR attached, via the real Assembler.
func bufferWithPCR(t *testing.T, videoData []byte, pcr27M int64) *tsmux.Buffer {
	t.Helper()
	asm := tsmux.NewAssembler(testProgram())
	pts := int64(90_000)
	pkts, err := asm.WritePES(tsmux.StreamConfig{PID: 0x0100, Kind: tsmux.StreamVideo, Codec: tsmux.CodecH264}, pts, nil, videoData, &pcr27M)
	if err != nil {
		t.Fatalf("WritePES: %v", err)
	}
	return &tsmux.Buffer{Data: tsmux.ConcatPackets(pkts), PCRs27M: []int64{pcr27M}}
}

type fakeWriter struct {
	writes [][]byte
	marks  [][]PCRMark
	err    error
}

func (w *fakeWriter) Write(ctx context.Context, data []byte, pcrs []PCRMark) error {
	if w.err != nil {
		return w.err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	w.writes = append(w.writes, cp)
	w.marks = append(w.marks, pcrs)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func testInQueue() *queue.Queue[*tsmux.Buffer] {
	return queue.New[*tsmux.Buffer]("output-in", 32, queue.OverflowBlock, nil)
}

func TestBuildPCRMarksLocatesOffset(t *testing.T) {
	buf := bufferWithPCR(t, []byte("keyframe-payload"), 123456)
	marks := buildPCRMarks(buf.Data, buf.PCRs27M)
	if len(marks) != 1 {
		t.Fatalf("got %d marks, want 1", len(marks))
	}
	if marks[0].Offset != 0 {
		t.Fatalf("offset = %d, want 0 (PCR on the first packet)", marks[0].Offset)
	}
	if marks[0].PCR27M != 123456 {
		t.Fatalf("PCR = %d, want 123456", marks[0].PCR27M)
	}
}

func TestBuildPCRMarksNoPCRValues(t *testing.T) {
	buf := bufferWithPCR(t, []byte("x"), 0)
	if marks := buildPCRMarks(buf.Data, nil); marks != nil {
		t.Fatalf("expected nil marks, got %v", marks)
	}
}

func TestStageWritesBufferAndUpdatesStats(t *testing.T) {
	in := testInQueue()
	w := &fakeWriter{}
	s := New(Config{Name: "test"}, w, in)

	buf := bufferWithPCR(t, []byte("payload"), 1000)
	in.Push(buf)
	in.Cancel()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(w.writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(w.writes))
	}
	stats := s.Stats()
	if stats.FramesIn != 1 || stats.FramesOut != 1 {
		t.Fatalf("stats = %+v, want FramesIn=1 FramesOut=1", stats)
	}
	if stats.Dropped != 0 {
		t.Fatalf("dropped = %d, want 0", stats.Dropped)
	}
}

func TestStageCountsWriteFailureAsDropped(t *testing.T) {
	in := testInQueue()
	w := &fakeWriter{err: errWriteBoom{}}
	s := New(Config{Name: "test"}, w, in)

	in.Push(bufferWithPCR(t, []byte("payload"), 1000))
	in.Cancel()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := s.Stats()
	if stats.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", stats.Dropped)
	}
	if stats.FramesOut != 0 {
		t.Fatalf("framesOut = %d, want 0", stats.FramesOut)
	}
}

type errWriteBoom struct{}

func (errWriteBoom) Error() string { return "boom" }

func TestStageStampsWireTimeMarker(t *testing.T) {
	marker := nalutil.BuildMarker()
	payload := append([]byte{0x00, 0x00, 0x00, 0x01, 0x06}, marker...) // fake SEI NAL prefix
	buf := bufferWithPCR(t, payload, 1000)

	in := testInQueue()
	w := &fakeWriter{}
	s := New(Config{Name: "test", SEITimestamping: true}, w, in)
	fixed := time.Unix(1700000000, 0)
	s.now = func() time.Time { return fixed }

	in.Push(buf)
	in.Cancel()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	written := w.writes[0]
	off := nalutil.FindMarker(written)
	if off < 0 {
		t.Fatal("expected marker to still be present after stamping")
	}
	got, err := nalutil.ReadField(written, off, nalutil.FieldTransmittedToWire)
	if err != nil {
		t.Fatalf("ReadField: %v", err)
	}
	// StampField/ReadField reserve bit 56 as the non-zero marker byte
	// nalutil relies on to avoid an emulation-prevention escape, so it
	// never round-trips; compare with the same bit cleared.
	want := fixed.UnixNano() &^ (1 << 56)
	if got != want {
		t.Fatalf("stamped time = %d, want %d", got, want)
	}
}

func clearFaultInjection(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"udp_output.drop_next_video_packet",
		"udp_output.drop_next_audio_packet",
		"udp_output.drop_next_pat_packet",
		"udp_output.drop_next_pmt_packet",
		"udp_output.scramble_next_video_packet",
		"udp_output.tei_next_packet",
		"udp_output.bad_sync_next_packet",
		"video_encoder.sei_timestamping",
	} {
		if err := ctrl.SetInt64(name, 0); err != nil {
			t.Fatalf("SetInt64(%s): %v", name, err)
		}
	}
}

func TestStageDropNextVideoPacketRemovesExactlyOnePacket(t *testing.T) {
	clearFaultInjection(t)
	defer clearFaultInjection(t)

	buf := bufferWithPCR(t, []byte("payload"), 1000)
	origPackets := len(buf.Data) / tsmux.PacketSize

	if err := ctrl.SetInt64("udp_output.drop_next_video_packet", 1); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}

	in := testInQueue()
	w := &fakeWriter{}
	s := New(Config{Name: "test", VideoPID: 0x0100}, w, in)
	in.Push(buf)
	in.Cancel()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	written := w.writes[0]
	if got := len(written) / tsmux.PacketSize; got != origPackets-1 {
		t.Fatalf("got %d packets, want %d", got, origPackets-1)
	}
	if ctrl.Load().DropNextVideoPacket {
		t.Fatal("expected drop_next_video_packet consumed")
	}
}

func TestStageDropNextVideoPacketSurvivesWhenNoVideoPIDConfigured(t *testing.T) {
	clearFaultInjection(t)
	defer clearFaultInjection(t)

	buf := bufferWithPCR(t, []byte("payload"), 1000)
	if err := ctrl.SetInt64("udp_output.drop_next_video_packet", 1); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}

	in := testInQueue()
	w := &fakeWriter{}
	// VideoPID left at zero: this destination doesn't track video, so
	// the fault-injection variable must remain armed for later use.
	s := New(Config{Name: "test"}, w, in)
	in.Push(buf)
	in.Cancel()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !ctrl.Load().DropNextVideoPacket {
		t.Fatal("expected drop_next_video_packet to survive (no matching packet found)")
	}
}

func TestStageScrambleNextVideoPacketSetsControlBits(t *testing.T) {
	clearFaultInjection(t)
	defer clearFaultInjection(t)

	buf := bufferWithPCR(t, []byte("payload"), 1000)
	if err := ctrl.SetInt64("udp_output.scramble_next_video_packet", 1); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}

	in := testInQueue()
	w := &fakeWriter{}
	s := New(Config{Name: "test", VideoPID: 0x0100}, w, in)
	in.Push(buf)
	in.Cancel()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	written := w.writes[0]
	if written[3]&0xC0 != 0xC0 {
		t.Fatalf("transport_scrambling_control = 0x%02X, want 0xC0 bits set", written[3]&0xC0)
	}
}

func TestStageBadSyncNextPacketCorruptsSyncByte(t *testing.T) {
	clearFaultInjection(t)
	defer clearFaultInjection(t)

	buf := bufferWithPCR(t, []byte("payload"), 1000)
	if err := ctrl.SetInt64("udp_output.bad_sync_next_packet", 1); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}

	in := testInQueue()
	w := &fakeWriter{}
	s := New(Config{Name: "test"}, w, in)
	in.Push(buf)
	in.Cancel()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	written := w.writes[0]
	if written[0] == tsmux.SyncByte {
		t.Fatal("expected first packet's sync byte corrupted")
	}
}

func TestStageVideoEncoderSEITimestampingViaCtrl(t *testing.T) {
	clearFaultInjection(t)
	defer clearFaultInjection(t)

	marker := nalutil.BuildMarker()
	payload := append([]byte{0x00, 0x00, 0x00, 0x01, 0x06}, marker...)
	buf := bufferWithPCR(t, payload, 1000)

	if err := ctrl.SetInt64("video_encoder.sei_timestamping", 1); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}

	in := testInQueue()
	w := &fakeWriter{}
	s := New(Config{Name: "test"}, w, in) // SEITimestamping left false in Config
	in.Push(buf)
	in.Cancel()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	off := nalutil.FindMarker(w.writes[0])
	if off < 0 {
		t.Fatal("expected marker present")
	}
	if got, err := nalutil.ReadField(w.writes[0], off, nalutil.FieldTransmittedToWire); err != nil || got == 0 {
		t.Fatalf("expected FieldTransmittedToWire stamped, got %d err %v", got, err)
	}
}

func TestStageRunReturnsOnCancelWithNoInput(t *testing.T) {
	in := testInQueue()
	w := &fakeWriter{}
	s := New(Config{Name: "test"}, w, in)
	in.Cancel()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Stats().FramesIn != 0 {
		t.Fatal("expected no frames processed")
	}
}
