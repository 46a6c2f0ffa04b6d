package codectest

import (
	"testing"

	"github.com/zsiec/prismenc/codec"
	"github.com/zsiec/prismenc/frame"
)

func testDescriptor() codec.OutputStreamDescriptor {
	return codec.OutputStreamDescriptor{
		OutputStreamID: "prog1-video",
		Video:          true,
		FrameRate:      frame.Rational{Num: 30, Den: 1},
		BitrateKbps:    5000,
		VBVBufKbps:     2500,
		GOPMax:         30,
	}
}

func TestVideoAdapterEmitsOneBufferPerSubmit(t *testing.T) {
	a := NewVideoAdapter()
	if err := a.Start(testDescriptor()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r := &frame.Raw{Kind: frame.KindVideo}
	if err := a.Submit(r); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	out, err := a.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d buffers, want 1", len(out))
	}
	if !out[0].RandomAccess {
		t.Fatal("first frame should be RandomAccess")
	}
}

func TestVideoAdapterGOPCadence(t *testing.T) {
	a := NewVideoAdapter()
	sd := testDescriptor()
	sd.GOPMax = 3
	if err := a.Start(sd); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := a.Submit(&frame.Raw{Kind: frame.KindVideo}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	out, _ := a.Poll()
	if len(out) != 6 {
		t.Fatalf("got %d buffers, want 6", len(out))
	}
	for i, b := range out {
		want := i%3 == 0
		if b.RandomAccess != want {
			t.Errorf("buffer %d RandomAccess = %v, want %v", i, b.RandomAccess, want)
		}
	}
}

func TestVideoAdapterVBVFullnessCapsAtVBVBufKbps(t *testing.T) {
	a := NewVideoAdapter()
	sd := testDescriptor()
	sd.BitrateKbps = 100000 // deliberately huge relative to VBVBufKbps
	sd.VBVBufKbps = 10
	if err := a.Start(sd); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := a.Submit(&frame.Raw{Kind: frame.KindVideo}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	out, _ := a.Poll()
	cap := sd.VBVBufKbps * 1000
	for i, b := range out {
		if b.CPBFinal > cap {
			t.Fatalf("buffer %d CPBFinal = %d, want <= %d", i, b.CPBFinal, cap)
		}
	}
}

func TestVideoAdapterReleasesSourceFrame(t *testing.T) {
	a := NewVideoAdapter()
	if err := a.Start(testDescriptor()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	released := false
	r := &frame.Raw{Kind: frame.KindVideo}
	r.SetPayload(&frame.BorrowedPayload{
		SlotID: 0,
		Return: func(slotID int) { released = true },
	})
	if err := a.Submit(r); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !released {
		t.Fatal("Submit did not release the source frame's payload")
	}
}

func TestVideoAdapterPassthroughPreservesNALUs(t *testing.T) {
	a := NewVideoAdapter()
	if err := a.Start(testDescriptor()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r := &frame.Raw{Kind: frame.KindVideo, Compressed: true, NALUs: [][]byte{{0x65, 0xAA, 0xBB}}}
	if err := a.Submit(r); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	out, _ := a.Poll()
	if len(out) != 1 {
		t.Fatalf("got %d buffers, want 1", len(out))
	}
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB}
	if len(out[0].Data) != len(want) {
		t.Fatalf("data = %v, want %v", out[0].Data, want)
	}
	for i := range want {
		if out[0].Data[i] != want[i] {
			t.Fatalf("data = %v, want %v", out[0].Data, want)
		}
	}
}

func TestVideoAdapterSubmitBeforeStartFails(t *testing.T) {
	a := NewVideoAdapter()
	if err := a.Submit(&frame.Raw{Kind: frame.KindVideo}); err == nil {
		t.Fatal("expected error submitting before Start")
	}
}

func TestAudioAdapterEmitsOneBufferPerSubmit(t *testing.T) {
	a := NewAudioAdapter()
	sd := codec.OutputStreamDescriptor{OutputStreamID: "prog1-audio", SampleRate: 48000, Channels: 2}
	if err := a.Start(sd); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r := &frame.Raw{
		Kind:        frame.KindAudioPCM,
		Samples:     [][]int32{{1, 2, 3}, {4, 5, 6}},
		SampleCount: 3,
		SampleRate:  48000,
	}
	if err := a.Submit(r); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	out, err := a.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d buffers, want 1", len(out))
	}
	if len(out[0].Data) != 3*2*4 {
		t.Fatalf("data length = %d, want %d", len(out[0].Data), 3*2*4)
	}
	if !out[0].RandomAccess {
		t.Fatal("audio buffers should always be RandomAccess")
	}
}

func TestAudioAdapterReconfigureBitrate(t *testing.T) {
	a := NewAudioAdapter()
	sd := codec.OutputStreamDescriptor{OutputStreamID: "prog1-audio", SampleRate: 48000}
	if err := a.Start(sd); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Reconfigure(codec.ParamSet{BitrateKbps: 192}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if a.sd.BitrateKbps != 192 {
		t.Fatalf("BitrateKbps = %d, want 192", a.sd.BitrateKbps)
	}
}
