// Package frame defines the raw and coded media units that flow through
// the prismcast pipeline, from capture through the encoder to the mux.
package frame

import "time"

// Kind identifies what a Raw frame carries.
type Kind int

// Recognized raw frame kinds.
const (
	KindVideo Kind = iota
	KindAudioPCM
	KindAudioBitstream
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudioPCM:
		return "audio-pcm"
	case KindAudioBitstream:
		return "audio-bitstream"
	default:
		return "unknown"
	}
}

// Colorspace enumerates the pixel formats the video filter recognizes.
type Colorspace int

// Recognized colorspaces. Anything else is rejected by the video filter
// with ErrInvalidColorspace.
const (
	ColorspaceUnknown Colorspace = iota
	Colorspace422P10
	Colorspace422P8
	Colorspace420P10
	Colorspace420P8
)

// SampleFormat enumerates the PCM sample encodings carried by an audio-PCM
// raw frame.
type SampleFormat int

// Recognized sample formats.
const (
	SampleFormatS32P SampleFormat = iota // planar signed 32-bit, the filter's working format
	SampleFormatS16P
)

// Rational is a numerator/denominator pair, used for SAR and frame rate.
type Rational struct {
	Num, Den int
}

// ChannelLayout names a PCM channel arrangement.
type ChannelLayout int

// Recognized channel layouts.
const (
	LayoutMono ChannelLayout = iota
	LayoutStereo
	Layout51
)

// Channels returns the channel count implied by the layout.
func (l ChannelLayout) Channels() int {
	switch l {
	case LayoutMono:
		return 1
	case LayoutStereo:
		return 2
	case Layout51:
		return 6
	default:
		return 0
	}
}

// HWTimestamps carries the hardware-clock readings an input adapter
// stamps on every raw frame at the instant of capture: the wall-clock
// arrival time, and the dual audio/video 27 MHz PTS pair (matching the
// MPEG-2 Systems 27 MHz system clock reference). Every raw frame, video
// or audio, carries both counters so the encoder stage can re-base
// video timestamps onto the elected audio master clock.
type HWTimestamps struct {
	WallClock   time.Time
	AudioPTS27M int64 // C_hw_audio at capture
	VideoPTS27M int64 // C_hw_video at capture
}

// Drift returns C_hw_audio - C_hw_video, the quantity the half-duplex
// correction decomposes into whole-frame and fractional components.
func (h HWTimestamps) Drift() int64 {
	return h.AudioPTS27M - h.VideoPTS27M
}

// UserDataItem is a sealed variant carried on a video raw frame's
// UserData list. Each concrete type corresponds to one SEI/VANC payload
// kind the video filter knows how to encapsulate: a move-only,
// type-safe list in place of a raw-pointer slice with ownership handed
// off by nulling the source pointer.
type UserDataItem interface {
	isUserDataItem()
}

// CEA608 carries raw CEA-608 byte pairs to be wrapped in an SEI user-data
// registered ITU-T T.35 payload ("GA94" framing).
type CEA608 struct {
	Bytes []byte
}

func (CEA608) isUserDataItem() {}

// CEA708 carries a CDP (Caption Distribution Packet) buffer to be wrapped
// in an SEI user-data registered ITU-T T.35 payload ("GA94" framing).
type CEA708 struct {
	CDP []byte
}

func (CEA708) isUserDataItem() {}

// AFD carries an Active Format Description code (SMPTE 2016-3).
type AFD struct {
	Code uint8
}

func (AFD) isUserDataItem() {}

// BarData carries top/bottom or left/right bar values accompanying an
// AFD code.
type BarData struct {
	Top, Bottom, Left, Right uint16
	HaveVertical             bool
	HaveHorizontal           bool
}

func (BarData) isUserDataItem() {}

// WSS carries a raw Wide Screen Signalling code to be converted to AFD.
type WSS struct {
	Code uint8
}

func (WSS) isUserDataItem() {}

// MetadataItem is a sealed variant carried opaquely from a raw frame to
// its coded frame, for SCTE-104/SMPTE-2038 passthrough. The encoder
// stage never interprets these beyond matching on type; it
// converts SCTE104VANC to a mux-queue SCTE-35 section and forwards
// SMPTE2038 unchanged.
type MetadataItem interface {
	isMetadataItem()
}

// SCTE104VANC is a raw SCTE-104 VANC payload as lifted from SDI ancillary
// data, destined for conversion to a SCTE-35 splice_info_section.
type SCTE104VANC struct {
	Payload []byte
	// SourcePTS27M is the source raw frame's audio PTS at the instant the
	// VANC line was captured, used to compute pts_adjustment.
	SourcePTS27M int64
}

func (SCTE104VANC) isMetadataItem() {}

// SMPTE2038 is a pre-built SMPTE 2038 PES payload, forwarded to the mux
// unchanged.
type SMPTE2038 struct {
	PESPayload []byte
}

func (SMPTE2038) isMetadataItem() {}

// SCTE35Section carries an already-encoded SCTE-35 splice_info_section,
// produced by the encoder stage's SCTE-104-to-35 conversion and
// destined for the mux stage's own PID. It replaces the
// SCTE104VANC item on a coded frame's Metadata list; the mux stage never
// sees raw VANC.
type SCTE35Section struct {
	Section []byte
}

func (SCTE35Section) isMetadataItem() {}

// Payload is the sum-type frame-data owner: video planes either live in
// heap buffers this package owns outright (Owned) or in a capture
// device's DMA ring slot that must be explicitly returned (Borrowed).
// Raw.Release dispatches on the variant so callers never need to know
// which kind they hold.
type Payload interface {
	release()
}

// OwnedPayload is heap memory the frame owns outright; Release is a no-op
// beyond letting the GC reclaim it, but is still called so test code can
// assert exactly-once release.
type OwnedPayload struct {
	Released bool
}

func (p *OwnedPayload) release() { p.Released = true }

// BorrowedPayload is capture-device memory (e.g. a DMA ring-buffer slot)
// that must be returned to the device via Return when the frame is done
// with it.
type BorrowedPayload struct {
	SlotID int
	Return func(slotID int)
}

func (p *BorrowedPayload) release() {
	if p.Return != nil {
		p.Return(p.SlotID)
	}
}

// Raw is the pre-encoder unit. Exactly one owner holds a Raw at any
// moment: the producing stage until it is pushed to a
// queue, then the consuming stage that pops it. Release must be called
// exactly once, by whichever stage finishes with the frame (the encoder
// after a successful Submit, or a filter stage that decides to discard
// it).
type Raw struct {
	Kind          Kind
	InputStreamID string
	HW            HWTimestamps
	PTS           int64

	// Video fields, valid when Kind == KindVideo.
	Planes      [][]byte
	Strides     []int
	Width       int
	Height      int
	Colorspace  Colorspace
	Interlaced  bool
	TFF         bool // top-field-first, meaningful only when Interlaced
	SAR         Rational
	AFDCode     int
	UserData    []UserDataItem
	Compressed  bool // true when capture hardware already compressed this frame (passthrough)
	NALUs       [][]byte

	// ExtraSEI holds already-encapsulated SEI payloads (RBSP bytes,
	// header included) the video filter produced from UserData. The
	// codec adapter's Submit is responsible for splicing these into its
	// "extra SEI" slot ahead of the coded picture's slice NALs, moving
	// ownership out of the raw frame atomically rather than via a
	// null-out-the-source-pointer handoff.
	ExtraSEI [][]byte

	// Audio-PCM fields, valid when Kind == KindAudioPCM.
	Samples       [][]int32 // planar, one slice per channel, SampleFormatS32P
	ChannelLayout ChannelLayout
	SampleRate    int
	SampleFmt     SampleFormat
	SampleCount   int

	// Audio-bitstream fields, valid when Kind == KindAudioBitstream.
	Bitstream []byte
	// SDIAudioPair is the 1-indexed SDI audio pair this already-encoded
	// bitstream (e.g. AC-3) was lifted from, used by audiofilter to match
	// it to the one bitstream encoder configured for that pair.
	SDIAudioPair int

	Metadata []MetadataItem

	payload Payload
}

// SetPayload attaches the owner of this frame's underlying buffers. It is
// set once by the producing stage (the capture adapter, typically).
func (r *Raw) SetPayload(p Payload) {
	r.payload = p
}

// Release destroys the frame's payload exactly once. Calling Release on a
// frame with no payload attached is a safe no-op, which keeps synthetic
// test frames (constructed without a capture adapter) simple to write.
func (r *Raw) Release() {
	if r.payload != nil {
		r.payload.release()
		r.payload = nil
	}
}

// CodedType identifies what a Coded frame carries.
type CodedType int

// Recognized coded frame types.
const (
	CodedVideo CodedType = iota
	CodedAudio
)

// Coded is the post-encoder unit. Produced by an encoder adapter,
// consumed (and released) by the mux stage, or released
// by an output/queue on cancellation.
type Coded struct {
	OutputStreamID string
	Type           CodedType
	Data           []byte

	PTS int64 // scheduling PTS, 27 MHz

	RealPTS int64 // content PTS, 27 MHz
	RealDTS int64 // content DTS, 27 MHz

	CPBInitial int64 // VBV initial arrival time, video only
	CPBFinal   int64 // VBV final arrival time, video only

	RandomAccess bool // true for I-pictures / IDR access units
	Priority     bool // true for I-picture, mirrors RandomAccess for most codecs

	HW HWTimestamps

	Metadata []MetadataItem
}

// Validate checks the ordering invariants required of every video coded
// frame. It is used by tests and may be called defensively
// by the encoder stage in debug builds; it is not called on the hot path
// to avoid per-frame allocation of the error string in the common case.
func (c *Coded) Validate() error {
	if c.Type != CodedVideo {
		return nil
	}
	if c.RealDTS > c.RealPTS {
		return errOrdering("real_dts > real_pts")
	}
	if c.CPBInitial > c.CPBFinal {
		return errOrdering("cpb_initial > cpb_final")
	}
	if c.CPBFinal > c.RealDTS {
		return errOrdering("cpb_final > real_dts")
	}
	return nil
}

type errOrdering string

func (e errOrdering) Error() string { return "frame: ordering invariant violated: " + string(e) }
