// Package tsmux assembles an MPEG-2 Transport Stream from elementary
// PES data, SCTE-35 splice sections, and SMPTE-2038 ancillary PES
// payloads, mirroring the packet/PSI/PES shapes an MPEG-2 demuxer
// parses, in the opposite (assembly) direction.
package tsmux

import "fmt"

const (
	PacketSize = 188
	SyncByte   = 0x47

	// Well-known PIDs.
	PIDPAT = 0x0000

	streamTypeH264       = 0x1B
	streamTypeH265       = 0x24
	streamTypeADTSAAC    = 0x0F
	streamTypeLATMAAC    = 0x11
	streamTypeSCTE35     = 0x86
	streamTypePrivateSec = 0x05 // private_sections, used for SMPTE-2038 when carried as data
)

// StreamKind identifies the elementary stream category an Assembler PID
// carries, used to choose the PMT stream_type and PES stream_id.
type StreamKind int

const (
	StreamVideo StreamKind = iota
	StreamAudio
	StreamSCTE35
	StreamSMPTE2038
)

// Codec names the elementary codec carried by a video/audio StreamKind.
type Codec int

const (
	CodecNone Codec = iota
	CodecH264
	CodecH265
	CodecAACADTS
	CodecAACLATM
)

// StreamConfig describes one elementary stream the Assembler multiplexes.
type StreamConfig struct {
	PID   uint16
	Kind  StreamKind
	Codec Codec
	// StreamConfig does not select PCR insertion: WritePES writes a PCR
	// adaptation field whenever its pcr27M argument is non-nil.
}

// ProgramConfig describes the single program this Assembler emits. Only
// one program per transport stream is modeled, matching this pipeline's
// single-program-per-instance scope.
type ProgramConfig struct {
	ProgramNumber uint16
	PMTPID        uint16
	PCRPID        uint16
	Streams       []StreamConfig
}

// Assembler builds 188-byte transport stream packets for a single
// program. It is not safe for concurrent use by multiple goroutines
// without external synchronization — matching the single-writer
// assumption of the mux stage that owns it.
type Assembler struct {
	program ProgramConfig
	cc      map[uint16]uint8 // continuity_counter per PID
	version uint8            // shared PAT/PMT version_number
}

// NewAssembler creates an Assembler for the given program layout.
func NewAssembler(program ProgramConfig) *Assembler {
	return &Assembler{
		program: program,
		cc:      make(map[uint16]uint8),
	}
}

func (a *Assembler) nextCC(pid uint16) uint8 {
	cc := a.cc[pid]
	a.cc[pid] = (cc + 1) & 0x0F
	return cc
}

// streamTypeFor returns the PMT stream_type byte for a configured stream.
func streamTypeFor(sc StreamConfig) (uint8, error) {
	switch sc.Kind {
	case StreamVideo:
		switch sc.Codec {
		case CodecH264:
			return streamTypeH264, nil
		case CodecH265:
			return streamTypeH265, nil
		}
	case StreamAudio:
		switch sc.Codec {
		case CodecAACADTS:
			return streamTypeADTSAAC, nil
		case CodecAACLATM:
			return streamTypeLATMAAC, nil
		}
	case StreamSCTE35:
		return streamTypeSCTE35, nil
	case StreamSMPTE2038:
		return streamTypePrivateSec, nil
	}
	return 0, fmt.Errorf("tsmux: no stream_type mapping for kind=%d codec=%d", sc.Kind, sc.Codec)
}

// pesStreamID returns the PES stream_id byte for a stream kind, per the
// ranges ISO/IEC 13818-1 Table 2-22 assigns.
func pesStreamID(kind StreamKind) uint8 {
	switch kind {
	case StreamVideo:
		return 0xE0
	case StreamAudio:
		return 0xC0
	default:
		return 0xBD // private_stream_1, used for SCTE-35 and SMPTE-2038
	}
}
