package scte

import (
	"encoding/binary"
	"fmt"
)

// MPEGPTSHz is the rate SCTE-35 (and MPEG-TS PCR/PTS generally) expresses
// time in, distinct from the pipeline's internal 27 MHz reference clock.
const MPEGPTSHz = 90_000

// TicksToMPEGPTS converts a 27 MHz pipeline tick count to a 90 kHz
// splice_time.pts_time / pts_adjustment value, per spec.md §4.9's
// "convert to SCTE-35 section bytes" step.
func TicksToMPEGPTS(ticks27M int64) uint64 {
	return uint64(ticks27M / 300)
}

// SpliceRequest is the subset of an ANSI/SCTE-104 splice_request_data
// operation this pipeline understands, already lifted from SDI VANC by
// the capture layer. Full SCTE-104 multiple_operation_message decoding
// (VANC line location, checksum, the dozen other operation types) is
// vendor-SDK/VANC-extraction territory and stays out of scope per
// spec.md §1; this package starts from the one operation the mux path
// cares about.
type SpliceRequest struct {
	SpliceEventID     uint32
	OutOfNetwork      bool
	PreRollMillis     uint16 // time from VANC capture to the intended splice point
	HasBreakDuration  bool
	BreakDurationSecs uint16
	UniqueProgramID   uint16
	AvailNum          uint8
	AvailsExpected    uint8
}

// spliceRequestRecordLen is the fixed-size encoding this pipeline's VANC
// extraction layer is assumed to hand the mux: event_id(4) + flags(1) +
// pre_roll_ms(2) + break_duration_secs(2) + unique_program_id(2) +
// avail_num(1) + avails_expected(1).
const spliceRequestRecordLen = 13

const (
	flagOutOfNetwork     = 0x01
	flagHasBreakDuration = 0x02
)

// DecodeSpliceRequest parses a frame.SCTE104VANC payload into a
// SpliceRequest.
func DecodeSpliceRequest(payload []byte) (SpliceRequest, error) {
	if len(payload) < spliceRequestRecordLen {
		return SpliceRequest{}, fmt.Errorf("scte: splice_request_data payload too short: got %d, want %d", len(payload), spliceRequestRecordLen)
	}
	flags := payload[4]
	return SpliceRequest{
		SpliceEventID:     binary.BigEndian.Uint32(payload[0:4]),
		OutOfNetwork:      flags&flagOutOfNetwork != 0,
		HasBreakDuration:  flags&flagHasBreakDuration != 0,
		PreRollMillis:     binary.BigEndian.Uint16(payload[5:7]),
		BreakDurationSecs: binary.BigEndian.Uint16(payload[7:9]),
		UniqueProgramID:   binary.BigEndian.Uint16(payload[9:11]),
		AvailNum:          payload[11],
		AvailsExpected:    payload[12],
	}, nil
}

// EncodeSpliceRequest is the inverse of DecodeSpliceRequest, used to
// synthesize VANC payloads for SCTE-104 injection tests.
func EncodeSpliceRequest(req SpliceRequest) []byte {
	buf := make([]byte, spliceRequestRecordLen)
	binary.BigEndian.PutUint32(buf[0:4], req.SpliceEventID)
	var flags byte
	if req.OutOfNetwork {
		flags |= flagOutOfNetwork
	}
	if req.HasBreakDuration {
		flags |= flagHasBreakDuration
	}
	buf[4] = flags
	binary.BigEndian.PutUint16(buf[5:7], req.PreRollMillis)
	binary.BigEndian.PutUint16(buf[7:9], req.BreakDurationSecs)
	binary.BigEndian.PutUint16(buf[9:11], req.UniqueProgramID)
	buf[11] = req.AvailNum
	buf[12] = req.AvailsExpected
	return buf
}

// ToSection builds the outbound splice_info_section for a SpliceRequest,
// per spec.md §4.9's conversion path:
//
//   - splice_time.pts_time is the splice point in 90 kHz units, computed
//     from the VANC-carrying raw frame's own audio-master PTS
//     (frame.SCTE104VANC.SourcePTS27M) plus the request's pre-roll.
//   - pts_adjustment carries the codec's known frame-latency (in frame
//     durations, already expressed in 27 MHz ticks by the caller), so a
//     downstream decoder computes the effective splice PTS as
//     pts_time + pts_adjustment — exactly mirroring the real SCTE-35
//     purpose of pts_adjustment (compensating for the delay a message
//     picks up crossing a re-timing boundary, here the encoder).
func ToSection(req SpliceRequest, sourcePTS27M int64, codecLatencyTicks27M int64) *SpliceInfoSection {
	preRollTicks := int64(req.PreRollMillis) * 27000
	ptsTime := TicksToMPEGPTS(sourcePTS27M + preRollTicks)

	insert := &SpliceInsert{
		SpliceEventID:         req.SpliceEventID,
		OutOfNetworkIndicator: req.OutOfNetwork,
		SpliceTime:            SpliceTime{PTSTime: &ptsTime},
		UniqueProgramID:       uint32(req.UniqueProgramID),
		AvailNum:              uint32(req.AvailNum),
		AvailsExpected:        uint32(req.AvailsExpected),
	}
	if req.HasBreakDuration {
		insert.BreakDuration = &BreakDuration{
			AutoReturn: true,
			Duration:   uint64(req.BreakDurationSecs) * MPEGPTSHz,
		}
	}

	return &SpliceInfoSection{
		PTSAdjustment: TicksToMPEGPTS(codecLatencyTicks27M),
		SpliceCommand: insert,
	}
}
