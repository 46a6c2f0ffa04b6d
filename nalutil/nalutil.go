// Package nalutil provides Annex-B NAL unit parsing shared by the video
// filter (compressed-passthrough detection) and encoder/output stages
// (SEI latency-probe stamping), generalized from H.264 SPS/NAL scanning
// into a codec-agnostic form.
package nalutil

// NALUnit is a single parsed NAL unit, including its NAL header byte(s)
// but excluding the Annex-B start code. Offset is the byte offset of
// Data within the buffer ParseAnnexB was called on, used by callers that
// need to overwrite bytes in place (SEI stamping).
type NALUnit struct {
	Type   byte
	Data   []byte
	Offset int
}

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	H264TypeSlice = 1
	H264TypeIDR   = 5
	H264TypeSEI   = 6
	H264TypeSPS   = 7
	H264TypePPS   = 8
	H264TypeAUD   = 9
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1), taken from the 6-bit
// nal_unit_type field in the first header byte.
const (
	H265TypeIDRWRADL  = 19
	H265TypeIDRNLP    = 20
	H265TypeVPS       = 32
	H265TypeSPS       = 33
	H265TypePPS       = 34
	H265TypePrefixSEI = 39
	H265TypeSuffixSEI = 40
)

// ParseAnnexB scans an Annex-B byte stream for 3-byte (0x000001) or
// 4-byte (0x00000001) start codes and returns the NAL units between
// them. h265 selects the 6-bit (H.265) vs 5-bit (H.264) type field.
func ParseAnnexB(data []byte, h265 bool) []NALUnit {
	var units []NALUnit
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}

		nalData := data[pos.dataStart:end]
		var nalType byte
		if h265 {
			nalType = (nalData[0] >> 1) & 0x3F
		} else {
			nalType = nalData[0] & 0x1F
		}

		units = append(units, NALUnit{
			Type:   nalType,
			Data:   nalData,
			Offset: pos.dataStart,
		})
	}

	return units
}

// IsKeyframe reports whether nalType is an IDR-carrying slice type for
// the given codec family.
func IsKeyframe(nalType byte, h265 bool) bool {
	if h265 {
		return nalType == H265TypeIDRWRADL || nalType == H265TypeIDRNLP
	}
	return nalType == H264TypeIDR
}

// IsParameterSet reports whether nalType is SPS/PPS/VPS — used by the
// video filter's passthrough check to recognize an already-compressed
// elementary stream handed through unmodified.
func IsParameterSet(nalType byte, h265 bool) bool {
	if h265 {
		return nalType == H265TypeVPS || nalType == H265TypeSPS || nalType == H265TypePPS
	}
	return nalType == H264TypeSPS || nalType == H264TypePPS
}

// RemoveEmulationPrevention strips 0x03 emulation-prevention bytes from
// a NAL's RBSP payload (everything after the NAL header byte(s)).
func RemoveEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}
