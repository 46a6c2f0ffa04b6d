package videofilter

import (
	"fmt"

	"github.com/zsiec/prismenc/frame"
)

// ITU-T T.35 itu_t_t35 SEI payload framing constants.
const (
	seiPayloadTypeUserDataRegistered = 4
	t35CountryCodeUS                 = 0xB5
	t35ProviderATSC                  = 0x0031
)

var identifierGA94 = [4]byte{'G', 'A', '9', '4'}
var identifierDTG1 = [4]byte{'D', 'T', 'G', '1'}

// encapsulateUserData converts each UserData entry into an SEI payload
// appended to r.ExtraSEI, in encounter order, dropping (and logging)
// any entry that fails to encode — a frame with bad ancillary data
// should not lose its picture.
func (f *Filter) encapsulateUserData(r *frame.Raw) {
	for _, item := range r.UserData {
		var payload []byte
		switch v := item.(type) {
		case frame.CEA608:
			payload = buildGA94CCData(v.Bytes, nil)
		case frame.CEA708:
			payload = buildGA94FromCDP(v.CDP)
		case frame.AFD:
			payload = buildDTG1AFD(v.Code, nil)
		case frame.BarData:
			payload = buildDTG1BarData(v)
		case frame.WSS:
			code := wssToAFD(v.Code)
			r.AFDCode = int(code)
			payload = buildDTG1AFD(code, nil)
		default:
			f.log.Warn("unrecognized user-data item, dropping", "type", fmt.Sprintf("%T", item))
			continue
		}
		if payload == nil {
			f.log.Warn("malformed user-data item, dropping", "type", fmt.Sprintf("%T", item))
			continue
		}
		r.ExtraSEI = append(r.ExtraSEI, wrapSEI(seiPayloadTypeUserDataRegistered, payload))
	}
}

// wrapSEI wraps an already-built T.35 payload in the SEI message header
// (payload_type + payload_size using the FF-continuation encoding) plus
// rbsp_trailing_bits. The caller is responsible for NAL-header/start-code
// framing and emulation-prevention escaping at encode time.
func wrapSEI(payloadType int, payload []byte) []byte {
	var out []byte
	for payloadType >= 255 {
		out = append(out, 0xFF)
		payloadType -= 255
	}
	out = append(out, byte(payloadType))

	size := len(payload)
	for size >= 255 {
		out = append(out, 0xFF)
		size -= 255
	}
	out = append(out, byte(size))

	out = append(out, payload...)
	out = append(out, 0x80) // rbsp_trailing_bits
	return out
}

// buildGA94CCData builds an ATSC A/53 Part 4 cc_data() payload (the
// "GA94" T.35 framing) from raw CEA-608 line-21 byte pairs. field608
// selects which of the two field channels the pairs belong to; nil
// defaults to field 1.
func buildGA94CCData(pairs []byte, field608 *int) []byte {
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return nil
	}
	field := 0
	if field608 != nil {
		field = *field608
	}

	ccCount := len(pairs) / 2
	body := []byte{
		t35CountryCodeUS,
		byte(t35ProviderATSC >> 8), byte(t35ProviderATSC),
		identifierGA94[0], identifierGA94[1], identifierGA94[2], identifierGA94[3],
		0x03, // user_data_type_code = cc_data()
	}
	body = append(body, 0xC0|byte(ccCount), 0xFF) // process_cc_data_flag=1, cc_count, reserved

	ccType := byte(0) // NTSC_cc_field_1
	if field == 1 {
		ccType = 1
	}
	for i := 0; i < ccCount; i++ {
		body = append(body, 0xF8|0x04|ccType, pairs[i*2], pairs[i*2+1])
	}
	body = append(body, 0xFF) // marker_bits
	return body
}

// buildGA94FromCDP wraps an already-built CEA-708 CDP (Caption
// Distribution Packet) in the same GA94 T.35 header, for sources that
// hand the filter a complete CDP rather than raw 608 pairs.
func buildGA94FromCDP(cdp []byte) []byte {
	if len(cdp) == 0 {
		return nil
	}
	body := []byte{
		t35CountryCodeUS,
		byte(t35ProviderATSC >> 8), byte(t35ProviderATSC),
		identifierGA94[0], identifierGA94[1], identifierGA94[2], identifierGA94[3],
		0x03,
	}
	return append(body, cdp...)
}

// buildDTG1AFD builds a DTG1-framed Active Format Description (SMPTE
// 2016-3) payload, with optional accompanying bar data.
func buildDTG1AFD(code uint8, bar *frame.BarData) []byte {
	body := []byte{
		t35CountryCodeUS,
		byte(t35ProviderATSC >> 8), byte(t35ProviderATSC),
		identifierDTG1[0], identifierDTG1[1], identifierDTG1[2], identifierDTG1[3],
		0x01,           // active_format_flag = 1
		0x40 | code&0x0F,
	}
	if bar != nil {
		body = append(body, encodeBarData(*bar)...)
	}
	return body
}

func buildDTG1BarData(bar frame.BarData) []byte {
	body := []byte{
		t35CountryCodeUS,
		byte(t35ProviderATSC >> 8), byte(t35ProviderATSC),
		identifierDTG1[0], identifierDTG1[1], identifierDTG1[2], identifierDTG1[3],
		0x00, // active_format_flag = 0, bar data only
	}
	return append(body, encodeBarData(bar)...)
}

func encodeBarData(bar frame.BarData) []byte {
	flags := byte(0)
	if bar.HaveVertical {
		flags |= 0xC0
	}
	if bar.HaveHorizontal {
		flags |= 0x30
	}
	return []byte{
		flags,
		byte(bar.Top >> 8), byte(bar.Top),
		byte(bar.Bottom >> 8), byte(bar.Bottom),
		byte(bar.Left >> 8), byte(bar.Left),
		byte(bar.Right >> 8), byte(bar.Right),
	}
}

// wssToAFD maps a PAL Wide Screen Signalling code to its closest AFD
// code per the ETSI EN 300 294 / SMPTE 2016 cross-reference table.
func wssToAFD(wss uint8) uint8 {
	switch wss & 0x0F {
	case 0x08: // 16:9 full format
		return 0x08
	case 0x07, 0x0C: // 14:9 letterbox
		return 0x0A
	case 0x0B: // 16:9 letterbox
		return 0x0B
	default: // 4:3 full format
		return 0x09
	}
}
