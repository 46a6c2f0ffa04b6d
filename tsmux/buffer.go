package tsmux

// Buffer is a contiguous run of PacketSize-aligned transport stream
// packets produced by one mux-stage processing cycle, labeled with the
// PCR values it carries — the unit spec.md §4.6 describes as "a
// muxed-data buffer ... labeled with the set of PCR values it contains,"
// handed to the mux-smoothing queue.
type Buffer struct {
	Data    []byte  // concatenated PacketSize-byte packets
	PCRs27M []int64 // PCR values carried by packets in Data, in order
}

// ConcatPackets joins a list of transport stream packets into one
// contiguous byte slice, the shape Buffer.Data and output.Writer expect.
func ConcatPackets(packets [][]byte) []byte {
	out := make([]byte, 0, len(packets)*PacketSize)
	for _, p := range packets {
		out = append(out, p...)
	}
	return out
}
