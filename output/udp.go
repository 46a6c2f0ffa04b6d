package output

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// defaultPktSize is the conventional 7-TS-packet UDP payload size
// (7*188 = 1316 bytes), the same figure capture/srt documents for SRT's
// own MPEG-TS-over-datagram payload sizing.
const defaultPktSize = 7 * 188

// UDPWriter writes packet groups as a sequence of UDP datagrams, each
// holding up to PktSize bytes (a whole number of 188-byte TS packets).
type UDPWriter struct {
	conn    *net.UDPConn
	pktSize int
}

// NewUDPWriter dials a UDP target, unicast or multicast (no multicast
// group is joined). TTL and a local interface name configure multicast scope;
// Reuse enables SO_REUSEADDR-equivalent behavior via net.ListenConfig
// is not exposed by net.DialUDP, so Reuse is accepted for API symmetry
// with the URL grammar but has no effect on a unicast/simple dial path.
func NewUDPWriter(t Target) (*UDPWriter, error) {
	if t.Scheme != SchemeUDP && t.Scheme != SchemeRTP {
		return nil, fmt.Errorf("output: NewUDPWriter requires a udp:// or rtp:// target, got scheme %d", t.Scheme)
	}
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", t.Host, t.Port))
	if err != nil {
		return nil, fmt.Errorf("output: resolve %s:%d: %w", t.Host, t.Port, err)
	}

	var laddr *net.UDPAddr
	if t.LocalPort != 0 {
		laddr = &net.UDPAddr{Port: t.LocalPort}
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("output: dial udp %s:%d: %w", t.Host, t.Port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if t.TTL > 0 {
		_ = pc.SetMulticastTTL(t.TTL)
	}
	if t.MIface != "" {
		if iface, err := net.InterfaceByName(t.MIface); err == nil {
			_ = pc.SetMulticastInterface(iface)
		}
	}

	pktSize := t.PktSize
	if pktSize <= 0 {
		pktSize = defaultPktSize
	}
	return &UDPWriter{conn: conn, pktSize: pktSize}, nil
}

// Write splits data into PktSize-aligned datagrams and writes each in
// turn, stopping at the first error.
func (w *UDPWriter) Write(ctx context.Context, data []byte, pcrs []PCRMark) error {
	for off := 0; off < len(data); off += w.pktSize {
		end := off + w.pktSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := w.conn.Write(data[off:end]); err != nil {
			return fmt.Errorf("output: udp write: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// Close closes the underlying socket.
func (w *UDPWriter) Close() error {
	return w.conn.Close()
}

// writeRaw writes buf as a single datagram unchanged, the primitive
// RTPWriter builds its own header-plus-TS-group datagrams on top of.
func (w *UDPWriter) writeRaw(ctx context.Context, buf []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := w.conn.Write(buf)
	return err
}
