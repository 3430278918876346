package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	applog "freqsink/internal/log"
	"freqsink/internal/sink"
)

/*
UDP Frame Packet (BigEndian):

| Field           | Type      | Size (Bytes) | Description              |
|-----------------|-----------|--------------|--------------------------|
| Sequence Number | uint32    | 4            | Monotonically increasing |
| Timestamp       | int64     | 8            | Nanoseconds since epoch  |
| Row Count       | uint16    | 2            | nconnections + 1         |
| Row Length      | uint32    | 4            | FFT size at finalize     |
| Rows            | []float32 | nrows*len*4  | Row-major frame data     |
*/

// UDPWriter sends each frame as one binary UDP packet. Packets above
// the practical datagram limit are dropped with a warning instead of
// being fragmented here.
type UDPWriter struct {
	conn   *net.UDPConn
	mu     sync.Mutex
	closed bool

	sequenceNum  uint32
	packetBuffer *bytes.Buffer // reused across WriteFrame calls
}

// maxDatagram keeps packets under the common 64KiB UDP payload cap.
const maxDatagram = 65000

// NewUDPWriter dials the target address ("host:port") for frame
// delivery.
func NewUDPWriter(targetAddress string) (*UDPWriter, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address %q: %w", targetAddress, err)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP target %q: %w", targetAddress, err)
	}

	applog.Infof("UDPWriter: connected to %s", conn.RemoteAddr())
	return &UDPWriter{
		conn:         conn,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// WriteFrame packs the frame into the documented binary layout and
// sends it as a single datagram.
func (w *UDPWriter) WriteFrame(f *sink.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("UDP writer is closed")
	}

	nrows := f.NumRows()
	rowLen := f.RowLen()
	size := 18 + nrows*rowLen*4
	if size > maxDatagram {
		applog.Warnf("UDPWriter: frame packet %d bytes exceeds datagram limit, dropped", size)
		return nil
	}

	w.sequenceNum++
	w.packetBuffer.Reset()

	err := binary.Write(w.packetBuffer, binary.BigEndian, w.sequenceNum)
	if err == nil {
		err = binary.Write(w.packetBuffer, binary.BigEndian, time.Now().UnixNano())
	}
	if err == nil {
		err = binary.Write(w.packetBuffer, binary.BigEndian, uint16(nrows))
	}
	if err == nil {
		err = binary.Write(w.packetBuffer, binary.BigEndian, uint32(rowLen))
	}
	for _, row := range f.Rows {
		if err != nil {
			break
		}
		err = binary.Write(w.packetBuffer, binary.BigEndian, row)
	}
	if err != nil {
		return fmt.Errorf("failed to pack frame packet: %w", err)
	}

	if _, err := w.conn.Write(w.packetBuffer.Bytes()); err != nil {
		return fmt.Errorf("failed to send frame packet %d: %w", w.sequenceNum, err)
	}
	applog.Debugf("UDPWriter: sent packet %d (%d bytes)", w.sequenceNum, w.packetBuffer.Len())
	return nil
}

// Close closes the underlying connection.
func (w *UDPWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.conn != nil {
		applog.Infof("UDPWriter: closing connection to %s", w.conn.RemoteAddr())
		err := w.conn.Close()
		w.conn = nil
		if err != nil {
			return fmt.Errorf("failed to close UDP connection: %w", err)
		}
	}
	return nil
}

// Ensure UDPWriter satisfies the interface at compile time.
var _ FrameWriter = (*UDPWriter)(nil)
