// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	applog "noisegate/internal/log"
	"noisegate/internal/telemetry"
	"noisegate/internal/transport"
)

// UDPSender sends gate snapshots as fixed-size binary packets (see packet.go).
// Raw byte slices are sent unchanged.
type UDPSender struct {
	conn       *net.UDPConn
	targetAddr *net.UDPAddr
	mu         sync.Mutex // Protects conn, sequence and packet
	closed     bool

	sequenceNum  uint32
	packetBuffer *bytes.Buffer
}

// NewUDPSender creates a new UDPSender targeting the specified address.
// The address should be in the format "host:port", e.g., "127.0.0.1:9090".
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}

	// No local port is needed for sending, so laddr is nil.
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	applog.Infof("UDP Sender: Connection established to %s", conn.RemoteAddr().String())

	return &UDPSender{
		conn:         conn,
		targetAddr:   udpAddr,
		packetBuffer: bytes.NewBuffer(make([]byte, 0, PacketSize)),
	}, nil
}

// Send transmits a telemetry.Snapshot (encoded) or a []byte (as is).
func (s *UDPSender) Send(data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("UDP sender is closed")
	}

	var payload []byte
	switch v := data.(type) {
	case telemetry.Snapshot:
		s.sequenceNum++
		s.packetBuffer.Reset()
		if err := EncodePacket(s.packetBuffer, s.sequenceNum, v); err != nil {
			return fmt.Errorf("failed to encode UDP packet: %w", err)
		}
		payload = s.packetBuffer.Bytes()
	case []byte:
		payload = v
	default:
		return fmt.Errorf("UDP sender: unsupported payload %T", data)
	}

	if _, err := s.conn.Write(payload); err != nil {
		applog.Debugf("UDP Sender: Error sending packet: %v", err)
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	return nil
}

// Close closes the underlying UDP connection.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.conn != nil {
		applog.Infof("UDP Sender: Closing connection to %s", s.conn.RemoteAddr().String())
		err := s.conn.Close()
		s.conn = nil
		if err != nil {
			return fmt.Errorf("failed to close UDP connection: %w", err)
		}
	}
	return nil
}

var _ transport.Transport = (*UDPSender)(nil)
