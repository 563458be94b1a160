package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// ForwardStats tracks packets dropped on the forwarding path.
type ForwardStats interface {
	AddDropped()
}

// PacketForwarder handles asynchronous forwarding of UDP packets to another
// address, typically a second analysis host replaying the same sensor feed.
// Forwarding never blocks the receive loop: when the buffer is full the
// packet is dropped and counted.
type PacketForwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	stats       ForwardStats
	logInterval time.Duration
	address     string
}

// NewPacketForwarder creates a new packet forwarder that sends packets to the
// specified address.
func NewPacketForwarder(addr string, port int, stats ForwardStats, logInterval time.Duration) (*PacketForwarder, error) {
	forwardAddress := fmt.Sprintf("%s:%d", addr, port)
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000), // Buffer 1000 packets
		stats:       stats,
		logInterval: logInterval,
		address:     forwardAddress,
	}, nil
}

// Start begins the packet forwarding goroutine that processes packets from
// the channel. It logs dropped packets at the specified interval and handles
// context cancellation.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet := <-f.channel:
				_, err := f.conn.Write(packet)
				if err != nil {
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				// Only log if we have dropped packets in this interval
				if droppedCount > 0 && lastError != nil {
					log.Printf("Dropped %d forwarded packets due to errors (latest: %v)", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	log.Printf("Forwarding packets to %s", f.address)
}

// ForwardAsync sends a packet to the forwarding channel in a non-blocking
// manner. If the channel is full, the packet is dropped and the drop counter
// is incremented.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	// The receive buffer is reused per read, so the forwarded copy must own
	// its bytes.
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		if f.stats != nil {
			f.stats.AddDropped()
		}
	}
}

// Close closes the UDP connection and channel.
func (f *PacketForwarder) Close() error {
	close(f.channel)
	return f.conn.Close()
}
