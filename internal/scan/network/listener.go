// Package network provides the packet sources for a sensor stream: a live
// UDP listener and a capture-file replayer. Both push (raw bytes, capture
// timestamp) pairs synchronously into a PacketHandler, so the decode path is
// interchangeable between live and replayed traffic.
package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// PacketHandler consumes one raw packet with its capture timestamp. The
// scan pipeline implements it; handlers are driven by exactly one source at
// a time.
type PacketHandler interface {
	HandlePacket(raw []byte, captureTime time.Time) error
}

// PacketStatsInterface provides packet statistics management.
type PacketStatsInterface interface {
	AddDropped()
	LogStats()
}

// UDPListener receives sensor packets from a UDP socket and pushes them into
// a PacketHandler, with optional asynchronous forwarding to a second
// consumer.
type UDPListener struct {
	address     string
	rcvBuf      int
	maxPacket   int
	logInterval time.Duration
	mu          sync.Mutex
	conn        *net.UDPConn
	stats       PacketStatsInterface
	forwarder   *PacketForwarder
	handler     PacketHandler
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	MaxPacket   int // largest expected datagram; size from the packet format
	LogInterval time.Duration
	Stats       PacketStatsInterface
	Forwarder   *PacketForwarder
	Handler     PacketHandler
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	// Provide a no-op stats implementation when none is supplied to avoid
	// nil pointer dereferences in the packet handling and logging paths.
	var stats PacketStatsInterface
	if config.Stats != nil {
		stats = config.Stats
	} else {
		stats = &noopStats{}
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	maxPacket := config.MaxPacket
	if maxPacket == 0 {
		maxPacket = 64 * 1024
	}

	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		maxPacket:   maxPacket,
		logInterval: logInterval,
		stats:       stats,
		forwarder:   config.Forwarder,
		handler:     config.Handler,
	}
}

// noopStats is a PacketStatsInterface implementation that does nothing.
// It is used as a safe default when no stats collector is provided.
type noopStats struct{}

func (n *noopStats) AddDropped() {}
func (n *noopStats) LogStats()   {}

// LocalAddr returns the bound socket address, for callers that listen on an
// ephemeral port. Valid only while Start is running.
func (l *UDPListener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start begins listening for UDP packets and processing them. It blocks
// until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	log.Printf("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	go l.startStatsLogging(ctx)

	buffer := make([]byte, l.maxPacket+1)

	for {
		select {
		case <-ctx.Done():
			log.Print("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
			// Set read deadline to allow checking context cancellation
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, addr, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue // Continue on timeout to check context
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("UDP read error: %v", err)
				continue
			}

			packet := buffer[:n]
			if err := l.handlePacket(packet, time.Now()); err != nil {
				log.Printf("Error handling packet from %v: %v", addr, err)
			}
		}
	}
}

// startStatsLogging starts a goroutine that periodically logs packet statistics.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	// Trigger an initial stats report shortly after startup to avoid a long
	// silence on first-run. Then continue on the configured interval.
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// handlePacket processes a single received UDP packet.
func (l *UDPListener) handlePacket(packet []byte, captureTime time.Time) error {
	// Forward packet asynchronously if forwarding is enabled
	if l.forwarder != nil {
		l.forwarder.ForwardAsync(packet)
	}

	if l.handler != nil {
		// Decode errors are recoverable; the handler logs and counts them.
		return l.handler.HandlePacket(packet, captureTime)
	}
	return nil
}

// Close closes the UDP listener and releases resources.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
