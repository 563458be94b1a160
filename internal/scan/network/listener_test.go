package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

// MockPacketStats implements PacketStatsInterface for testing
type MockPacketStats struct {
	mu         sync.Mutex
	droppedCnt int
	logCalls   int
}

func (m *MockPacketStats) AddDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedCnt++
}

func (m *MockPacketStats) LogStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logCalls++
}

// MockHandler implements PacketHandler for testing
type MockHandler struct {
	mu      sync.Mutex
	packets [][]byte
	times   []time.Time
}

func (m *MockHandler) HandlePacket(raw []byte, captureTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(raw))
	copy(cp, raw)
	m.packets = append(m.packets, cp)
	m.times = append(m.times, captureTime)
	return nil
}

func (m *MockHandler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.packets)
}

func TestNewUDPListenerDefaults(t *testing.T) {
	listener := NewUDPListener(UDPListenerConfig{
		Address: ":7502",
		RcvBuf:  1024 * 1024,
	})
	if listener == nil {
		t.Fatal("NewUDPListener returned nil")
	}
	if listener.logInterval != time.Minute {
		t.Errorf("default log interval = %v, want 1m", listener.logInterval)
	}
	if listener.maxPacket != 64*1024 {
		t.Errorf("default max packet = %d, want 65536", listener.maxPacket)
	}
	if _, ok := listener.stats.(*noopStats); !ok {
		t.Errorf("default stats = %T, want *noopStats", listener.stats)
	}
}

func TestUDPListenerReceivesPackets(t *testing.T) {
	handler := &MockHandler{}
	listener := NewUDPListener(UDPListenerConfig{
		Address:   "127.0.0.1:0",
		MaxPacket: 2048,
		Handler:   handler,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- listener.Start(ctx) }()

	// Wait for the socket to bind.
	var addr net.Addr
	deadline := time.Now().Add(2 * time.Second)
	for addr == nil {
		if time.Now().After(deadline) {
			t.Fatal("listener did not bind in time")
		}
		addr = listener.LocalAddr()
		time.Sleep(5 * time.Millisecond)
	}

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	before := time.Now()
	payloads := [][]byte{
		[]byte("packet-one"),
		[]byte("packet-two"),
		[]byte("packet-three"),
	}
	for _, p := range payloads {
		if _, err := conn.Write(p); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline = time.Now().Add(2 * time.Second)
	for handler.count() < len(payloads) {
		if time.Now().After(deadline) {
			t.Fatalf("received %d packets, want %d", handler.count(), len(payloads))
		}
		time.Sleep(5 * time.Millisecond)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	for i, want := range payloads {
		if string(handler.packets[i]) != string(want) {
			t.Errorf("packet %d = %q, want %q", i, handler.packets[i], want)
		}
		if handler.times[i].Before(before) {
			t.Errorf("packet %d capture time %v predates send", i, handler.times[i])
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("listener did not stop after cancellation")
	}
}

func TestPacketForwarderDropsWhenFull(t *testing.T) {
	// A forwarder that never starts its worker fills its buffer and then
	// counts drops.
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sink.Close()

	stats := &MockPacketStats{}
	fwd, err := NewPacketForwarder("127.0.0.1", sink.LocalAddr().(*net.UDPAddr).Port, stats, time.Minute)
	if err != nil {
		t.Fatalf("NewPacketForwarder: %v", err)
	}
	defer fwd.Close()

	for i := 0; i < 1001; i++ {
		fwd.ForwardAsync([]byte("p"))
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()
	if stats.droppedCnt != 1 {
		t.Errorf("dropped = %d, want 1", stats.droppedCnt)
	}
}

func TestReplayPCAPFileStub(t *testing.T) {
	// Without the pcap build tag the replayer reports that support is
	// disabled rather than panicking.
	err := ReplayPCAPFile(context.Background(), "missing.pcap", 7502, nil, nil, nil)
	if err == nil {
		t.Fatal("expected an error from the stub or a missing file")
	}
}
