package scan

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// PacketStats tracks packet and frame statistics with thread-safe operations.
type PacketStats struct {
	mu             sync.Mutex
	packetCount    int64
	byteCount      int64
	malformedCount int64
	droppedCount   int64
	columnCount    int64
	frameCount     int64
	lastReset      time.Time
}

// NewPacketStats creates a new PacketStats instance.
func NewPacketStats() *PacketStats {
	return &PacketStats{
		lastReset: time.Now(),
	}
}

// AddPacket increments packet count and byte count.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddMalformed increments the count of packets rejected by the decoder.
func (ps *PacketStats) AddMalformed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.malformedCount++
}

// AddDropped increments the count of packets dropped on forward.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// AddColumns increments the count of columns written into frames.
func (ps *PacketStats) AddColumns(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.columnCount += int64(count)
}

// AddFrames increments the completed-frame count.
func (ps *PacketStats) AddFrames(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.frameCount += int64(count)
}

// GetAndReset returns current stats and resets counters.
func (ps *PacketStats) GetAndReset() (packets, bytes, malformed, dropped, columns, frames int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packetCount
	bytes = ps.byteCount
	malformed = ps.malformedCount
	dropped = ps.droppedCount
	columns = ps.columnCount
	frames = ps.frameCount

	ps.packetCount = 0
	ps.byteCount = 0
	ps.malformedCount = 0
	ps.droppedCount = 0
	ps.columnCount = 0
	ps.frameCount = 0
	ps.lastReset = now

	return
}

// LogStats logs formatted per-second rates for the interval since the last
// reset.
func (ps *PacketStats) LogStats() {
	packets, bytes, malformed, dropped, columns, frames, duration := ps.GetAndReset()
	if packets > 0 || malformed > 0 {
		packetsPerSec := float64(packets) / duration.Seconds()
		mbPerSec := float64(bytes) / duration.Seconds() / (1024 * 1024)
		framesPerSec := float64(frames) / duration.Seconds()

		logMsg := fmt.Sprintf("Scan stats (/sec): %.2f MB, %.1f packets, %.1f frames, %s columns",
			mbPerSec, packetsPerSec, framesPerSec,
			FormatWithCommas(int64(float64(columns)/duration.Seconds())))

		if malformed > 0 {
			logMsg += fmt.Sprintf(", %d malformed", malformed)
		}
		if dropped > 0 {
			logMsg += fmt.Sprintf(", %d dropped on forward", dropped)
		}

		log.Print(logMsg)
	}
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
