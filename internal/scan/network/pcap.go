//go:build pcap
// +build pcap

package network

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// ReplayPCAPFile reads sensor packets from a capture file and pushes them
// into handler with their recorded capture timestamps, so replayed streams
// reproduce the original frame timing metadata. If forwarder is not nil,
// payloads are also forwarded to the configured destination. Only available
// when building with the 'pcap' build tag.
func ReplayPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler PacketHandler, stats PacketStatsInterface, forwarder *PacketForwarder) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	// Only the sensor's UDP stream is of interest.
	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}
	log.Printf("PCAP BPF filter set: %s", filterStr)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			log.Printf("PCAP reader stopping due to context cancellation (processed %d packets)", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				// End of PCAP file
				elapsed := time.Since(startTime)
				log.Printf("PCAP file reading complete: %d packets processed in %v", packetCount, elapsed)
				return nil
			}

			packetCount++

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue // Skip non-UDP packets (shouldn't happen with BPF filter)
			}

			udp, ok := udpLayer.(*layers.UDP)
			if !ok {
				continue
			}

			payload := udp.Payload
			if len(payload) == 0 {
				continue
			}

			if forwarder != nil {
				forwarder.ForwardAsync(payload)
			}

			if handler != nil {
				captureTime := packet.Metadata().Timestamp
				if err := handler.HandlePacket(payload, captureTime); err != nil {
					log.Printf("Error handling PCAP packet %d: %v", packetCount, err)
					continue
				}
			}

			// Log progress periodically
			if packetCount%10000 == 0 {
				elapsed := time.Since(startTime)
				log.Printf("PCAP progress: %d packets processed in %v (%.0f pkt/s)",
					packetCount, elapsed, float64(packetCount)/elapsed.Seconds())
			}
		}
	}
}
