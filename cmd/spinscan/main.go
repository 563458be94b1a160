package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arc-sensors/spinscan/internal/scan"
	"github.com/arc-sensors/spinscan/internal/scan/network"
	"github.com/arc-sensors/spinscan/internal/scan/profile"
	"github.com/arc-sensors/spinscan/internal/scandb"
	"github.com/arc-sensors/spinscan/internal/version"
)

var (
	listen         = flag.String("listen", ":8082", "HTTP listen address")
	metadataFile   = flag.String("metadata", "", "Path to the sensor metadata JSON file (required)")
	udpPort        = flag.Int("udp-port", 7502, "UDP port to listen for sensor packets")
	udpAddress     = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	pcapFile       = flag.String("pcap", "", "Replay packets from a PCAP capture instead of live UDP")
	forwardPackets = flag.Bool("forward", false, "Forward received UDP packets to another port")
	forwardPort    = flag.Int("forward-port", 7503, "Port to forward UDP packets to")
	forwardAddr    = flag.String("forward-addr", "localhost", "Address to forward UDP packets to")
	dbFile         = flag.String("db", "scan_data.db", "Path to the SQLite database file")
	rcvBuf         = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval    = flag.Int("log-interval", 10, "Statistics logging interval in seconds")
	nanPoints      = flag.Bool("nan-points", false, "Project unusable pixels to NaN instead of the origin")
	forceComplete  = flag.Bool("force-complete", false, "Emit the in-progress frame on frame-id conflicts instead of dropping the column")
	verbose        = flag.Bool("verbose", false, "Enable diagnostic logging")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}
	if *metadataFile == "" {
		log.Fatal("-metadata is required")
	}
	log.Printf("spinscan %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	writers := scan.LogWriters{Ops: os.Stderr}
	if *verbose {
		writers.Diag = os.Stderr
	}
	scan.SetLogWriters(writers)

	raw, err := os.ReadFile(*metadataFile)
	if err != nil {
		log.Fatalf("Failed to read metadata file: %v", err)
	}
	md, err := scan.ParseMetadataJSON(raw)
	if err != nil {
		log.Fatalf("Failed to parse metadata: %v", err)
	}
	log.Printf("Sensor %s (%s): profile %s, %dx%d",
		md.SerialNumber, md.ProductLine, md.UDPProfile, md.ColumnsPerFrame, md.PixelsPerColumn)

	sdb, err := scandb.NewScanDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to scan database: %v", err)
	}
	defer sdb.Close()

	source := fmt.Sprintf("udp:%s", udpListenAddr())
	if *pcapFile != "" {
		source = fmt.Sprintf("pcap:%s", *pcapFile)
	}
	session, err := sdb.StartSession(md, source)
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	defer func() {
		if err := sdb.EndSession(session.ID); err != nil {
			log.Printf("Failed to end session: %v", err)
		}
	}()
	log.Printf("Session %s started (%s)", session.ID, source)

	stats := scan.NewPacketStats()

	invalid := scan.InvalidZero
	if *nanPoints {
		invalid = scan.InvalidNaN
	}
	policy := scan.DropColumn
	if *forceComplete {
		policy = scan.ForceComplete
	}

	pipeline, err := scan.NewPipeline(scan.PipelineConfig{
		Registry:      profile.DefaultRegistry(),
		Metadata:      md,
		Policy:        policy,
		InvalidPoints: invalid,
		Stats:         stats,
		Handler: func(f *scan.Frame, pc *scan.PointCloud) {
			if _, err := sdb.InsertFrame(session.ID, f); err != nil {
				log.Printf("Failed to index frame %d: %v", f.FrameID, err)
			}
		},
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	defer pipeline.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var forwarder *network.PacketForwarder
	if *forwardPackets {
		forwarder, err = network.NewPacketForwarder(*forwardAddr, *forwardPort, stats, time.Minute)
		if err != nil {
			log.Fatalf("Failed to create packet forwarder: %v", err)
		}
		defer forwarder.Close()
	}

	// Packet source routine: live UDP or capture replay.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		if *pcapFile != "" {
			err := network.ReplayPCAPFile(ctx, *pcapFile, *udpPort, pipeline, stats, forwarder)
			if err != nil && err != context.Canceled {
				log.Printf("PCAP replay error: %v", err)
			}
			// The capture drained: the final partial revolution still counts.
			pipeline.Flush()
			return
		}
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address:     udpListenAddr(),
			RcvBuf:      *rcvBuf,
			MaxPacket:   pipeline.Format().PacketSize,
			LogInterval: time.Duration(*logInterval) * time.Second,
			Stats:       stats,
			Forwarder:   forwarder,
			Handler:     pipeline,
		})
		if err := listener.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("UDP listener error: %v", err)
		}
		log.Print("Packet source routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// Health check endpoint
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status": "ok", "service": "spinscan", "version": %q, "session": %q, "timestamp": "%s"}`,
				version.Version, session.ID, time.Now().UTC().Format(time.RFC3339))
		})

		// Basic info endpoint
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/html")

			forwardingStatus := "disabled"
			if *forwardPackets {
				forwardingStatus = fmt.Sprintf("enabled (%s:%d)", *forwardAddr, *forwardPort)
			}

			fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head><title>Spinscan Ingest</title></head>
<body>
	<h1>Spinscan Ingest</h1>
	<p>Sensor %s, profile %s, %dx%d</p>
	<p>Source: %s</p>
	<p>Packet forwarding: %s</p>
	<ul>
		<li><a href="/health">Health check</a></li>
	</ul>
</body>
</html>`, md.SerialNumber, md.UDPProfile, md.ColumnsPerFrame, md.PixelsPerColumn, source, forwardingStatus)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	stats.LogStats()
	log.Printf("Graceful shutdown complete")
}

func udpListenAddr() string {
	if *udpAddress == "" {
		return fmt.Sprintf(":%d", *udpPort)
	}
	return fmt.Sprintf("%s:%d", *udpAddress, *udpPort)
}
