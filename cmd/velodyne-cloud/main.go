package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/velodyne-cloud/internal/config"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/calibration"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/decode"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/network"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/monitor"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/velodyne-cloud/internal/lidar/storage/sqlite"
)

var (
	configFile      = flag.String("config", "", "Decoder config JSON (default: built-in defaults)")
	calibrationFile = flag.String("calibration", "", "Calibration YAML; overrides the config file (default: embedded VLP-16)")
	listen          = flag.String("listen", ":8081", "HTTP listen address")
	udpPort         = flag.Int("udp-port", network.DefaultPort, "UDP port to listen for lidar packets")
	udpAddress      = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	rcvBuf          = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	pcapFile        = flag.String("pcap", "", "Replay packets from a pcap/pcapng file instead of listening")
	replaySpeed     = flag.Float64("speed", 0, "PCAP replay speed multiplier (0 replays as fast as possible)")
	forwardPackets  = flag.Bool("forward", false, "Forward received UDP packets to another port")
	forwardPort     = flag.Int("forward-port", 2369, "Port to forward UDP packets to")
	forwardAddr     = flag.String("forward-addr", "localhost", "Address to forward UDP packets to")
	dbFile          = flag.String("db", "velodyne_scans.db", "Path to the SQLite scan database (empty disables)")
	grpcAddr        = flag.String("grpc-addr", "", "gRPC health listen address (empty disables)")
	pcdDir          = flag.String("pcd-dir", "", "Write one organized PCD file per scan into this directory")
	workers         = flag.Int("workers", 0, "Decode workers per scan; overrides the config file")
	sensorFrame     = flag.String("sensor-frame", "velodyne", "Frame id of the sensor")
	staticTF        = flag.String("static-tf", "", "Sensor to frame_id transform as x,y,z,yaw,pitch,roll (meters, radians)")
	logInterval     = flag.Duration("log-interval", 2*time.Second, "Statistics logging interval")
	debugLog        = flag.Bool("debug", false, "Enable diagnostic logging")
)

func main() {
	flag.Parse()

	if *debugLog {
		parse.SetLogWriters(os.Stderr, os.Stderr)
		decode.SetLogWriters(os.Stderr, nil)
		pipeline.SetLogWriters(os.Stderr, os.Stderr, nil)
	} else {
		pipeline.SetLogWriters(os.Stderr, nil, nil)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *workers > 0 {
		cfg.Workers = workers
	}

	calPath := cfg.GetCalibrationFile()
	if *calibrationFile != "" {
		calPath = *calibrationFile
	}
	cal, err := loadCalibration(calPath)
	if err != nil {
		log.Fatalf("Failed to load calibration: %v", err)
	}
	log.Printf("Loaded calibration: %d lasers, %s path", cal.NumLasers, cal.DecodePath())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var health *monitor.HealthServer
	if *grpcAddr != "" {
		health = monitor.NewHealthServer(*grpcAddr)
		if err := health.Start(); err != nil {
			log.Fatalf("Failed to start gRPC health server: %v", err)
		}
		defer health.Stop()
	}

	decoder, err := buildDecoder(cfg, cal, *sensorFrame, *staticTF)
	if err != nil {
		log.Fatalf("Failed to build decoder: %v", err)
	}
	if health != nil {
		health.SetServing(true)
	}

	var db *sqlite.DB
	var store *sqlite.ScanStore
	if *dbFile != "" {
		db, err = sqlite.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open scan database: %v", err)
		}
		defer db.Close()
		store = sqlite.NewScanStore(db.DB)
	}

	stats := network.NewPacketStats()
	latest := &monitor.Latest{}

	processor, err := pipeline.NewProcessor(pipeline.Config{
		Decoder: decoder,
		Workers: cfg.GetWorkers(),
		Stats:   stats,
		Store:   store,
		Latest:  latest,
		PCDDir:  *pcdDir,
	})
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	var forwarder *network.PacketForwarder
	forwardDesc := ""
	if *forwardPackets {
		forwarder, err = network.NewPacketForwarder(*forwardAddr, *forwardPort, stats, time.Minute)
		if err != nil {
			log.Fatalf("Failed to create forwarder: %v", err)
		}
		defer forwarder.Close()
		forwardDesc = forwarder.Address()
	}

	udpListenAddr := net.JoinHostPort(*udpAddress, strconv.Itoa(*udpPort))
	source := "udp " + udpListenAddr
	if *pcapFile != "" {
		source = "pcap " + *pcapFile
	}

	web := monitor.NewWebServer(monitor.WebServerConfig{
		Address:     *listen,
		Stats:       stats,
		Latest:      latest,
		DB:          db,
		Decoder:     decoder,
		ForwardAddr: forwardDesc,
		Source:      source,
	})

	var wg sync.WaitGroup

	// The HTTP server outlives a finished replay until interrupted.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := web.Start(ctx); err != nil {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Pipeline error: %v", err)
		}
	}()

	if *pcapFile != "" {
		err = replay(ctx, cfg, cal.NumLasers, processor, stats, forwarder)
	} else {
		err = listenLive(ctx, cfg, cal.NumLasers, processor, stats, forwarder, udpListenAddr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Ingest error: %v", err)
	}

	processor.Close()
	<-procDone
	stats.LogStats()
	log.Printf("Decoded %d scans (%d dropped)", processor.Processed(), processor.Dropped())

	if *pcapFile != "" && ctx.Err() == nil {
		log.Printf("Replay finished; serving results on %s until interrupted", *listen)
	}
	<-ctx.Done()
	wg.Wait()
	log.Printf("velodyne-cloud stopped")
}

func loadConfig(path string) (*config.DecoderConfig, error) {
	if path == "" {
		return config.EmptyDecoderConfig(), nil
	}
	return config.LoadDecoderConfig(path)
}

func loadCalibration(path string) (*calibration.Calibration, error) {
	if path == "" {
		return calibration.LoadEmbedded(calibration.DefaultVLP16File)
	}
	return calibration.Load(path)
}

func buildDecoder(cfg *config.DecoderConfig, cal *calibration.Calibration, sensorFrame, tf string) (*decode.Decoder, error) {
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	opts := []decode.Option{decode.WithParams(params)}
	if params.FrameID != "" {
		rt, err := parseStaticTransform(tf)
		if err != nil {
			return nil, err
		}
		st := l2frames.NewStaticTransformer()
		st.Set(params.FrameID, sensorFrame, rt)
		opts = append(opts, decode.WithTransformer(st))
	}
	return decode.NewDecoder(cal, nil, opts...)
}

// parseStaticTransform parses "x,y,z[,yaw[,pitch[,roll]]]". An empty
// string is the identity.
func parseStaticTransform(s string) (l2frames.RigidTransform, error) {
	var v [6]float64
	if s = strings.TrimSpace(s); s != "" {
		parts := strings.Split(s, ",")
		if len(parts) < 3 || len(parts) > 6 {
			return l2frames.RigidTransform{}, fmt.Errorf("static transform %q: want 3 to 6 comma separated values", s)
		}
		for i, part := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return l2frames.RigidTransform{}, fmt.Errorf("static transform %q: %w", s, err)
			}
			v[i] = f
		}
	}
	return l2frames.NewRigidTransform(v[3], v[4], v[5], r3.Vec{X: v[0], Y: v[1], Z: v[2]}), nil
}

func newScanBuilder(cfg *config.DecoderConfig, numLasers int, onScan func(*parse.Scan)) (*network.ScanBuilder, error) {
	b, err := network.NewScanBuilder(network.ScanBuilderConfig{
		FrameID:   *sensorFrame,
		NPackets:  cfg.GetNPackets(),
		Model:     cfg.GetModel(),
		NumLasers: numLasers,
		RPM:       cfg.GetRPM(),
		IdleFlush: cfg.GetIdleFlush(),
		OnScan:    onScan,
	})
	if err != nil {
		return nil, err
	}
	if b.Model() != "" {
		log.Printf("Assembling scans of %d packets (%s at %.0f rpm)", b.PacketsPerScan(), b.Model(), cfg.GetRPM())
	} else {
		log.Printf("Assembling scans of %d packets", b.PacketsPerScan())
	}
	return b, nil
}

func replay(ctx context.Context, cfg *config.DecoderConfig, numLasers int, processor *pipeline.Processor, stats *network.PacketStats, forwarder *network.PacketForwarder) error {
	builder, err := newScanBuilder(cfg, numLasers, func(scan *parse.Scan) {
		if err := processor.Submit(ctx, scan); err != nil && ctx.Err() == nil {
			log.Printf("Submit scan: %v", err)
		}
	})
	if err != nil {
		return err
	}

	// The live listener starts the forwarder itself.
	if forwarder != nil {
		forwarder.Start(ctx)
	}
	res, err := network.ReadPCAPFile(ctx, *pcapFile, builder, network.ReplayConfig{
		Port:            *udpPort,
		SpeedMultiplier: *replaySpeed,
		Stats:           stats,
		Forwarder:       forwarder,
	})
	builder.Flush()
	if err != nil {
		return err
	}
	log.Printf("Replayed %d packets (%d skipped) in %v", res.Packets, res.Skipped, res.Duration)
	return nil
}

func listenLive(ctx context.Context, cfg *config.DecoderConfig, numLasers int, processor *pipeline.Processor, stats *network.PacketStats, forwarder *network.PacketForwarder, addr string) error {
	builder, err := newScanBuilder(cfg, numLasers, func(scan *parse.Scan) {
		processor.TrySubmit(scan)
	})
	if err != nil {
		return err
	}

	builderDone := make(chan struct{})
	go func() {
		defer close(builderDone)
		builder.Run(ctx)
	}()
	defer func() { <-builderDone }()

	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:     addr,
		RcvBuf:      *rcvBuf,
		LogInterval: *logInterval,
		Stats:       stats,
		Forwarder:   forwarder,
		Handler:     builder,
	})
	defer listener.Close()
	return listener.Start(ctx)
}
