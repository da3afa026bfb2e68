// Command cloud-plot decodes one scan from a packet capture and writes a
// top-down image of it, optionally with the organized cloud as PCD.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/velodyne-cloud/internal/config"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/calibration"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/decode"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/network"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/monitor"
)

type options struct {
	PCAPFile        string
	ConfigFile      string
	CalibrationFile string
	Output          string
	PCDOutput       string
	ScanIndex       int
	Port            int
	Extent          float64
	SizeInches      float64
}

func main() {
	var o options
	flag.StringVar(&o.PCAPFile, "pcap", "", "Packet capture to read (required)")
	flag.StringVar(&o.ConfigFile, "config", "", "Decoder config JSON (default: built-in defaults)")
	flag.StringVar(&o.CalibrationFile, "calibration", "", "Calibration YAML (default: embedded VLP-16)")
	flag.StringVar(&o.Output, "out", "scan.png", "Output image; the extension selects png, svg or pdf")
	flag.StringVar(&o.PCDOutput, "pcd", "", "Also write the organized cloud to this PCD file")
	flag.IntVar(&o.ScanIndex, "scan", 0, "Zero-based index of the scan to plot")
	flag.IntVar(&o.Port, "port", network.DefaultPort, "UDP port of the sensor packets")
	flag.Float64Var(&o.Extent, "extent", 0, "Half-width of the view in meters (0 fits the data)")
	flag.Float64Var(&o.SizeInches, "size", 8, "Image size in inches")
	flag.Parse()

	if o.PCAPFile == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(context.Background(), o); err != nil {
		log.Fatalf("cloud-plot: %v", err)
	}
}

func run(ctx context.Context, o options) error {
	cfg := config.EmptyDecoderConfig()
	if o.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadDecoderConfig(o.ConfigFile); err != nil {
			return err
		}
	}

	calPath := o.CalibrationFile
	if calPath == "" {
		calPath = cfg.GetCalibrationFile()
	}
	var (
		cal *calibration.Calibration
		err error
	)
	if calPath == "" {
		cal, err = calibration.LoadEmbedded(calibration.DefaultVLP16File)
	} else {
		cal, err = calibration.Load(calPath)
	}
	if err != nil {
		return err
	}

	params, err := cfg.Params()
	if err != nil {
		return err
	}
	// No transformer is wired here, so points stay in the sensor frame.
	params.FrameID = ""
	decoder, err := decode.NewDecoder(cal, nil, decode.WithParams(params))
	if err != nil {
		return err
	}

	scan, err := captureScan(ctx, o, cfg, cal.NumLasers)
	if err != nil {
		return err
	}

	cloud, stats, err := decoder.Unpack(ctx, scan)
	if err != nil {
		return err
	}
	log.Printf("Scan %d: %d packets, %dx%d cloud, %s", o.ScanIndex, len(scan.Packets), cloud.Width, cloud.Height, stats)

	if err := writePlot(o, cloud); err != nil {
		return err
	}
	if o.PCDOutput != "" {
		if err := writePCD(o.PCDOutput, cloud); err != nil {
			return err
		}
	}
	return nil
}

// captureScan replays the capture until the requested scan is complete.
func captureScan(ctx context.Context, o options, cfg *config.DecoderConfig, numLasers int) (*parse.Scan, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		seen int
		want *parse.Scan
	)
	builder, err := network.NewScanBuilder(network.ScanBuilderConfig{
		FrameID:   "velodyne",
		NPackets:  cfg.GetNPackets(),
		Model:     cfg.GetModel(),
		NumLasers: numLasers,
		RPM:       cfg.GetRPM(),
		OnScan: func(scan *parse.Scan) {
			if want == nil && seen == o.ScanIndex {
				want = scan
				cancel()
			}
			seen++
		},
	})
	if err != nil {
		return nil, err
	}

	_, err = network.ReadPCAPFile(ctx, o.PCAPFile, builder, network.ReplayConfig{Port: o.Port})
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	if want == nil {
		// A trailing partial scan still counts.
		builder.Flush()
	}
	if want == nil {
		return nil, fmt.Errorf("capture holds %d scans, scan %d not found", seen, o.ScanIndex)
	}
	return want, nil
}

func writePlot(o options, cloud *l2frames.OrganizedCloud) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(o.Output)), ".")
	f, err := os.Create(o.Output)
	if err != nil {
		return err
	}
	err = monitor.WriteTopDownPlot(f, cloud, monitor.PlotOptions{
		Title:  filepath.Base(o.PCAPFile),
		Extent: o.Extent,
		Size:   vg.Length(o.SizeInches) * vg.Inch,
		Format: format,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	log.Printf("Wrote %s", o.Output)
	return nil
}

func writePCD(path string, cloud *l2frames.OrganizedCloud) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := l2frames.WritePCD(f, cloud); err != nil {
		f.Close()
		return err
	}
	log.Printf("Wrote %s", path)
	return f.Close()
}
