package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/decode"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/network"
	"github.com/banshee-data/velodyne-cloud/internal/lidar/l2frames"
	sqlite "github.com/banshee-data/velodyne-cloud/internal/lidar/storage/sqlite"
)

// WebServer serves ingest status, the latest decoded scan and the debug
// console.
type WebServer struct {
	address     string
	stats       *network.PacketStats
	latest      *Latest
	scans       *sqlite.ScanStore
	db          *sqlite.DB
	decoder     *decode.Decoder
	forwardAddr string
	source      string
	started     time.Time
	server      *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Stats   *network.PacketStats
	Latest  *Latest
	// DB is optional; without it the scan history endpoints return 503.
	DB      *sqlite.DB
	Decoder *decode.Decoder
	// ForwardAddr is shown on the status page when forwarding is enabled.
	ForwardAddr string
	// Source describes where packets come from (UDP port or PCAP file).
	Source string
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:     config.Address,
		stats:       config.Stats,
		latest:      config.Latest,
		db:          config.DB,
		decoder:     config.Decoder,
		forwardAddr: config.ForwardAddr,
		source:      config.Source,
		started:     time.Now(),
	}
	if ws.stats == nil {
		ws.stats = network.NewPacketStats()
	}
	if ws.latest == nil {
		ws.latest = &Latest{}
	}
	if ws.db != nil {
		ws.scans = sqlite.NewScanStore(ws.db.DB)
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Handler returns the routed handler, for embedding or tests.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("monitor: encode response: %v", err)
	}
}

// Start serves HTTP until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}

// Close stops the server immediately.
func (ws *WebServer) Close() error {
	return ws.server.Close()
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/lidar/latest", ws.handleLatest)
	mux.HandleFunc("/api/lidar/latest.pcd", ws.handleLatestPCD)
	mux.HandleFunc("/api/lidar/latest.png", ws.handleLatestPNG)
	mux.HandleFunc("/api/lidar/scans", ws.handleScans)
	mux.HandleFunc("/lidar/cloud", ws.handleCloudScatter)
	mux.HandleFunc("/lidar/history", ws.handleScanHistory)

	ws.attachDebug(mux)
	return mux
}

func (ws *WebServer) attachDebug(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Packets received", func() any {
		p, _ := ws.stats.Totals()
		return network.FormatWithCommas(p)
	})
	debug.KVFunc("Scans decoded", func() any {
		_, s := ws.stats.Totals()
		return network.FormatWithCommas(s)
	})
	debug.KVFunc("Latest scan", func() any {
		l := ws.latest.Get()
		if l == nil {
			return "none"
		}
		return fmt.Sprintf("%dx%d %s", l.Cloud.Width, l.Cloud.Height, l.Stats)
	})
	if ws.decoder != nil {
		debug.KVFunc("Decoder params", func() any {
			return formatParams(ws.decoder.Params())
		})
	}
	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(debug); err != nil {
			log.Printf("monitor: %v", err)
		}
	}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "velodyne-cloud", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

var statusTemplate = template.Must(template.New("status").Parse(statusHTML))

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	forwarding := "disabled"
	if ws.forwardAddr != "" {
		forwarding = "enabled (" + ws.forwardAddr + ")"
	}
	packets, scans := ws.stats.Totals()

	data := struct {
		Source     string
		Address    string
		Forwarding string
		Uptime     string
		Packets    string
		Scans      string
		Latest     *LatestScan
	}{
		Source:     ws.source,
		Address:    ws.address,
		Forwarding: forwarding,
		Uptime:     time.Since(ws.started).Round(time.Second).String(),
		Packets:    network.FormatWithCommas(packets),
		Scans:      network.FormatWithCommas(scans),
		Latest:     ws.latest.Get(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}

type latestResponse struct {
	FrameID    string                `json:"frame_id"`
	Stamp      time.Time             `json:"stamp"`
	Width      int                   `json:"width"`
	Height     int                   `json:"height"`
	Stats      decode.ScanStats      `json:"stats"`
	Summary    l2frames.CloudSummary `json:"summary"`
	DecodeTime string                `json:"decode_time"`
	Published  int64                 `json:"published"`
}

func (ws *WebServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	l := ws.latest.Get()
	if l == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no scan decoded yet")
		return
	}
	ws.writeJSON(w, latestResponse{
		FrameID:    l.Cloud.FrameID,
		Stamp:      l.Cloud.Stamp,
		Width:      l.Cloud.Width,
		Height:     l.Cloud.Height,
		Stats:      l.Stats,
		Summary:    l.Summary,
		DecodeTime: l.Took.String(),
		Published:  ws.latest.Count(),
	})
}

func (ws *WebServer) handleLatestPCD(w http.ResponseWriter, r *http.Request) {
	l := ws.latest.Get()
	if l == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no scan decoded yet")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=scan-%d.pcd", l.Cloud.Stamp.UnixNano()))
	if err := l2frames.WritePCD(w, l.Cloud); err != nil {
		log.Printf("monitor: write pcd: %v", err)
	}
}

func (ws *WebServer) handleLatestPNG(w http.ResponseWriter, r *http.Request) {
	l := ws.latest.Get()
	if l == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no scan decoded yet")
		return
	}
	o := PlotOptions{}
	if v, err := strconv.ParseFloat(r.URL.Query().Get("extent"), 64); err == nil && v > 0 {
		o.Extent = v
	}
	w.Header().Set("Content-Type", "image/png")
	if err := WriteTopDownPlot(w, l.Cloud, o); err != nil {
		log.Printf("monitor: plot: %v", err)
	}
}

func (ws *WebServer) handleScans(w http.ResponseWriter, r *http.Request) {
	if ws.scans == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "scan store not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := ws.scans.Recent(r.Context(), limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*sqlite.ScanRecord{}
	}
	ws.writeJSON(w, recs)
}

const statusHTML = `<!DOCTYPE html>
<html>
<head><title>Velodyne Cloud</title></head>
<body>
<h1>Velodyne Cloud</h1>
<table>
<tr><td>Source</td><td>{{.Source}}</td></tr>
<tr><td>HTTP</td><td>{{.Address}}</td></tr>
<tr><td>Forwarding</td><td>{{.Forwarding}}</td></tr>
<tr><td>Uptime</td><td>{{.Uptime}}</td></tr>
<tr><td>Packets</td><td>{{.Packets}}</td></tr>
<tr><td>Scans</td><td>{{.Scans}}</td></tr>
{{with .Latest}}
<tr><td>Latest scan</td><td>{{.Cloud.Width}}x{{.Cloud.Height}} frame={{.Cloud.FrameID}} valid={{.Summary.ValidPoints}} decode={{.Took}}</td></tr>
{{else}}
<tr><td>Latest scan</td><td>none</td></tr>
{{end}}
</table>
<p>
<a href="/lidar/cloud">cloud</a> |
<a href="/lidar/history">history</a> |
<a href="/api/lidar/latest">latest (json)</a> |
<a href="/api/lidar/latest.png">latest (png)</a> |
<a href="/api/lidar/latest.pcd">latest (pcd)</a> |
<a href="/debug/">debug</a>
</p>
</body>
</html>
`

// formatParams renders params for the debug page. Both gate bounds are
// inclusive.
func formatParams(p decode.Params) string {
	return fmt.Sprintf("range=[%.2f, %.2f] gate=[%d, %d] frame=%q fixed=%q",
		p.MinRange, p.MaxRange, p.Gate.Min, p.Gate.Max, p.FrameID, p.FixedFrameID)
}
