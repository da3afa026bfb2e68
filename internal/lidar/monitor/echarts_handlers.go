package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const defaultMaxPoints = 8000

var intensityColors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// handleCloudScatter renders the latest cloud from above as an HTML scatter.
// Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handleCloudScatter(w http.ResponseWriter, r *http.Request) {
	latest := ws.latest.Get()
	if latest == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no scan decoded yet")
		return
	}

	maxPoints := defaultMaxPoints
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	xys, intensities, maxAbs := topDown(latest.Cloud)
	if len(xys) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "latest scan has no valid points")
		return
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(xys) > maxPoints {
		stride = int(math.Ceil(float64(len(xys)) / float64(maxPoints)))
	}
	data := make([]opts.ScatterData, 0, len(xys)/stride+1)
	for i := 0; i < len(xys); i += stride {
		data = append(data, opts.ScatterData{Value: []interface{}{xys[i].X, xys[i].Y, intensities[i]}})
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Velodyne Cloud (top-down)", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Latest scan",
			Subtitle: fmt.Sprintf("frame=%q points=%d stride=%d", latest.Cloud.FrameID, len(data), stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        255,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: intensityColors},
		}),
	)
	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleScanHistory charts valid and dropped point counts over the most
// recent stored scans.
func (ws *WebServer) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	if ws.scans == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "scan store not configured")
		return
	}
	limit := 200
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 5000 {
		limit = v
	}

	recs, err := ws.scans.Recent(r.Context(), limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Recent is newest first; chart oldest to newest.
	xs := make([]string, 0, len(recs))
	valid := make([]opts.LineData, 0, len(recs))
	gated := make([]opts.LineData, 0, len(recs))
	outOfRange := make([]opts.LineData, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		xs = append(xs, rec.Stamp.Format("15:04:05.000"))
		valid = append(valid, opts.LineData{Value: rec.Stats.PointsValid})
		gated = append(gated, opts.LineData{Value: rec.Stats.PointsGated})
		outOfRange = append(outOfRange, opts.LineData{Value: rec.Stats.PointsOutOfRange})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan history", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Points per scan", Subtitle: fmt.Sprintf("scans=%d", len(recs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xs).
		AddSeries("valid", valid).
		AddSeries("gated", gated).
		AddSeries("out of range", outOfRange)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
