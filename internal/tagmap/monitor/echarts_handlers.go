package monitor

import (
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleMapChart renders a quick scatter (HTML) of marker positions using
// go-echarts. Debugging-only endpoint: a visual check of the propagated map
// without any external tooling. Hop count drives the color ramp so
// propagation depth is visible at a glance.
func (ws *WebServer) handleMapChart(w http.ResponseWriter, r *http.Request) {
	ws.mu.Lock()
	ws.engine.Update()
	snap := ws.snapshotJSON()
	ws.mu.Unlock()

	if len(snap.Tags) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "map is empty")
		return
	}

	data := make([]opts.ScatterData, 0, len(snap.Tags))
	maxAbs := 0.0
	maxHop := 0
	for _, t := range snap.Tags {
		if math.Abs(t.X) > maxAbs {
			maxAbs = math.Abs(t.X)
		}
		if math.Abs(t.Y) > maxAbs {
			maxAbs = math.Abs(t.Y)
		}
		if t.HopCount > maxHop {
			maxHop = t.HopCount
		}
		data = append(data, opts.ScatterData{
			Name:  fmt.Sprintf("tag %d", t.ID),
			Value: []interface{}{t.X, t.Y, t.HopCount},
		})
	}

	// Square plot with symmetric ranges so distances read true.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxHop == 0 {
		maxHop = 1
	}

	inTree := 0
	for _, a := range snap.Arcs {
		if a.InTree {
			inTree++
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tag Map", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Ceiling Tag Map",
			Subtitle: fmt.Sprintf("tags=%d arcs=%d in_tree=%d", len(snap.Tags), len(snap.Arcs), inTree),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxHop),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("tags", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := scatter.Render(w); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "render chart: "+err.Error())
	}
}
