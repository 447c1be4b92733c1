package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// sweepPlot renders the accumulated sweep means as an HTML line chart.
// This is a quick look at the running (or last) sweep without pulling the
// saved files; the publication plot is the PNG written at save time.
func (s *Server) sweepPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	prog := s.runner.GetProgress()
	if prog == nil || len(prog.Taus) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no sweep data accumulated yet")
		return
	}

	xLabel := "tau (s)"
	if prog.FreqSweep {
		xLabel = "frequency (Hz)"
	}

	xAxis := make([]string, len(prog.Taus))
	sig := make([]opts.LineData, len(prog.Taus))
	ref := make([]opts.LineData, len(prog.Taus))
	for i, tau := range prog.Taus {
		xAxis[i] = fmt.Sprintf("%.4g", tau)
		sig[i] = opts.LineData{Value: prog.Signal[i]}
		ref[i] = opts.LineData{Value: prog.Reference[i]}
	}

	state := s.runner.GetState()
	subtitle := fmt.Sprintf("status=%s progress=%d/%d", state.Status, state.CompletedTaus, state.TotalTaus)
	title := "Sweep"
	if state.Request != nil {
		title = state.Request.Pattern + " sweep"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "NV Sweep", Theme: "dark", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: xLabel, NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mean counts", Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("signal", sig, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	line.AddSeries("reference", ref, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
