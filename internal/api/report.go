package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
)

// showReport renders an HTML bar chart of the day's attendance share
// per student. This is an operator page, not part of the JSON API.
func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	date, ok := s.dateParam(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid 'date' parameter, want YYYY-MM-DD")
		return
	}

	rows, err := s.dayRecords(date)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
		return
	}

	// One bar per student: mean attendance share over their periods.
	byStudent := make(map[string][]float64)
	var order []string
	for _, row := range rows {
		if _, seen := byStudent[row.RollNo]; !seen {
			order = append(order, row.RollNo)
		}
		byStudent[row.RollNo] = append(byStudent[row.RollNo], row.AttendancePct)
	}

	labels := make([]string, 0, len(order))
	data := make([]opts.BarData, 0, len(order))
	var means []float64
	for _, rollNo := range order {
		m := stat.Mean(byStudent[rollNo], nil)
		labels = append(labels, rollNo)
		data = append(data, opts.BarData{Value: m})
		means = append(means, m)
	}

	subtitle := fmt.Sprintf("date=%s students=%d", date, len(labels))
	if len(means) > 0 {
		mean, std := stat.MeanStdDev(means, nil)
		subtitle = fmt.Sprintf("%s mean=%.1f%% stddev=%.1f", subtitle, mean, std)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Attendance Report", Theme: "dark", Width: "1100px", Height: "600px",
		}),
		charts.WithTitleOpts(opts.Title{Title: "Daily Attendance", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 100, Name: "attended %"}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("attendance", data)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
