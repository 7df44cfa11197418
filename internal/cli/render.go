package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"equipviz/internal/core"
)

const barWidth = 40

// FormatSummary prints the summary block the desktop client showed.
func FormatSummary(w io.Writer, s core.Summary) {
	fmt.Fprintf(w, "Total Equipment: %d\n", s.TotalEquipment)
	fmt.Fprintf(w, "Avg Flowrate: %.2f\n", s.Averages.Flowrate)
	fmt.Fprintf(w, "Avg Pressure: %.2f\n", s.Averages.Pressure)
	fmt.Fprintf(w, "Avg Temperature: %.2f\n", s.Averages.Temperature)
	if err := s.Validate(); err != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Equipment Type Distribution: chart unavailable (labels and values differ)")
		return
	}
	points := s.Points()
	if len(points) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Equipment Type Distribution")
	FormatChart(w, points)
}

// FormatChart draws a horizontal bar chart scaled to the largest value.
func FormatChart(w io.Writer, points []core.ChartPoint) {
	labelWidth := 0
	maxValue := 0.0
	for _, p := range points {
		labelWidth = max(labelWidth, len(p.Label))
		maxValue = max(maxValue, p.Value)
	}
	for _, p := range points {
		n := 0
		if maxValue > 0 && p.Value > 0 {
			n = max(1, int(p.Value/maxValue*barWidth+0.5))
		}
		fmt.Fprintf(w, "%-*s | %s %g\n", labelWidth, p.Label, strings.Repeat("#", n), p.Value)
	}
}

// FormatHistory lists at most limit entries, newest first. limit <= 0 lists all.
func FormatHistory(w io.Writer, history []core.HistoryEntry, limit int) error {
	if len(history) == 0 {
		_, err := fmt.Fprintln(w, "No uploads yet.")
		return err
	}
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tUPLOADED\tEQUIPMENT")
	for _, e := range history {
		uploaded := e.UploadedAt
		if uploaded == "" {
			uploaded = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", e.ID, e.Filename, uploaded, e.Summary.TotalEquipment)
	}
	return tw.Flush()
}

// FormatActivity lists journal records.
func FormatActivity(w io.Writer, activities []core.Activity) error {
	if len(activities) == 0 {
		_, err := fmt.Fprintln(w, "No activity recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tUSER\tACTION\tDATASET\tFILE\tDETAIL")
	for _, a := range activities {
		dataset := "-"
		if a.DatasetID.Valid() {
			dataset = a.DatasetID.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.At.Local().Format("2006-01-02 15:04:05"), a.Username, a.Kind, dataset, dash(a.Filename), dash(a.Detail))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
