package core

import "errors"

// Averages holds the mean process values of a dataset.
type Averages struct {
	Flowrate    float64 `json:"flowrate"`
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// ChartSeries is the categorical distribution as parallel label/value slices.
type ChartSeries struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// TypeDistribution describes how many pieces of equipment exist per type.
type TypeDistribution struct {
	Raw   map[string]int `json:"raw,omitempty"`
	Chart ChartSeries    `json:"chart"`
}

// Summary is the backend-computed aggregate for one uploaded dataset.
// It is displayed as received; nothing here recomputes it.
type Summary struct {
	TotalEquipment   int              `json:"total_equipment"`
	Averages         Averages         `json:"averages"`
	TypeDistribution TypeDistribution `json:"type_distribution"`
}

var ErrChartMismatch = errors.New("chart labels and values differ in length")

func (s Summary) Validate() error {
	if len(s.TypeDistribution.Chart.Labels) != len(s.TypeDistribution.Chart.Values) {
		return ErrChartMismatch
	}
	return nil
}

// ChartPoint is one bar of the distribution chart.
type ChartPoint struct {
	Label string
	Value float64
}

// Points zips the chart series, dropping unmatched trailing elements.
func (s Summary) Points() []ChartPoint {
	labels := s.TypeDistribution.Chart.Labels
	values := s.TypeDistribution.Chart.Values
	n := min(len(labels), len(values))
	out := make([]ChartPoint, 0, n)
	for i := range n {
		out = append(out, ChartPoint{Label: labels[i], Value: values[i]})
	}
	return out
}
