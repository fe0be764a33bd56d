package trace

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

// Row is one long-format CSV line: a single count of a single point.
type Row struct {
	Trajectory int     `csv:"trajectory"`
	Time       float64 `csv:"time"`
	Point      string  `csv:"point"`
	Tet        int     `csv:"tet"`
	Species    int     `csv:"species"`
	Count      int64   `csv:"count"`
}

// Rows flattens trajectories into long format, numbering them from first.
func Rows(first int, trajs ...*Trajectory) []Row {
	var rows []Row
	for i, tr := range trajs {
		for _, rec := range tr.Records {
			for j, p := range tr.Points {
				rows = append(rows, Row{
					Trajectory: first + i,
					Time:       rec.Time,
					Point:      p.Label,
					Tet:        p.Tet,
					Species:    p.Species,
					Count:      rec.Counts[j],
				})
			}
		}
	}
	return rows
}

// WriteCSV writes trajectories in long format with a header line.
func WriteCSV(w io.Writer, trajs ...*Trajectory) error {
	rows := Rows(0, trajs...)
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing trace csv: %w", err)
	}
	return nil
}

// SummaryRow is one line of a summary CSV.
type SummaryRow struct {
	Time   float64 `csv:"time"`
	Point  string  `csv:"point"`
	Mean   float64 `csv:"mean"`
	StdDev float64 `csv:"stddev"`
	N      int     `csv:"n"`
}

// WriteSummaryCSV writes per-sample mean and standard deviation.
func WriteSummaryCSV(w io.Writer, s *Summary) error {
	rows := make([]SummaryRow, 0, len(s.Times)*len(s.Points))
	for i, t := range s.Times {
		for j, p := range s.Points {
			rows = append(rows, SummaryRow{Time: t, Point: p.Label, Mean: s.Mean[i][j], StdDev: s.StdDev[i][j], N: s.Trajectories})
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing summary csv: %w", err)
	}
	return nil
}

// ReadCSV parses long-format rows written by WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	var rows []Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("reading trace csv: %w", err)
	}
	return rows, nil
}
