package trace

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates sampled counts over independent trajectories that share
// points and sample times.
type Summary struct {
	Points       []Point
	Times        []float64
	Mean         [][]float64 // [sample][point]
	StdDev       [][]float64 // sample standard deviation; 0 for a single trajectory
	Trajectories int
}

// Summarize computes the per-sample mean and standard deviation of every
// point across trajectories. Safe for an empty input (returns an empty Summary).
func Summarize(trajs []*Trajectory) (*Summary, error) {
	s := &Summary{Trajectories: len(trajs)}
	if len(trajs) == 0 {
		return s, nil
	}
	ref := trajs[0]
	for i, tr := range trajs[1:] {
		if len(tr.Points) != len(ref.Points) || len(tr.Records) != len(ref.Records) {
			return nil, fmt.Errorf("trajectory %d has %d points and %d samples, trajectory 0 has %d and %d",
				i+1, len(tr.Points), len(tr.Records), len(ref.Points), len(ref.Records))
		}
	}
	s.Points = append([]Point(nil), ref.Points...)
	s.Times = ref.Times()
	s.Mean = make([][]float64, len(ref.Records))
	s.StdDev = make([][]float64, len(ref.Records))

	column := make([]float64, len(trajs))
	for i := range ref.Records {
		s.Mean[i] = make([]float64, len(ref.Points))
		s.StdDev[i] = make([]float64, len(ref.Points))
		for j := range ref.Points {
			for k, tr := range trajs {
				column[k] = float64(tr.Records[i].Counts[j])
			}
			if len(trajs) == 1 {
				s.Mean[i][j] = column[0]
				continue
			}
			s.Mean[i][j], s.StdDev[i][j] = stat.MeanStdDev(column, nil)
		}
	}
	return s, nil
}
