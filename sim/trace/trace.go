package trace

import (
	"context"
	"fmt"
	"math"
)

// Source is a simulation that can be driven forward and sampled.
// *sim.Engine satisfies it.
type Source interface {
	Run(ctx context.Context, until float64) error
	GetTime() float64
	// Counts reads points into dst and returns the clock they were read at.
	Counts(points [][2]int, dst []int64) (float64, error)
}

// Collect samples points every interval from the source's current time up to
// and including until. The sample grid is start + k·interval; until is added
// as a final sample when it falls between grid points.
func Collect(ctx context.Context, src Source, points []Point, interval, until float64) (*Trajectory, error) {
	if !(interval > 0) || math.IsInf(interval, 0) {
		return nil, fmt.Errorf("sampling interval must be positive and finite, got %v", interval)
	}
	start := src.GetTime()
	if until < start {
		return nil, fmt.Errorf("end time %v before current time %v", until, start)
	}
	pairs := Pairs(points)
	tr := &Trajectory{Points: append([]Point(nil), points...)}

	sample := func() error {
		counts := make([]int64, len(pairs))
		clock, err := src.Counts(pairs, counts)
		if err != nil {
			return fmt.Errorf("sampling at t=%g: %w", src.GetTime(), err)
		}
		tr.Records = append(tr.Records, Record{Time: clock, Counts: counts})
		return nil
	}

	if err := sample(); err != nil {
		return tr, err
	}
	for k := 1; ; k++ {
		t := start + float64(k)*interval
		if t > until {
			if last := tr.Records[len(tr.Records)-1].Time; last < until {
				t = until
			} else {
				break
			}
		}
		if err := src.Run(ctx, t); err != nil {
			return tr, err
		}
		if err := sample(); err != nil {
			return tr, err
		}
		if t == until {
			break
		}
	}
	return tr, nil
}

// Pairs converts points to the (tet, species) pairs Source.Counts takes.
func Pairs(points []Point) [][2]int {
	pairs := make([][2]int, len(points))
	for i, p := range points {
		pairs[i] = [2]int{p.Tet, p.Species}
	}
	return pairs
}
