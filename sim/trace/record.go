// Package trace samples count trajectories from a running simulation and
// writes them out. It has no dependency on sim/: anything that can run to a
// time and report counts is a Source.
package trace

// Point names one sampled (tetrahedron, species) pair.
type Point struct {
	Tet     int
	Species int
	Label   string // column label, e.g. "Ca@12"
}

// Record is one sample: the clock and one count per Point.
type Record struct {
	Time   float64
	Counts []int64
}

// Trajectory is the ordered samples of one run.
type Trajectory struct {
	Points  []Point
	Records []Record
}

// Times returns the sample times.
func (tr *Trajectory) Times() []float64 {
	ts := make([]float64, len(tr.Records))
	for i, r := range tr.Records {
		ts[i] = r.Time
	}
	return ts
}

// Final returns the last record, or false for an empty trajectory.
func (tr *Trajectory) Final() (Record, bool) {
	if len(tr.Records) == 0 {
		return Record{}, false
	}
	return tr.Records[len(tr.Records)-1], true
}
