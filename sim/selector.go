package sim

import "fmt"

// Selector maintains the rates of an ordered channel array and picks the
// channel an event fires on. Every strategy returns the first channel, in
// channel order, whose cumulative rate exceeds the target, and never returns
// a zero-rate channel.
type Selector interface {
	// Reset replaces all rates.
	Reset(rates []float64)
	// Update sets the rate of channel i.
	Update(i int, rate float64)
	// Total returns the sum of all rates.
	Total() float64
	// Select maps a target in [0, Total()) to a channel, or -1 when Total() is 0.
	Select(target float64) int
	// Name returns the strategy name.
	Name() string
}

// ValidSelectors is the set of recognized selector names.
// Empty selects the default ("tree").
var ValidSelectors = map[string]bool{"": true, "linear": true, "tree": true}

// IsValidSelector returns true if name is a recognized selector.
func IsValidSelector(name string) bool {
	return ValidSelectors[name]
}

// NewSelector creates a selector by name.
// Panics on unrecognized names; call IsValidSelector first.
func NewSelector(name string) Selector {
	switch name {
	case "", "tree":
		return &TreeSelector{}
	case "linear":
		return &LinearSelector{}
	default:
		panic(fmt.Sprintf("unknown selector %q", name))
	}
}

// LinearSelector is the Direct Method: a cumulative scan over every channel.
// The total is recomputed lazily after updates.
type LinearSelector struct {
	rates []float64
	total float64
	dirty bool
}

func (s *LinearSelector) Name() string { return "linear" }

func (s *LinearSelector) Reset(rates []float64) {
	s.rates = append(s.rates[:0], rates...)
	s.dirty = true
}

func (s *LinearSelector) Update(i int, rate float64) {
	if s.rates[i] != rate {
		s.rates[i] = rate
		s.dirty = true
	}
}

func (s *LinearSelector) Total() float64 {
	if s.dirty {
		var sum float64
		for _, r := range s.rates {
			sum += r
		}
		s.total = sum
		s.dirty = false
	}
	return s.total
}

func (s *LinearSelector) Select(target float64) int {
	last := -1
	var cum float64
	for i, r := range s.rates {
		if r <= 0 {
			continue
		}
		cum += r
		if cum > target {
			return i
		}
		last = i
	}
	// target fell on the rounding edge of the total
	return last
}

// TreeSelector is a complete binary sum tree over the channels. Leaves hold
// rates; each internal node is recomputed from its two children on update,
// so sums never accumulate drift.
type TreeSelector struct {
	n     int
	size  int // leaves, a power of two
	nodes []float64
}

func (s *TreeSelector) Name() string { return "tree" }

func (s *TreeSelector) Reset(rates []float64) {
	s.n = len(rates)
	s.size = 1
	for s.size < s.n {
		s.size <<= 1
	}
	if cap(s.nodes) >= 2*s.size {
		s.nodes = s.nodes[:2*s.size]
		clear(s.nodes)
	} else {
		s.nodes = make([]float64, 2*s.size)
	}
	copy(s.nodes[s.size:], rates)
	for j := s.size - 1; j >= 1; j-- {
		s.nodes[j] = s.nodes[2*j] + s.nodes[2*j+1]
	}
}

func (s *TreeSelector) Update(i int, rate float64) {
	j := s.size + i
	if s.nodes[j] == rate {
		return
	}
	s.nodes[j] = rate
	for j >>= 1; j >= 1; j >>= 1 {
		s.nodes[j] = s.nodes[2*j] + s.nodes[2*j+1]
	}
}

func (s *TreeSelector) Total() float64 {
	if s.n == 0 {
		return 0
	}
	return s.nodes[1]
}

func (s *TreeSelector) Select(target float64) int {
	if s.Total() <= 0 {
		return -1
	}
	j := 1
	for j < s.size {
		left := s.nodes[2*j]
		if target < left {
			j = 2 * j
		} else {
			target -= left
			j = 2*j + 1
		}
	}
	i := j - s.size
	if i < s.n && s.nodes[j] > 0 {
		return i
	}
	// Rounding pushed the descent onto an empty leaf: take the nearest
	// positive channel before it, else after it.
	for k := min(i, s.n) - 1; k >= 0; k-- {
		if s.nodes[s.size+k] > 0 {
			return k
		}
	}
	for k := i + 1; k < s.n; k++ {
		if s.nodes[s.size+k] > 0 {
			return k
		}
	}
	return -1
}
