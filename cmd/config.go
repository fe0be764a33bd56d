package cmd

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tetsim/tetsim/sim"
	"github.com/tetsim/tetsim/sim/mesh"
	"github.com/tetsim/tetsim/sim/model"
	"github.com/tetsim/tetsim/sim/trace"
)

// ChainConfig generates a line of identical tetrahedra instead of loading a mesh.
type ChainConfig struct {
	N        int      `yaml:"n"`
	Volume   float64  `yaml:"volume"`
	Area     float64  `yaml:"area"`
	Distance float64  `yaml:"distance"`
	Groups   []string `yaml:"groups"`
}

// PointConfig names a sampled (tet, species) pair.
type PointConfig struct {
	Tet     int    `yaml:"tet"`
	Species string `yaml:"species"`
	Label   string `yaml:"label,omitempty"`
}

// SimConfig is the simulation config file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type SimConfig struct {
	Model       string       `yaml:"model"`        // path, relative to the config file
	InlineModel *model.Model `yaml:"model_inline"` // used when Model is empty
	Mesh        string       `yaml:"mesh"`         // path, relative to the config file
	Chain       *ChainConfig `yaml:"chain"`        // used when Mesh is empty

	Seeds    sim.Seeds     `yaml:"seeds"`
	EndTime  float64       `yaml:"end_time"`
	Interval float64       `yaml:"interval"`
	Points   []PointConfig `yaml:"points"`

	Selector     string `yaml:"selector"`
	Seed         *int64 `yaml:"seed"`
	Workers      int    `yaml:"workers"`
	VerifyEvery  uint64 `yaml:"verify_every"`
	Trajectories int    `yaml:"trajectories"`

	dir string // directory relative paths resolve against
}

// LoadSimConfig reads a config file with strict field checking.
func LoadSimConfig(path string) (*SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := ParseSimConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// ParseSimConfig decodes a config document. Relative paths resolve against
// the working directory.
func ParseSimConfig(data []byte) (*SimConfig, error) {
	var cfg SimConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, cfg.validate()
}

func (c *SimConfig) validate() error {
	switch {
	case c.Model == "" && c.InlineModel == nil:
		return fmt.Errorf("config needs model or model_inline")
	case c.Model != "" && c.InlineModel != nil:
		return fmt.Errorf("config sets both model and model_inline")
	case c.Mesh == "" && c.Chain == nil:
		return fmt.Errorf("config needs mesh or chain")
	case c.Mesh != "" && c.Chain != nil:
		return fmt.Errorf("config sets both mesh and chain")
	case math.IsNaN(c.EndTime) || math.IsInf(c.EndTime, 0) || c.EndTime < 0:
		return fmt.Errorf("end_time must be finite and non-negative, got %v", c.EndTime)
	case c.Interval < 0 || math.IsNaN(c.Interval):
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	case !sim.IsValidSelector(c.Selector):
		return fmt.Errorf("unknown selector %q", c.Selector)
	case c.Trajectories < 0:
		return fmt.Errorf("trajectories must be non-negative, got %d", c.Trajectories)
	}
	return nil
}

func (c *SimConfig) resolve(p string) string {
	if filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Setup is a config resolved into a built model, a mesh and engine settings.
type Setup struct {
	Config *SimConfig
	Built  *model.Built
	Mesh   *mesh.Mesh
	Engine sim.Config
	Points []trace.Point
}

// Build loads the model and mesh and resolves trace points.
func (c *SimConfig) Build() (*Setup, error) {
	m := c.InlineModel
	if c.Model != "" {
		var err error
		if m, err = model.Load(c.resolve(c.Model)); err != nil {
			return nil, err
		}
	}
	built, err := m.Build()
	if err != nil {
		return nil, err
	}

	var msh *mesh.Mesh
	if c.Mesh != "" {
		msh, err = mesh.Load(c.resolve(c.Mesh))
	} else {
		groups := c.Chain.Groups
		if len(groups) == 0 && len(built.Compartments) > 0 {
			groups = []string{built.Compartments[0].Group}
		}
		msh, err = mesh.Chain(c.Chain.N, c.Chain.Volume, c.Chain.Area, c.Chain.Distance, groups...)
	}
	if err != nil {
		return nil, err
	}

	points := make([]trace.Point, len(c.Points))
	for i, p := range c.Points {
		s, ok := built.SpeciesIndex(p.Species)
		if !ok {
			return nil, fmt.Errorf("points[%d]: unknown species %q", i, p.Species)
		}
		if p.Tet < 0 || p.Tet >= msh.Len() {
			return nil, fmt.Errorf("points[%d]: tet %d outside mesh of %d", i, p.Tet, msh.Len())
		}
		label := p.Label
		if label == "" {
			label = fmt.Sprintf("%s@%d", p.Species, p.Tet)
		}
		points[i] = trace.Point{Tet: p.Tet, Species: s, Label: label}
	}

	ecfg := sim.Config{Selector: c.Selector, Workers: c.Workers, VerifyEvery: c.VerifyEvery}
	if c.Seed != nil {
		ecfg.Key = sim.NewSimulationKey(*c.Seed)
	}
	return &Setup{Config: c, Built: built, Mesh: msh, Engine: ecfg, Points: points}, nil
}
