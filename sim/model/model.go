// Package model holds the declarative reaction-diffusion model: species,
// reaction rules, diffusion rules and the compartments that group them.
//
// A Model is plain data, usually loaded from YAML. Build validates it and
// resolves every name into the dense integer indices used by the kernel in sim/.
// A Built model is immutable for the lifetime of a simulation.
package model

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxSpeciesOrder is the largest stoichiometric coefficient a single reactant
// species may carry in one rule.
const MaxSpeciesOrder = 4

// Model is the YAML-facing description of a reaction-diffusion system.
type Model struct {
	Species      []string        `yaml:"species"`
	Reactions    []ReactionRule  `yaml:"reactions"`
	Diffusions   []DiffusionRule `yaml:"diffusions"`
	Compartments []Compartment   `yaml:"compartments"`
}

// ReactionRule is a mass-action rule. Reactants and Products are multisets
// written as repeated species names: [A, A] means 2A.
// Rate is the macroscopic constant in molar units: /s for first order,
// /(M·s) for second order, and so on.
type ReactionRule struct {
	Name      string   `yaml:"name"`
	Reactants []string `yaml:"reactants"`
	Products  []string `yaml:"products"`
	Rate      float64  `yaml:"rate"`
}

// DiffusionRule gives one species a diffusion coefficient (m²/s).
type DiffusionRule struct {
	Name        string  `yaml:"name"`
	Species     string  `yaml:"species"`
	Coefficient float64 `yaml:"coefficient"`
}

// Compartment binds a set of rules to the tetrahedra of one mesh element group.
// Group defaults to Name when empty.
type Compartment struct {
	Name       string   `yaml:"name"`
	Group      string   `yaml:"group,omitempty"`
	Reactions  []string `yaml:"reactions"`
	Diffusions []string `yaml:"diffusions"`
}

// GroupName returns the mesh element group owned by the compartment.
func (c Compartment) GroupName() string {
	if c.Group == "" {
		return c.Name
	}
	return c.Group
}

// Load reads and parses a YAML model file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML model document with strict field checking.
func Parse(data []byte) (*Model, error) {
	var m Model
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing model: %w", err)
	}
	return &m, nil
}
