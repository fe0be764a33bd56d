package model

import (
	"fmt"
	"math"
)

// Term is one species with its stoichiometric coefficient.
type Term struct {
	Species int
	Coeff   int
}

// Reaction is a ReactionRule resolved to species indices.
type Reaction struct {
	Name   string
	LHS    []Term // reactant multiplicities, ascending species index
	Update []Term // product minus reactant, non-zero entries only
	Order  int    // sum of reactant coefficients
	Rate   float64
}

// Diffusion is a DiffusionRule resolved to a species index.
type Diffusion struct {
	Name        string
	Species     int
	Coefficient float64
}

// BuiltCompartment lists the global rule indices active in one compartment,
// in the order they were declared.
type BuiltCompartment struct {
	Name       string
	Group      string
	Reactions  []int
	Diffusions []int

	diffBySpecies map[int]int
}

// DiffusionFor returns the global diffusion rule that moves species inside
// the compartment, if any.
func (c *BuiltCompartment) DiffusionFor(species int) (int, bool) {
	d, ok := c.diffBySpecies[species]
	return d, ok
}

// Built is the validated, index-resolved form of a Model.
type Built struct {
	Species      []string
	Reactions    []Reaction
	Diffusions   []Diffusion
	Compartments []BuiltCompartment

	speciesIdx map[string]int
	compIdx    map[string]int
}

// SpeciesIndex looks up a species by name.
func (b *Built) SpeciesIndex(name string) (int, bool) {
	i, ok := b.speciesIdx[name]
	return i, ok
}

// CompartmentIndex looks up a compartment by name.
func (b *Built) CompartmentIndex(name string) (int, bool) {
	i, ok := b.compIdx[name]
	return i, ok
}

// Validate checks names, references and constants without building.
func (m *Model) Validate() error {
	_, err := m.Build()
	return err
}

// Build validates the model and resolves it into dense indices.
// Every failure is a *ValidationError.
func (m *Model) Build() (*Built, error) {
	if len(m.Species) == 0 {
		return nil, invalid("species", "at least one species required")
	}
	b := &Built{
		Species:    append([]string(nil), m.Species...),
		speciesIdx: make(map[string]int, len(m.Species)),
		compIdx:    make(map[string]int, len(m.Compartments)),
	}
	for i, name := range m.Species {
		field := fmt.Sprintf("species[%d]", i)
		if name == "" {
			return nil, invalid(field, "empty species name")
		}
		if _, dup := b.speciesIdx[name]; dup {
			return nil, invalid(field, "duplicate species %q", name)
		}
		b.speciesIdx[name] = i
	}

	reacIdx := make(map[string]int, len(m.Reactions))
	for i, r := range m.Reactions {
		field := fmt.Sprintf("reactions[%d]", i)
		if r.Name == "" {
			return nil, invalid(field+".name", "empty reaction name")
		}
		if _, dup := reacIdx[r.Name]; dup {
			return nil, invalid(field+".name", "duplicate reaction %q", r.Name)
		}
		if err := validateConstant(field+".rate", r.Rate); err != nil {
			return nil, err
		}
		lhs, err := b.countTerms(field+".reactants", r.Reactants)
		if err != nil {
			return nil, err
		}
		rhs, err := b.countTerms(field+".products", r.Products)
		if err != nil {
			return nil, err
		}
		reac := Reaction{Name: r.Name, Rate: r.Rate}
		for s := range b.Species {
			if lhs[s] > MaxSpeciesOrder {
				return nil, invalid(field+".reactants", "species %q appears %d times; at most %d supported",
					b.Species[s], lhs[s], MaxSpeciesOrder)
			}
			if lhs[s] > 0 {
				reac.LHS = append(reac.LHS, Term{Species: s, Coeff: lhs[s]})
				reac.Order += lhs[s]
			}
			if d := rhs[s] - lhs[s]; d != 0 {
				reac.Update = append(reac.Update, Term{Species: s, Coeff: d})
			}
		}
		reacIdx[r.Name] = i
		b.Reactions = append(b.Reactions, reac)
	}

	diffIdx := make(map[string]int, len(m.Diffusions))
	for i, d := range m.Diffusions {
		field := fmt.Sprintf("diffusions[%d]", i)
		if d.Name == "" {
			return nil, invalid(field+".name", "empty diffusion name")
		}
		if _, dup := diffIdx[d.Name]; dup {
			return nil, invalid(field+".name", "duplicate diffusion %q", d.Name)
		}
		s, ok := b.speciesIdx[d.Species]
		if !ok {
			return nil, invalid(field+".species", "unknown species %q", d.Species)
		}
		if err := validateConstant(field+".coefficient", d.Coefficient); err != nil {
			return nil, err
		}
		diffIdx[d.Name] = i
		b.Diffusions = append(b.Diffusions, Diffusion{Name: d.Name, Species: s, Coefficient: d.Coefficient})
	}

	if len(m.Compartments) == 0 {
		return nil, invalid("compartments", "at least one compartment required")
	}
	groups := make(map[string]string, len(m.Compartments))
	for i, c := range m.Compartments {
		field := fmt.Sprintf("compartments[%d]", i)
		if c.Name == "" {
			return nil, invalid(field+".name", "empty compartment name")
		}
		if _, dup := b.compIdx[c.Name]; dup {
			return nil, invalid(field+".name", "duplicate compartment %q", c.Name)
		}
		if owner, dup := groups[c.GroupName()]; dup {
			return nil, invalid(field+".group", "group %q already owned by compartment %q", c.GroupName(), owner)
		}
		groups[c.GroupName()] = c.Name

		bc := BuiltCompartment{Name: c.Name, Group: c.GroupName(), diffBySpecies: make(map[int]int)}
		seen := make(map[int]bool, len(c.Reactions))
		for j, name := range c.Reactions {
			r, ok := reacIdx[name]
			if !ok {
				return nil, invalid(fmt.Sprintf("%s.reactions[%d]", field, j), "unknown reaction %q", name)
			}
			if seen[r] {
				return nil, invalid(fmt.Sprintf("%s.reactions[%d]", field, j), "reaction %q listed twice", name)
			}
			seen[r] = true
			bc.Reactions = append(bc.Reactions, r)
		}
		for j, name := range c.Diffusions {
			d, ok := diffIdx[name]
			if !ok {
				return nil, invalid(fmt.Sprintf("%s.diffusions[%d]", field, j), "unknown diffusion %q", name)
			}
			s := b.Diffusions[d].Species
			if prev, dup := bc.diffBySpecies[s]; dup {
				return nil, invalid(fmt.Sprintf("%s.diffusions[%d]", field, j),
					"species %q already diffuses by rule %q", b.Species[s], b.Diffusions[prev].Name)
			}
			bc.diffBySpecies[s] = d
			bc.Diffusions = append(bc.Diffusions, d)
		}
		b.compIdx[c.Name] = i
		b.Compartments = append(b.Compartments, bc)
	}
	return b, nil
}

// countTerms turns a multiset of names into per-species multiplicities.
func (b *Built) countTerms(field string, names []string) ([]int, error) {
	counts := make([]int, len(b.Species))
	for j, name := range names {
		s, ok := b.speciesIdx[name]
		if !ok {
			return nil, invalid(fmt.Sprintf("%s[%d]", field, j), "unknown species %q", name)
		}
		counts[s]++
	}
	return counts, nil
}

func validateConstant(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(field, "must be a finite number, got %v", v)
	}
	if v < 0 {
		return invalid(field, "must be non-negative, got %v", v)
	}
	return nil
}
