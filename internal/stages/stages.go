// Package stages defines the ordered pipeline stages and the tables each
// one reads and writes.
package stages

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStage is returned for a stage name not in the plan.
var ErrUnknownStage = errors.New("unknown stage")

// ErrInvalidRange is returned when a range ends before it starts.
var ErrInvalidRange = errors.New("invalid stage range")

// ErrInvalidPlan is returned when stage definitions are inconsistent.
var ErrInvalidPlan = errors.New("invalid stage plan")

const (
	Ingest  = "ingest"
	Clean   = "clean"
	Join    = "join"
	Analyze = "analyze"
)

// SourcePrefix marks reads satisfied outside the plan.
const SourcePrefix = "source:"

// Definition describes one stage.
type Definition struct {
	Name   string
	Reads  []string
	Writes []string
}

// Plan is a validated, ordered list of stages.
type Plan struct {
	stages []Definition
	index  map[string]int
}

// NewPlan validates defs and builds a plan. Stage names must be unique and
// every read must be external or written by an earlier stage.
func NewPlan(defs []Definition) (*Plan, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrInvalidPlan)
	}

	index := make(map[string]int, len(defs))
	written := make(map[string]string)
	for i, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: stage %d has no name", ErrInvalidPlan, i)
		}
		if _, dup := index[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate stage %q", ErrInvalidPlan, d.Name)
		}
		for _, r := range d.Reads {
			if strings.HasPrefix(r, SourcePrefix) {
				continue
			}
			if _, ok := written[r]; !ok {
				return nil, fmt.Errorf("%w: stage %q reads %s which no earlier stage writes", ErrInvalidPlan, d.Name, r)
			}
		}
		for _, w := range d.Writes {
			if prev, ok := written[w]; ok {
				return nil, fmt.Errorf("%w: %s written by both %q and %q", ErrInvalidPlan, w, prev, d.Name)
			}
			written[w] = d.Name
		}
		index[d.Name] = i
	}

	stages := make([]Definition, len(defs))
	copy(stages, defs)
	return &Plan{stages: stages, index: index}, nil
}

// Default returns the medallion plan: bronze ingestion, silver cleaning,
// the gold join and the analysis over gold.
func Default() *Plan {
	p, err := NewPlan([]Definition{
		{
			Name:   Ingest,
			Reads:  []string{SourcePrefix + "conflito", SourcePrefix + "cidade"},
			Writes: []string{"bronze.conflito", "bronze.cidade"},
		},
		{
			Name:   Clean,
			Reads:  []string{"bronze.conflito", "bronze.cidade"},
			Writes: []string{"silver.conflito", "silver.cidade"},
		},
		{
			Name:   Join,
			Reads:  []string{"silver.conflito", "silver.cidade"},
			Writes: []string{"gold.conflito"},
		},
		{
			Name:  Analyze,
			Reads: []string{"gold.conflito"},
		},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// Names returns the stage names in order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.stages))
	for i, d := range p.stages {
		names[i] = d.Name
	}
	return names
}

// Get returns the definition of a stage.
func (p *Plan) Get(name string) (Definition, error) {
	i, ok := p.index[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return p.stages[i], nil
}

// Range returns the stages from..to inclusive. An empty bound means the
// first or last stage.
func (p *Plan) Range(from, to string) ([]Definition, error) {
	start, end := 0, len(p.stages)-1
	if from != "" {
		i, ok := p.index[from]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, from)
		}
		start = i
	}
	if to != "" {
		i, ok := p.index[to]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, to)
		}
		end = i
	}
	if start > end {
		return nil, fmt.Errorf("%w: %q comes after %q", ErrInvalidRange, from, to)
	}

	out := make([]Definition, end-start+1)
	copy(out, p.stages[start:end+1])
	return out, nil
}

// After returns the stage following name, or "" when name is the last.
func (p *Plan) After(name string) (string, error) {
	i, ok := p.index[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	if i == len(p.stages)-1 {
		return "", nil
	}
	return p.stages[i+1].Name, nil
}
