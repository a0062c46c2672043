// Package stress evaluates an assessed entity against a versioned library of
// named adverse scenarios.
//
// The simulation is deterministic: mitigation comes from the composite
// score, and scenario probability is raised by weak scores in the
// scenario's driver categories (compliance and geopolitical by default).
package stress

import (
	"errors"
	"fmt"
	"math"

	"github.com/mbd888/riskscope/internal/risk"
)

var (
	ErrInvalidLibrary = errors.New("stress: invalid scenario library")
	ErrUnscored       = errors.New("stress: profile is unscored")
)

const (
	// DefaultMaxUplift lets weak driver categories at most double a
	// scenario's base probability.
	DefaultMaxUplift = 1.0

	// minMitigation bounds recovery time for entities with a zero score.
	minMitigation = 0.05
)

// DefaultDrivers are the categories that raise scenario probability when a
// scenario does not name its own.
var DefaultDrivers = []string{risk.CategoryCompliance, risk.CategoryGeopolitical}

// Scenario is one named adverse event.
type Scenario struct {
	Name             string   `json:"name" yaml:"name"`
	Description      string   `json:"description,omitempty" yaml:"description"`
	BaseProbability  float64  `json:"baseProbability" yaml:"baseProbability"`
	BaseImpact       float64  `json:"baseImpact" yaml:"baseImpact"`
	BaseRecoveryDays float64  `json:"baseRecoveryDays" yaml:"baseRecoveryDays"`
	Drivers          []string `json:"drivers,omitempty" yaml:"drivers"`
}

// Library is a versioned set of scenarios.
type Library struct {
	Version   string     `json:"version" yaml:"version"`
	Scenarios []Scenario `json:"scenarios" yaml:"scenarios"`
}

// Result is the outcome of one scenario for one entity.
type Result struct {
	Scenario        string  `json:"scenario"`
	LibraryVersion  string  `json:"libraryVersion"`
	Probability     float64 `json:"probability"`
	Impact          float64 `json:"impact"`
	MitigationScore float64 `json:"mitigationScore"`
	EstimatedLoss   float64 `json:"estimatedLoss"`
	ExpectedLoss    float64 `json:"expectedLoss"`
	RecoveryDays    float64 `json:"recoveryDays"`
}

// Validate checks scenario names are unique and parameters in range.
func (l Library) Validate() error {
	if l.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidLibrary)
	}
	if len(l.Scenarios) == 0 {
		return fmt.Errorf("%w: no scenarios", ErrInvalidLibrary)
	}
	seen := make(map[string]bool, len(l.Scenarios))
	for _, s := range l.Scenarios {
		switch {
		case s.Name == "":
			return fmt.Errorf("%w: scenario name is empty", ErrInvalidLibrary)
		case seen[s.Name]:
			return fmt.Errorf("%w: duplicate scenario %q", ErrInvalidLibrary, s.Name)
		case s.BaseProbability < 0 || s.BaseProbability > 1:
			return fmt.Errorf("%w: %s probability %v outside [0,1]", ErrInvalidLibrary, s.Name, s.BaseProbability)
		case s.BaseImpact < 0 || s.BaseImpact > 1:
			return fmt.Errorf("%w: %s impact %v outside [0,1]", ErrInvalidLibrary, s.Name, s.BaseImpact)
		case s.BaseRecoveryDays < 0:
			return fmt.Errorf("%w: %s recovery days negative", ErrInvalidLibrary, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Simulator runs a scenario library against risk profiles.
type Simulator struct {
	library   Library
	maxUplift float64
}

// NewSimulator creates a simulator for a validated library.
func NewSimulator(library Library) (*Simulator, error) {
	if err := library.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{library: library, maxUplift: DefaultMaxUplift}, nil
}

// WithMaxUplift overrides how far weak drivers may raise probability.
func (s *Simulator) WithMaxUplift(u float64) *Simulator {
	if u >= 0 {
		s.maxUplift = u
	}
	return s
}

// Library returns the scenario library in use.
func (s *Simulator) Library() Library {
	return s.library
}

// Run evaluates every scenario for the profile at the given exposure.
func (s *Simulator) Run(profile *risk.RiskProfile, exposure float64) ([]Result, error) {
	if profile == nil || !profile.Scored {
		return nil, ErrUnscored
	}
	if exposure < 0 || math.IsNaN(exposure) {
		return nil, fmt.Errorf("stress: exposure %v must be non-negative", exposure)
	}

	mitigation := profile.Overall
	scores := profile.CategoryScores()
	results := make([]Result, 0, len(s.library.Scenarios))
	for _, sc := range s.library.Scenarios {
		impact := sc.BaseImpact * (1 - mitigation)
		loss := impact * exposure
		prob := math.Min(1, sc.BaseProbability*s.multiplier(sc, scores))
		results = append(results, Result{
			Scenario:        sc.Name,
			LibraryVersion:  s.library.Version,
			Probability:     prob,
			Impact:          impact,
			MitigationScore: mitigation,
			EstimatedLoss:   loss,
			ExpectedLoss:    prob * loss,
			RecoveryDays:    sc.BaseRecoveryDays / math.Max(mitigation, minMitigation),
		})
	}
	return results, nil
}

// multiplier is 1 + maxUplift·(1 − mean driver score). Absent drivers leave
// probability at its base value.
func (s *Simulator) multiplier(sc Scenario, scores map[string]float64) float64 {
	drivers := sc.Drivers
	if len(drivers) == 0 {
		drivers = DefaultDrivers
	}
	var sum float64
	var n int
	for _, d := range drivers {
		if v, ok := scores[d]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return 1 + s.maxUplift*(1-sum/float64(n))
}
