package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/riskscope/internal/risk"
	"github.com/mbd888/riskscope/internal/stress"
)

// ModelFile is the on-disk form of the risk model:
//
//	stalenessWindow: 720h
//	categories:
//	  - {name: financial, weight: 0.25}
//	maxUplift: 1.0
//	scenarioLibrary:
//	  version: "2026.2"
//	  scenarios:
//	    - {name: market_crash, baseProbability: 0.1, baseImpact: 0.35, baseRecoveryDays: 180}
//
// Sections left out keep their built-in defaults.
type ModelFile struct {
	StalenessWindow   *time.Duration  `yaml:"stalenessWindow"`
	Categories        []risk.Category `yaml:"categories"`
	MaxUplift         *float64        `yaml:"maxUplift"`
	NeutralVolatility *float64        `yaml:"neutralVolatility"`
	ScenarioLibrary   *stress.Library `yaml:"scenarioLibrary"`
}

// LoadModelFile reads and validates a model file.
func LoadModelFile(path string) (*ModelFile, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return ParseModelFile(raw)
}

// ParseModelFile decodes a model file body.
func ParseModelFile(raw []byte) (*ModelFile, error) {
	var mf ModelFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("decode model file: %w", err)
	}
	scratch := DefaultConfig()
	if err := mf.Apply(&scratch); err != nil {
		return nil, err
	}
	return &mf, nil
}

// Apply overlays the file onto cfg and validates the result.
func (mf *ModelFile) Apply(cfg *Config) error {
	if len(mf.Categories) > 0 {
		cfg.Model.Categories = append([]risk.Category(nil), mf.Categories...)
	}
	if mf.StalenessWindow != nil {
		cfg.Model.StalenessWindow = *mf.StalenessWindow
	}
	if mf.MaxUplift != nil {
		if *mf.MaxUplift < 0 {
			return fmt.Errorf("%w: maxUplift must not be negative", stress.ErrInvalidLibrary)
		}
		cfg.MaxUplift = *mf.MaxUplift
	}
	if mf.NeutralVolatility != nil {
		if *mf.NeutralVolatility < 0 {
			return fmt.Errorf("neutralVolatility must not be negative")
		}
		cfg.NeutralVolatility = *mf.NeutralVolatility
	}
	if mf.ScenarioLibrary != nil {
		cfg.Library = *mf.ScenarioLibrary
	}
	if err := cfg.Model.Validate(); err != nil {
		return err
	}
	return cfg.Library.Validate()
}
