// Package training fits, selects, calibrates and freezes model artifacts.
package training

import (
	"fmt"
	"runtime"
	"time"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/model"
)

// Example is one labelled patient.
type Example = domain.LabeledRecord

// Candidate is one point of the hyperparameter grid.
type Candidate struct {
	Name            string                `json:"name"`
	Type            model.Type            `json:"type"`
	Hyperparameters model.Hyperparameters `json:"hyperparameters"`
}

// DefaultGrid returns the built-in candidates, linear baseline first.
func DefaultGrid() []Candidate {
	return []Candidate{
		{
			Name:            "logistic-l2-0.01",
			Type:            model.TypeLogistic,
			Hyperparameters: model.Hyperparameters{L2: 0.01, LearningRate: 0.5, Iterations: 300},
		},
		{
			Name:            "logistic-l2-0.1",
			Type:            model.TypeLogistic,
			Hyperparameters: model.Hyperparameters{L2: 0.1, LearningRate: 0.5, Iterations: 300},
		},
		{
			Name:            "forest-60x6",
			Type:            model.TypeForest,
			Hyperparameters: model.Hyperparameters{Trees: 60, MaxDepth: 6, MinLeaf: 3},
		},
		{
			Name:            "boosted-80x3",
			Type:            model.TypeBoosted,
			Hyperparameters: model.Hyperparameters{Trees: 80, MaxDepth: 3, MinLeaf: 5, LearningRate: 0.1},
		},
	}
}

// GridFor keeps the default candidates of the listed model types, in grid
// order. An empty list keeps everything.
func GridFor(types []string) ([]Candidate, error) {
	grid := DefaultGrid()
	if len(types) == 0 {
		return grid, nil
	}
	want := make(map[model.Type]bool, len(types))
	for _, s := range types {
		typ, err := model.ParseType(s)
		if err != nil {
			return nil, err
		}
		want[typ] = true
	}
	var out []Candidate
	for _, c := range grid {
		if want[c.Type] {
			out = append(out, c)
		}
	}
	return out, nil
}

// Config is the training protocol.
type Config struct {
	Folds       int
	Seeds       []int64
	SplitSeed   int64
	Parallelism int
	// Timeout bounds a whole Fit on top of any caller deadline.
	Timeout time.Duration
	// MaxFits caps the number of model fits; 0 means unlimited.
	MaxFits    int
	Grid       []Candidate
	Resampling Resampling
	// BackgroundLimit caps the attribution background drawn from the
	// training split. 0 keeps the whole split, so the baseline is the exact
	// training-split mean; a positive cap makes it a subsample estimate.
	BackgroundLimit int
}

// Split fractions of the cohort.
const (
	TrainFraction      = 0.6
	ValidationFraction = 0.2
)

// DefaultConfig returns 5-fold cross-validation repeated with three seeds.
func DefaultConfig() Config {
	return Config{
		Folds:           5,
		Seeds:           []int64{11, 23, 47},
		SplitSeed:       42,
		Parallelism:     runtime.GOMAXPROCS(0),
		Grid:            DefaultGrid(),
		Resampling:      Resampling{Strategy: ResampleNone},
	}
}

// ConfigFromEngine translates the training section of the engine configuration.
func ConfigFromEngine(tc domain.TrainingConfig) (Config, error) {
	cfg := DefaultConfig()
	if tc.Folds > 0 {
		cfg.Folds = tc.Folds
	}
	if len(tc.Seeds) > 0 {
		cfg.Seeds = append([]int64(nil), tc.Seeds...)
	}
	if tc.SplitSeed != 0 {
		cfg.SplitSeed = tc.SplitSeed
	}
	if tc.Parallelism > 0 {
		cfg.Parallelism = tc.Parallelism
	}
	cfg.Timeout = tc.Timeout
	cfg.MaxFits = tc.MaxFits

	grid, err := GridFor(tc.ModelTypes)
	if err != nil {
		return Config{}, err
	}
	cfg.Grid = grid

	if tc.ResampleStrategy != "" {
		cfg.Resampling = Resampling{
			Strategy:  tc.ResampleStrategy,
			Ratio:     tc.ResampleRatio,
			Neighbors: tc.ResampleNeighbors,
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the protocol parameters.
func (c Config) Validate() error {
	if c.Folds < 2 {
		return domain.NewValidationError("training.folds", "need at least 2 folds", c.Folds)
	}
	if len(c.Seeds) == 0 {
		return domain.NewValidationError("training.seeds", "need at least one cross-validation seed", c.Seeds)
	}
	if len(c.Grid) == 0 {
		return domain.NewValidationError("training.model_types", "candidate grid is empty", nil)
	}
	if c.MaxFits < 0 {
		return domain.NewValidationError("training.max_fits", "must not be negative", c.MaxFits)
	}
	if err := c.Resampling.Validate(); err != nil {
		return err
	}
	return nil
}

// plannedFits is the number of fits a complete run performs.
func (c Config) plannedFits() int {
	return len(c.Grid)*len(c.Seeds)*c.Folds + 1
}

func (c Candidate) label() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s-%d", c.Type, c.Hyperparameters.Trees)
}
