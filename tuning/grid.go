// Package tuning selects hyperparameters by stratified k-fold grid search.
package tuning

import (
	"fmt"

	"mailclass/config"
	"mailclass/ml"
)

// Combo is one point of the hyperparameter grid.
type Combo struct {
	MaxFeatures int           `json:"max_features"`
	NGram       ml.NGramRange `json:"ngram_range"`
	C           float64       `json:"c"`
}

func (c Combo) String() string {
	return fmt.Sprintf("mf=%d ng=%s C=%g", c.MaxFeatures, c.NGram, c.C)
}

// PipelineConfig returns the combo's share of a pipeline configuration.
func (c Combo) PipelineConfig() ml.PipelineConfig {
	return ml.PipelineConfig{MaxFeatures: c.MaxFeatures, NGram: c.NGram, C: c.C}
}

// Grid lists candidate values per hyperparameter.
type Grid struct {
	MaxFeatures []int
	NGrams      []ml.NGramRange
	C           []float64
}

// GridFromConfig converts the YAML grid section.
func GridFromConfig(cfg config.GridConfig) Grid {
	g := Grid{
		MaxFeatures: append([]int(nil), cfg.MaxFeatures...),
		C:           append([]float64(nil), cfg.C...),
	}
	for _, r := range cfg.NGramRanges {
		if len(r) == 2 {
			g.NGrams = append(g.NGrams, ml.NGramRange{Min: r[0], Max: r[1]})
		}
	}
	return g
}

// Size returns the number of combos.
func (g Grid) Size() int {
	return len(g.MaxFeatures) * len(g.NGrams) * len(g.C)
}

// Combos enumerates the Cartesian product, MaxFeatures outermost and C
// innermost. The order is stable and drives tie-breaking in Best.
func (g Grid) Combos() []Combo {
	combos := make([]Combo, 0, g.Size())
	for _, mf := range g.MaxFeatures {
		for _, ng := range g.NGrams {
			for _, c := range g.C {
				combos = append(combos, Combo{MaxFeatures: mf, NGram: ng, C: c})
			}
		}
	}
	return combos
}
