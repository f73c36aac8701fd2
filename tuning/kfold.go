package tuning

import (
	"fmt"
	"math/rand"
	"sort"
)

// Fold holds the training and validation indices of one split.
type Fold struct {
	Train      []int
	Validation []int
}

// StratifiedKFold partitions sample indices into k folds keeping each
// label's share roughly equal across folds. Indices of each label are
// shuffled once with seed and dealt round-robin, continuing where the
// previous label stopped so fold sizes differ by at most one.
func StratifiedKFold(labels []string, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("tuning: need at least 2 folds, got %d", k)
	}
	if len(labels) < k {
		return nil, fmt.Errorf("tuning: cannot split %d samples into %d folds", len(labels), k)
	}

	byLabel := make(map[string][]int)
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], i)
	}
	classes := make([]string, 0, len(byLabel))
	for l := range byLabel {
		classes = append(classes, l)
	}
	sort.Strings(classes)

	rnd := rand.New(rand.NewSource(seed))
	assign := make([]int, len(labels))
	next := 0
	for _, l := range classes {
		idx := byLabel[l]
		rnd.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			assign[i] = next
			next = (next + 1) % k
		}
	}

	folds := make([]Fold, k)
	for i, f := range assign {
		for j := range folds {
			if j == f {
				folds[j].Validation = append(folds[j].Validation, i)
			} else {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	return folds, nil
}
