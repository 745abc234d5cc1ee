package emotion

import (
	"fmt"

	"github.com/reblisbiver/emotional-crawler/pkg/config"
)

// Gate decides admission from a score vector. An item passes when any
// target category meets the threshold, whether or not that category is
// dominant: the system wants emotionally salient content, not content
// whose single strongest signal happens to be a target.
type Gate struct {
	threshold float64
	targets   map[Category]bool
}

// NewGate builds a gate over the given target subset and minimum score.
func NewGate(threshold float64, targets []Category) *Gate {
	set := make(map[Category]bool, len(targets))
	for _, c := range targets {
		set[c] = true
	}
	return &Gate{threshold: threshold, targets: set}
}

// NewGateFromConfig builds a gate from the emotion configuration,
// validating the category names.
func NewGateFromConfig(cfg *config.EmotionConfig) (*Gate, error) {
	targets := make([]Category, 0, len(cfg.TargetCategories))
	for _, name := range cfg.TargetCategories {
		c, ok := ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("unknown target category: %s", name)
		}
		targets = append(targets, c)
	}
	return NewGate(cfg.MinScore, targets), nil
}

// Admit evaluates a score vector. Dominant is the highest-scoring
// category and secondary the second highest, ties broken by the fixed
// vocabulary order. Admit is pure: the same scores always produce the
// same decision.
func (g *Gate) Admit(scores Scores) (passed bool, dominant, secondary Category) {
	dominant, secondary = Rank(scores)

	for c := range g.targets {
		if scores[c] >= g.threshold {
			passed = true
			break
		}
	}
	return passed, dominant, secondary
}

// Rank returns the dominant and secondary categories of a score vector,
// ties broken by vocabulary order.
func Rank(scores Scores) (dominant, secondary Category) {
	var best, second float64 = -1, -1
	for _, c := range Vocabulary {
		v, ok := scores[c]
		if !ok {
			continue
		}
		switch {
		case v > best:
			second, secondary = best, dominant
			best, dominant = v, c
		case v > second:
			second, secondary = v, c
		}
	}
	return dominant, secondary
}
