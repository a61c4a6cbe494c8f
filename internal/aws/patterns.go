package aws

import "github.com/ppiankov/wastespectre/internal/model"

// pattern is one named waste rule. Rules are evaluated in order and the first
// match decides the recommendation.
type pattern[T any] struct {
	Name       string
	Type       model.RecommendationType
	Priority   int
	Confidence float64
	Match      func(T) bool
}

func firstMatch[T any](patterns []pattern[T], subject T) (pattern[T], bool) {
	for _, p := range patterns {
		if p.Match(subject) {
			return p, true
		}
	}
	return pattern[T]{}, false
}
