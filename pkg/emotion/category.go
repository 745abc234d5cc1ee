// Package emotion holds the fixed category vocabulary, the
// classification client, and the threshold-based admission gate.
package emotion

import "context"

// Category is one of the seven emotion categories used throughout.
type Category string

const (
	Joy      Category = "joy"
	Anger    Category = "anger"
	Sadness  Category = "sadness"
	Fear     Category = "fear"
	Surprise Category = "surprise"
	Disgust  Category = "disgust"
	Neutral  Category = "neutral"
)

// Vocabulary lists every category. The order doubles as the fixed
// priority used to break score ties.
var Vocabulary = []Category{Joy, Anger, Sadness, Fear, Surprise, Disgust, Neutral}

// ParseCategory maps a name to its Category.
func ParseCategory(name string) (Category, bool) {
	for _, c := range Vocabulary {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// Scores maps every category in the vocabulary to a score. Scores are
// classifier-defined but monotonic-comparable within one item.
type Scores map[Category]float64

// Complete reports whether s carries a score for every category.
func (s Scores) Complete() bool {
	if len(s) < len(Vocabulary) {
		return false
	}
	for _, c := range Vocabulary {
		if _, ok := s[c]; !ok {
			return false
		}
	}
	return true
}

// StringMap converts s into the plain map persisted with items.
func (s Scores) StringMap() map[string]float64 {
	out := make(map[string]float64, len(s))
	for c, v := range s {
		out[string(c)] = v
	}
	return out
}

// Result is one classification outcome.
type Result struct {
	Scores    Scores
	Dominant  Category
	Secondary Category
}

// TextClassifier classifies a text body.
type TextClassifier interface {
	ClassifyText(ctx context.Context, text string) (*Result, error)
}

// ImageClassifier classifies the face region of an image.
type ImageClassifier interface {
	ClassifyImage(ctx context.Context, image []byte) (*Result, error)
}

// SubjectDetector reports whether an image contains a face or body.
type SubjectDetector interface {
	DetectSubject(ctx context.Context, image []byte) (bool, error)
}
