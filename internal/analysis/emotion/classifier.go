// Package emotion maps a sentiment polarity onto a discrete emotion bucket.
package emotion

// Label is one of the fixed emotion buckets shown to the user.
type Label string

const (
	VerySad   Label = "Very Sad"
	Sad       Label = "Sad"
	Neutral   Label = "Neutral"
	Happy     Label = "Happy"
	VeryHappy Label = "Very Happy"
)

// Labels lists every bucket from most negative to most positive.
func Labels() []Label {
	return []Label{VerySad, Sad, Neutral, Happy, VeryHappy}
}

// Classify maps a polarity in [-1, 1] onto a label. The five ranges partition
// the domain with no gaps or overlaps:
//
//	Very Sad   [-1.0, -0.6]
//	Sad        (-0.6, -0.2]
//	Neutral    (-0.2,  0.2]
//	Happy      ( 0.2,  0.6]
//	Very Happy ( 0.6,  1.0]
//
// Out-of-domain input is clamped to the nearest boundary.
func Classify(polarity float64) Label {
	if polarity < -1 {
		polarity = -1
	}
	if polarity > 1 {
		polarity = 1
	}

	switch {
	case polarity <= -0.6:
		return VerySad
	case polarity <= -0.2:
		return Sad
	case polarity <= 0.2:
		return Neutral
	case polarity <= 0.6:
		return Happy
	default:
		return VeryHappy
	}
}
