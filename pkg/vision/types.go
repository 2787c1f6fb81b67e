// Package vision analyzes camera snapshots for faces and labels using a
// cloud vision backend.
package vision

import "context"

// Emotion is one emotion candidate reported for a face.
type Emotion struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Face holds the attributes detected for a single face.
type Face struct {
	AgeLow     int       `json:"age_low"`
	AgeHigh    int       `json:"age_high"`
	Gender     string    `json:"gender"`
	Emotions   []Emotion `json:"emotions"`
	Confidence float64   `json:"confidence"`
}

// Age returns the midpoint of the reported age range.
func (f Face) Age() float64 {
	return float64(f.AgeLow+f.AgeHigh) / 2
}

// DominantEmotion returns the emotion with the highest confidence.
// Ties go to the candidate seen first. ok is false when there are none.
func (f Face) DominantEmotion() (e Emotion, ok bool) {
	for i, cand := range f.Emotions {
		if i == 0 || cand.Confidence > e.Confidence {
			e = cand
		}
	}
	return e, len(f.Emotions) > 0
}

// Label is a detected object or scene label.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Analysis is the outcome of analyzing one snapshot.
type Analysis struct {
	Faces      []Face  `json:"faces"`
	Labels     []Label `json:"labels"`
	ImageBytes int     `json:"image_bytes"`
	Attempts   int     `json:"attempts"`
}

// Detector is a cloud vision backend.
type Detector interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// DetectFaces returns all faces in the image. No faces is an empty
	// slice and a nil error.
	DetectFaces(ctx context.Context, image []byte) ([]Face, error)

	// DetectLabels returns at most maxLabels labels at or above minConfidence (0-100).
	DetectLabels(ctx context.Context, image []byte, maxLabels int, minConfidence float64) ([]Label, error)
}
