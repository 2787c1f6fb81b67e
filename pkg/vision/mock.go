package vision

import (
	"context"
	"sync"
)

// Mock implements Detector for testing.
type Mock struct {
	// FacesFunc is called when DetectFaces is invoked.
	FacesFunc func(ctx context.Context, image []byte) ([]Face, error)

	// LabelsFunc is called when DetectLabels is invoked.
	LabelsFunc func(ctx context.Context, image []byte, maxLabels int, minConfidence float64) ([]Label, error)

	mu    sync.Mutex
	calls []string
}

// NewMock creates a mock detector that returns the given faces and labels.
func NewMock(faces []Face, labels []Label) *Mock {
	return &Mock{
		FacesFunc: func(ctx context.Context, image []byte) ([]Face, error) {
			return faces, nil
		},
		LabelsFunc: func(ctx context.Context, image []byte, maxLabels int, minConfidence float64) ([]Label, error) {
			return labels, nil
		},
	}
}

// Name implements Detector.
func (m *Mock) Name() string {
	return "mock"
}

// DetectFaces calls FacesFunc and records the call.
func (m *Mock) DetectFaces(ctx context.Context, image []byte) ([]Face, error) {
	m.record("DetectFaces")
	if m.FacesFunc != nil {
		return m.FacesFunc(ctx, image)
	}
	return nil, nil
}

// DetectLabels calls LabelsFunc and records the call.
func (m *Mock) DetectLabels(ctx context.Context, image []byte, maxLabels int, minConfidence float64) ([]Label, error) {
	m.record("DetectLabels")
	if m.LabelsFunc != nil {
		return m.LabelsFunc(ctx, image, maxLabels, minConfidence)
	}
	return nil, nil
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c == method {
			count++
		}
	}
	return count
}

// Verify Mock implements Detector at compile time.
var _ Detector = (*Mock)(nil)
