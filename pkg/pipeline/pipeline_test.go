package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/mvsense/pkg/meraki"
	"github.com/teslashibe/mvsense/pkg/publish"
	"github.com/teslashibe/mvsense/pkg/trigger"
	"github.com/teslashibe/mvsense/pkg/vision"
)

const (
	testNetwork = "N_1234"
	testSerial  = "Q2BB-0000-0002"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

// cameraServer fakes the Dashboard API and the snapshot storage. The image
// answers 404 for the first notReady requests.
func cameraServer(t *testing.T, notReady int32) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	var imageHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /networks/"+testNetwork+"/devices", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]meraki.Device{
			{Serial: "Q2AA-0000-0001", Model: "MR33"},
			{Serial: testSerial, Model: "MV12W"},
		})
	})
	mux.HandleFunc("POST /networks/"+testNetwork+"/cameras/{serial}/snapshot", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(meraki.Snapshot{URL: server.URL + "/snapshots/abc.jpg"})
	})
	mux.HandleFunc("GET /snapshots/abc.jpg", func(w http.ResponseWriter, r *http.Request) {
		if imageHits.Add(1) <= notReady {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpegBytes)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func fastVisionConfig() vision.Config {
	cfg := vision.DefaultConfig()
	cfg.Poll = vision.PollConfig{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      5 * time.Second,
	}
	return cfg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NetworkID = testNetwork
	cfg.Serial = testSerial
	cfg.AcquireInterval = time.Millisecond
	return cfg
}

func TestPipeline_EndToEnd(t *testing.T) {
	server := cameraServer(t, 2)

	mcfg := meraki.DefaultConfig()
	mcfg.BaseURL = server.URL
	mcfg.APIKey = "test-key"
	mcfg.RateLimit = 0
	source, err := meraki.New(mcfg)
	require.NoError(t, err)

	detector := vision.NewMock(
		[]vision.Face{{
			AgeLow: 18, AgeHigh: 22, Gender: "Male",
			Emotions: []vision.Emotion{{Type: "HAPPY", Confidence: 99}, {Type: "CALM", Confidence: 1}},
		}},
		[]vision.Label{
			{Name: "Person", Confidence: 99.5},
			{Name: "Human", Confidence: 99.4},
			{Name: "Chair", Confidence: 91},
		},
	)
	analyzer, err := vision.NewAnalyzer(detector, fastVisionConfig())
	require.NoError(t, err)

	rec := publish.NewRecorder(nil)
	p, err := New(testConfig(), source, analyzer, publish.New(rec, publish.Config{}, nil), nil)
	require.NoError(t, err)

	var observed []Result
	p.OnResult(func(r Result) { observed = append(observed, r) })

	res := p.Run(context.Background(), trigger.Event{Source: trigger.SourceBus})
	require.NoError(t, res.Err)

	snap := server.URL + "/snapshots/abc.jpg"
	assert.Equal(t, map[string]string{
		"Age":            "20",
		"EmotionalState": "HAPPY",
		"Gender":         "Male",
		"Snap":           snap,
		"Label0":         "Person - 99.5%",
		"Label1":         "Human - 99.4%",
		"Label2":         "Chair - 91%",
		"Label3":         " - ",
		"Label4":         " - ",
		"Label5":         " - ",
	}, rec.Latest())

	assert.Equal(t, snap, res.SnapshotURL)
	assert.Len(t, res.Faces, 1)
	assert.Len(t, res.Labels, 3)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, trigger.SourceBus, res.Source)
	assert.Equal(t, 1, detector.CallCount("DetectFaces"))

	last, ok := p.LastResult()
	require.True(t, ok)
	assert.Equal(t, res.ID, last.ID)
	require.Len(t, observed, 1)
	assert.Equal(t, res.ID, observed[0].ID)
}

type fakeSource struct {
	errs  []error
	url   string
	calls int
	at    time.Time
}

func (f *fakeSource) SnapshotURL(ctx context.Context, networkID, serial string, at time.Time) (string, error) {
	f.calls++
	f.at = at
	if f.calls <= len(f.errs) {
		return "", f.errs[f.calls-1]
	}
	return f.url, nil
}

type fakeAnalyzer struct {
	analysis *vision.Analysis
	err      error
	calls    int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, url string) (*vision.Analysis, error) {
	f.calls++
	return f.analysis, f.err
}

func newPipeline(t *testing.T, src SnapshotSource, an Analyzer, sink ResultSink) *Pipeline {
	t.Helper()
	p, err := New(testConfig(), src, an, sink, nil)
	require.NoError(t, err)
	return p
}

func TestPipeline_AcquireRetriesUnavailable(t *testing.T) {
	unavailable := fmt.Errorf("%w: %w", meraki.ErrSnapshotUnavailable, &meraki.APIError{StatusCode: 404})
	src := &fakeSource{errs: []error{unavailable, unavailable}, url: "https://snap.example/x.jpg"}
	an := &fakeAnalyzer{analysis: &vision.Analysis{}}
	rec := publish.NewRecorder(nil)

	res := newPipeline(t, src, an, publish.New(rec, publish.Config{}, nil)).Run(context.Background(), trigger.Event{})

	require.NoError(t, res.Err)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, "https://snap.example/x.jpg", rec.Latest()["Snap"])
}

func TestPipeline_AcquirePermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not_found", fmt.Errorf("%w: serial X", meraki.ErrDeviceNotFound)},
		{"ambiguous", fmt.Errorf("%w: serial X matched 2 devices", meraki.ErrAmbiguousDevice)},
		{"unauthorized", fmt.Errorf("%w: %w", meraki.ErrSnapshotUnavailable, &meraki.APIError{StatusCode: 401})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{errs: []error{tt.err, tt.err, tt.err}}
			an := &fakeAnalyzer{}
			rec := publish.NewRecorder(nil)

			res := newPipeline(t, src, an, publish.New(rec, publish.Config{}, nil)).Run(context.Background(), trigger.Event{})

			require.Error(t, res.Err)
			assert.ErrorIs(t, res.Err, tt.err)
			var ce *CycleError
			require.ErrorAs(t, res.Err, &ce)
			assert.Equal(t, StageAcquire, ce.Stage)
			assert.Equal(t, 1, src.calls, "permanent errors must not be retried")
			assert.Zero(t, an.calls)
			assert.Empty(t, rec.Messages())
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestPipeline_AnalysisFailureIsNotEmptyResult(t *testing.T) {
	src := &fakeSource{url: "u"}
	an := &fakeAnalyzer{err: &vision.AnalysisError{Backend: "mock", Stage: vision.StageFaces, Err: errors.New("throttled")}}
	rec := publish.NewRecorder(nil)

	res := newPipeline(t, src, an, publish.New(rec, publish.Config{}, nil)).Run(context.Background(), trigger.Event{})

	var ae *vision.AnalysisError
	require.ErrorAs(t, res.Err, &ae)
	assert.Equal(t, vision.StageFaces, ae.Stage)
	assert.Empty(t, rec.Messages(), "nothing is published for a failed analysis")
}

func TestPipeline_PollTimeout(t *testing.T) {
	src := &fakeSource{url: "u"}
	an := &fakeAnalyzer{err: &vision.PollTimeoutError{URL: "u", Attempts: 20}}

	res := newPipeline(t, src, an, discard()).Run(context.Background(), trigger.Event{})

	assert.ErrorIs(t, res.Err, vision.ErrSnapshotTimeout)
}

func discard() ResultSink {
	return publish.New(publish.NewRecorder(nil), publish.Config{}, nil)
}

type failingSink struct{}

func (failingSink) PublishAnalysis(string, *vision.Analysis) error {
	return errors.New("not connected")
}

func TestPipeline_PublishFailure(t *testing.T) {
	src := &fakeSource{url: "u"}
	an := &fakeAnalyzer{analysis: &vision.Analysis{}}

	p := newPipeline(t, src, an, failingSink{})
	err := p.Handle(context.Background(), trigger.Event{Source: trigger.SourceManual})

	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StagePublish, ce.Stage)

	last, ok := p.LastResult()
	require.True(t, ok)
	assert.False(t, last.OK())
}

func TestPipeline_PassesTimestamp(t *testing.T) {
	src := &fakeSource{url: "u"}
	an := &fakeAnalyzer{analysis: &vision.Analysis{}}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	newPipeline(t, src, an, discard()).Run(context.Background(), trigger.Event{Timestamp: at})

	assert.True(t, src.at.Equal(at))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	assert.NoError(t, cfg.Validate())

	cfg.AcquireAttempts = 0
	assert.Error(t, cfg.Validate())
}
