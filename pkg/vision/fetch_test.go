package vision

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func fastPoll(attempts int) PollConfig {
	return PollConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      5 * time.Second,
	}
}

func TestFetch_EventuallyAvailable(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpegBytes)
	}))
	defer server.Close()

	f := NewFetcher(fastPoll(10), nil, nil)
	data, attempts, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(data) != len(jpegBytes) {
		t.Errorf("got %d bytes, want %d", len(data), len(jpegBytes))
	}
}

func TestFetch_Bounded(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := NewFetcher(fastPoll(4), nil, nil)
	_, attempts, err := f.Fetch(context.Background(), server.URL)

	if !errors.Is(err, ErrSnapshotTimeout) {
		t.Fatalf("Expected ErrSnapshotTimeout, got %v", err)
	}
	var pollErr *PollTimeoutError
	if !errors.As(err, &pollErr) {
		t.Fatalf("Expected *PollTimeoutError, got %T", err)
	}
	if pollErr.Attempts != 4 || attempts != 4 {
		t.Errorf("attempts = %d/%d, want 4", pollErr.Attempts, attempts)
	}
	if hits.Load() != 4 {
		t.Errorf("server hit %d times, want 4", hits.Load())
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected last error to be a 404 StatusError, got %v", pollErr.Last)
	}
}

func TestFetch_PermanentStatus(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := NewFetcher(fastPoll(10), nil, nil)
	_, _, err := f.Fetch(context.Background(), server.URL)

	if !errors.Is(err, ErrSnapshotRejected) {
		t.Fatalf("Expected ErrSnapshotRejected, got %v", err)
	}
	if errors.Is(err, ErrSnapshotTimeout) {
		t.Error("A rejected URL must not be reported as a timeout")
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestFetch_NotFoundBody(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code></Error>`))
			return
		}
		w.Write(jpegBytes)
	}))
	defer server.Close()

	f := NewFetcher(fastPoll(5), nil, nil)
	_, attempts, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestFetch_EmptyBodyNotReady(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write(jpegBytes)
	}))
	defer server.Close()

	f := NewFetcher(fastPoll(5), nil, nil)
	data, attempts, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(data) != len(jpegBytes) {
		t.Errorf("got %d bytes, want %d", len(data), len(jpegBytes))
	}
}

func TestFetch_EmptyBodyExhaustsBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := NewFetcher(fastPoll(3), nil, nil)
	_, attempts, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrSnapshotTimeout) {
		t.Fatalf("Expected ErrSnapshotTimeout, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestFetch_NonImageBodyRejected(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>Please sign in</body></html>"))
	}))
	defer server.Close()

	f := NewFetcher(fastPoll(5), nil, nil)
	_, _, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrSnapshotRejected) {
		t.Fatalf("Expected ErrSnapshotRejected, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestFetch_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	poll := PollConfig{
		MaxAttempts:     1000,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := NewFetcher(poll, nil, nil).Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !errors.Is(err, ErrSnapshotTimeout) {
		t.Errorf("Expected ErrSnapshotTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fetch took %v, should stop at the context deadline", elapsed)
	}
}

func TestStatusError_NotReady(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{404, true},
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{403, false},
		{410, false},
	}

	for _, tt := range tests {
		if got := (&StatusError{StatusCode: tt.code}).NotReady(); got != tt.want {
			t.Errorf("NotReady(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestPollConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       PollConfig
		shouldErr bool
	}{
		{"default", DefaultPollConfig(), false},
		{"zero_attempts", PollConfig{MaxAttempts: 0, InitialInterval: time.Second, MaxInterval: time.Second}, true},
		{"zero_interval", PollConfig{MaxAttempts: 3, MaxInterval: time.Second}, true},
		{"max_below_initial", PollConfig{MaxAttempts: 3, InitialInterval: 2 * time.Second, MaxInterval: time.Second}, true},
		{"negative_elapsed", PollConfig{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: time.Second, MaxElapsed: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.shouldErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}
