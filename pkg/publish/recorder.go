package publish

import (
	"fmt"
	"io"
	"sync"
)

// Message is a published topic/payload pair.
type Message struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// Recorder is an in-memory Publisher. It keeps every message in order and
// optionally echoes them to a writer.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	out      io.Writer
}

// NewRecorder creates a Recorder. out may be nil.
func NewRecorder(out io.Writer) *Recorder {
	return &Recorder{out: out}
}

// Publish implements Publisher.
func (r *Recorder) Publish(topic, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, Message{Topic: topic, Payload: payload})
	if r.out != nil {
		fmt.Fprintf(r.out, "%-16s %s\n", topic, payload)
	}
	return nil
}

// Messages returns a copy of all recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Latest returns the last payload per topic, the view a retained-message
// consumer ends up with.
func (r *Recorder) Latest() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := make(map[string]string, len(r.messages))
	for _, m := range r.messages {
		latest[m.Topic] = m.Payload
	}
	return latest
}

// Reset clears all recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

var _ Publisher = (*Recorder)(nil)
