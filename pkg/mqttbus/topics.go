package mqttbus

import "fmt"

// Topics builds device event topic names under a namespace.
type Topics struct {
	namespace string
}

// NewTopics creates a Topics helper for the given namespace.
func NewTopics(namespace string) *Topics {
	return &Topics{namespace: namespace}
}

// Events returns the event topic for a camera, e.g. "/merakimv/Q2XX-XXXX/0".
func (t *Topics) Events(serial string) string {
	return fmt.Sprintf("/%s/%s/0", t.namespace, serial)
}

// Namespace returns the configured namespace.
func (t *Topics) Namespace() string {
	return t.namespace
}
