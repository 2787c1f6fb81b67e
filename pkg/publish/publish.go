// Package publish renders analysis results into the fixed set of scalar
// topics consumed by the dashboard.
package publish

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/teslashibe/mvsense/pkg/vision"
)

// Topic names.
const (
	TopicAge      = "Age"
	TopicEmotion  = "EmotionalState"
	TopicGender   = "Gender"
	TopicSnapshot = "Snap"

	// TopicLabelPrefix is followed by the slot index, e.g. "Label0".
	TopicLabelPrefix = "Label"
)

// LabelSlots is the fixed width of the label record.
const LabelSlots = 6

// EmptyLabel fills label slots without a detection.
const EmptyLabel = " - "

// Publisher sends one scalar message to a topic.
type Publisher interface {
	Publish(topic, payload string) error
}

// Config controls how results are laid out on the bus.
type Config struct {
	// IndexFaces also publishes every face under Age<i>, EmotionalState<i>
	// and Gender<i>. The unindexed topics always carry the last face.
	IndexFaces bool
}

// ResultPublisher publishes analyses through a Publisher.
type ResultPublisher struct {
	pub    Publisher
	cfg    Config
	logger *slog.Logger
}

// New creates a ResultPublisher.
func New(pub Publisher, cfg Config, logger *slog.Logger) *ResultPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultPublisher{pub: pub, cfg: cfg, logger: logger}
}

// LabelTopic returns the topic for label slot i.
func LabelTopic(i int) string {
	return TopicLabelPrefix + strconv.Itoa(i)
}

// FormatAge renders the age midpoint without trailing zeros.
func FormatAge(f vision.Face) string {
	return strconv.FormatFloat(f.Age(), 'f', -1, 64)
}

// FormatLabel renders a label as "name - confidence%".
func FormatLabel(l vision.Label) string {
	return fmt.Sprintf("%s - %s%%", l.Name, strconv.FormatFloat(l.Confidence, 'f', -1, 32))
}

// LabelRecord lays labels out in exactly LabelSlots slots. Extra labels are
// dropped; missing ones are EmptyLabel.
func LabelRecord(labels []vision.Label) [LabelSlots]string {
	var rec [LabelSlots]string
	for i := range rec {
		if i < len(labels) {
			rec[i] = FormatLabel(labels[i])
		} else {
			rec[i] = EmptyLabel
		}
	}
	return rec
}

// PublishAnalysis publishes faces, labels and the snapshot URL.
func (p *ResultPublisher) PublishAnalysis(snapshotURL string, a *vision.Analysis) error {
	if a != nil {
		if err := p.PublishFaces(a.Faces); err != nil {
			return err
		}
	}

	var labels []vision.Label
	if a != nil {
		labels = a.Labels
	}
	if len(labels) > LabelSlots {
		p.logger.Debug("truncating labels", "detected", len(labels), "slots", LabelSlots)
	}

	rec := LabelRecord(labels)
	filled := min(len(labels), LabelSlots)
	for i := 0; i < filled; i++ {
		if err := p.send(LabelTopic(i), rec[i]); err != nil {
			return err
		}
	}
	if err := p.send(TopicSnapshot, snapshotURL); err != nil {
		return err
	}
	for i := filled; i < LabelSlots; i++ {
		if err := p.send(LabelTopic(i), rec[i]); err != nil {
			return err
		}
	}
	return nil
}

// PublishFaces publishes age, emotion and gender for every face in order.
func (p *ResultPublisher) PublishFaces(faces []vision.Face) error {
	for i, f := range faces {
		age := FormatAge(f)
		emotion, _ := f.DominantEmotion()

		p.logger.Debug("face detected",
			"index", i,
			"age_low", f.AgeLow,
			"age_high", f.AgeHigh,
			"emotion", emotion.Type,
			"gender", f.Gender,
		)

		if err := p.sendFace("", age, emotion.Type, f.Gender); err != nil {
			return err
		}
		if p.cfg.IndexFaces {
			if err := p.sendFace(strconv.Itoa(i), age, emotion.Type, f.Gender); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *ResultPublisher) sendFace(suffix, age, emotion, gender string) error {
	if err := p.send(TopicAge+suffix, age); err != nil {
		return err
	}
	if err := p.send(TopicEmotion+suffix, emotion); err != nil {
		return err
	}
	return p.send(TopicGender+suffix, gender)
}

func (p *ResultPublisher) send(topic, payload string) error {
	if err := p.pub.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
