package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gvision "google.golang.org/api/vision/v1"
)

// maxGoogleFaces caps FACE_DETECTION results.
const maxGoogleFaces = 50

// likelihoodConfidence maps Cloud Vision likelihoods onto a 0-100 scale.
var likelihoodConfidence = map[string]float64{
	"VERY_LIKELY":   95,
	"LIKELY":        75,
	"POSSIBLE":      50,
	"UNLIKELY":      25,
	"VERY_UNLIKELY": 5,
}

// GoogleAnnotator is the subset of the Cloud Vision API used here.
type GoogleAnnotator interface {
	Annotate(ctx context.Context, req *gvision.BatchAnnotateImagesRequest) (*gvision.BatchAnnotateImagesResponse, error)
}

type serviceAnnotator struct {
	svc *gvision.Service
}

func (s serviceAnnotator) Annotate(ctx context.Context, req *gvision.BatchAnnotateImagesRequest) (*gvision.BatchAnnotateImagesResponse, error) {
	return s.svc.Images.Annotate(req).Context(ctx).Do()
}

// Google is a Detector backed by Google Cloud Vision. It reports emotions
// but no age range or gender.
type Google struct {
	annotator GoogleAnnotator
}

// NewGoogle wraps an existing annotator.
func NewGoogle(annotator GoogleAnnotator) *Google {
	return &Google{annotator: annotator}
}

// NewGoogleFromConfig builds a Cloud Vision client. An API key wins over
// application default credentials.
func NewGoogleFromConfig(ctx context.Context, cfg Config) (*Google, error) {
	var opt option.ClientOption
	if cfg.GoogleAPIKey != "" {
		opt = option.WithAPIKey(cfg.GoogleAPIKey)
	} else {
		creds, err := google.FindDefaultCredentials(ctx, gvision.CloudVisionScope)
		if err != nil {
			return nil, fmt.Errorf("vision: find google credentials: %w", err)
		}
		opt = option.WithCredentials(creds)
	}

	svc, err := gvision.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("vision: create google client: %w", err)
	}
	return NewGoogle(serviceAnnotator{svc: svc}), nil
}

// Name implements Detector.
func (g *Google) Name() string {
	return BackendGoogle
}

// DetectFaces implements Detector.
func (g *Google) DetectFaces(ctx context.Context, image []byte) ([]Face, error) {
	resp, err := g.annotate(ctx, image, &gvision.Feature{Type: "FACE_DETECTION", MaxResults: maxGoogleFaces})
	if err != nil {
		return nil, err
	}

	faces := make([]Face, 0, len(resp.FaceAnnotations))
	for _, a := range resp.FaceAnnotations {
		faces = append(faces, Face{
			Confidence: a.DetectionConfidence * 100,
			Emotions: []Emotion{
				{Type: "HAPPY", Confidence: likelihoodConfidence[a.JoyLikelihood]},
				{Type: "SAD", Confidence: likelihoodConfidence[a.SorrowLikelihood]},
				{Type: "ANGRY", Confidence: likelihoodConfidence[a.AngerLikelihood]},
				{Type: "SURPRISED", Confidence: likelihoodConfidence[a.SurpriseLikelihood]},
			},
		})
	}
	return faces, nil
}

// DetectLabels implements Detector. Scores are scaled to 0-100 and filtered
// client side, since the API has no minimum score parameter.
func (g *Google) DetectLabels(ctx context.Context, image []byte, maxLabels int, minConfidence float64) ([]Label, error) {
	resp, err := g.annotate(ctx, image, &gvision.Feature{Type: "LABEL_DETECTION", MaxResults: int64(maxLabels)})
	if err != nil {
		return nil, err
	}

	labels := make([]Label, 0, len(resp.LabelAnnotations))
	for _, a := range resp.LabelAnnotations {
		conf := a.Score * 100
		if conf < minConfidence {
			continue
		}
		labels = append(labels, Label{Name: a.Description, Confidence: conf})
		if len(labels) == maxLabels {
			break
		}
	}
	return labels, nil
}

// annotate runs a single-feature request and unwraps the per-image response.
func (g *Google) annotate(ctx context.Context, image []byte, feature *gvision.Feature) (*gvision.AnnotateImageResponse, error) {
	resp, err := g.annotator.Annotate(ctx, &gvision.BatchAnnotateImagesRequest{
		Requests: []*gvision.AnnotateImageRequest{{
			Image:    &gvision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*gvision.Feature{feature},
		}},
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, errors.New("empty response")
	}

	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("api error %d: %s", r.Error.Code, r.Error.Message)
	}
	return r, nil
}

var _ Detector = (*Google)(nil)
