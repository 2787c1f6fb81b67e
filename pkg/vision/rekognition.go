package vision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

// RekognitionAPI is the subset of the Rekognition client used here.
type RekognitionAPI interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// Rekognition is a Detector backed by AWS Rekognition.
type Rekognition struct {
	client RekognitionAPI
}

// NewRekognition wraps an existing client.
func NewRekognition(client RekognitionAPI) *Rekognition {
	return &Rekognition{client: client}
}

// NewRekognitionFromConfig builds a client from the shared AWS configuration,
// honoring the configured profile and region.
func NewRekognitionFromConfig(ctx context.Context, cfg Config) (*Rekognition, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision: load aws config: %w", err)
	}
	return NewRekognition(rekognition.NewFromConfig(awsCfg)), nil
}

// Name implements Detector.
func (r *Rekognition) Name() string {
	return BackendRekognition
}

// DetectFaces implements Detector.
func (r *Rekognition) DetectFaces(ctx context.Context, image []byte) ([]Face, error) {
	out, err := r.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: image},
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		return nil, err
	}

	faces := make([]Face, 0, len(out.FaceDetails))
	for _, d := range out.FaceDetails {
		face := Face{Confidence: float64(aws.ToFloat32(d.Confidence))}
		if d.AgeRange != nil {
			face.AgeLow = int(aws.ToInt32(d.AgeRange.Low))
			face.AgeHigh = int(aws.ToInt32(d.AgeRange.High))
		}
		if d.Gender != nil {
			face.Gender = string(d.Gender.Value)
		}
		for _, e := range d.Emotions {
			face.Emotions = append(face.Emotions, Emotion{
				Type:       string(e.Type),
				Confidence: float64(aws.ToFloat32(e.Confidence)),
			})
		}
		faces = append(faces, face)
	}
	return faces, nil
}

// DetectLabels implements Detector.
func (r *Rekognition) DetectLabels(ctx context.Context, image []byte, maxLabels int, minConfidence float64) ([]Label, error) {
	out, err := r.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: image},
		MaxLabels:     aws.Int32(int32(maxLabels)),
		MinConfidence: aws.Float32(float32(minConfidence)),
	})
	if err != nil {
		return nil, err
	}

	labels := make([]Label, 0, len(out.Labels))
	for _, l := range out.Labels {
		labels = append(labels, Label{
			Name:       aws.ToString(l.Name),
			Confidence: float64(aws.ToFloat32(l.Confidence)),
		})
	}
	return labels, nil
}

var _ Detector = (*Rekognition)(nil)
