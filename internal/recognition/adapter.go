// Package recognition wraps the external detector/embedder and the enrolled
// embedding catalog into a single call: one frame in, zero or more identity
// observations out.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"timekeeper-go/internal/core/models"
	"timekeeper-go/internal/integrations/faceapi"

	log "github.com/sirupsen/logrus"
)

// ErrModelUnavailable indicates the external recognition pipeline cannot be
// invoked. Fatal for the current session: recognition cannot proceed
// without it. Attendance state is unaffected.
var ErrModelUnavailable = errors.New("recognition model unavailable")

// Detector produces detected faces with embeddings from one frame.
type Detector interface {
	ExtractFaces(ctx context.Context, img image.Image) ([]faceapi.Face, error)
}

// Adapter turns one frame into identity observations by looking up each
// detected face's embedding in the enrolled catalog.
type Adapter struct {
	detector      Detector
	catalog       *Catalog
	minSimilarity float64
}

// NewAdapter wires the detector and the catalog. minSimilarity is the
// minimum viability threshold for a match: faces below it come back as
// Unknown, carrying the similarity score they did reach.
func NewAdapter(detector Detector, catalog *Catalog, minSimilarity float64) *Adapter {
	return &Adapter{
		detector:      detector,
		catalog:       catalog,
		minSimilarity: minSimilarity,
	}
}

// Recognize produces zero or more observations from one frame, stamped with
// the given capture time. No detected face yields an empty slice, not an
// error. A detector failure wraps ErrModelUnavailable.
func (a *Adapter) Recognize(ctx context.Context, img image.Image, at time.Time) ([]models.Observation, error) {
	faces, err := a.detector.ExtractFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	observations := make([]models.Observation, 0, len(faces))
	for _, face := range faces {
		obs := models.Observation{
			Identity:    models.UnknownIdentity,
			Timestamp:   at,
			BoundingBox: face.BoundingBox,
		}

		if len(face.Embedding) > 0 {
			if name, similarity, ok := a.catalog.Search(face.Embedding); ok {
				obs.Confidence = similarity
				if similarity >= a.minSimilarity {
					obs.Identity = name
				}
			}
		}

		log.Debugf("Observation: identity=%s confidence=%.3f", obs.Identity, obs.Confidence)
		observations = append(observations, obs)
	}

	return observations, nil
}
