package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"timekeeper-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNoFace indicates an enrollment image contained no detectable face.
var ErrNoFace = errors.New("no face detected in enrollment image")

// Enroller registers reference faces: extract the embedding, persist it and
// insert it into the live catalog.
type Enroller struct {
	db       *gorm.DB
	detector Detector
	catalog  *Catalog
}

// NewEnroller creates an enroller over the given store, detector and catalog.
func NewEnroller(db *gorm.DB, detector Detector, catalog *Catalog) *Enroller {
	return &Enroller{db: db, detector: detector, catalog: catalog}
}

// Enroll extracts the embedding of the most confident face in the image and
// stores it as a reference sample for the named identity, creating the
// identity if it does not exist yet.
func (e *Enroller) Enroll(ctx context.Context, name string, img image.Image, source string) (*models.EnrolledFace, error) {
	faces, err := e.detector.ExtractFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFace
	}

	// Several faces in one enrollment image: keep the most confident one.
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	if len(best.Embedding) == 0 {
		return nil, fmt.Errorf("face service returned no embedding for enrollment image")
	}

	identity, err := e.findOrCreateIdentity(name)
	if err != nil {
		return nil, err
	}

	embJSON, err := json.Marshal(best.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	face := models.EnrolledFace{
		IdentityID: identity.ID,
		Embedding:  datatypes.JSON(embJSON),
		Source:     source,
	}
	if err := e.db.Create(&face).Error; err != nil {
		return nil, fmt.Errorf("failed to store enrolled face: %w", err)
	}

	e.catalog.Add(identity.Name, face.ID, best.Embedding)
	log.Infof("Enrolled face sample %d for identity '%s' (catalog size: %d)", face.ID, identity.Name, e.catalog.Count())

	return &face, nil
}

func (e *Enroller) findOrCreateIdentity(name string) (*models.Identity, error) {
	var identity models.Identity
	err := e.db.Where("name = ?", name).First(&identity).Error
	if err == nil {
		return &identity, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up identity '%s': %w", name, err)
	}

	identity = models.Identity{Name: name}
	if err := e.db.Create(&identity).Error; err != nil {
		return nil, fmt.Errorf("failed to create identity '%s': %w", name, err)
	}
	log.Infof("Created new identity '%s' (ID: %d)", name, identity.ID)
	return &identity, nil
}

// LoadCatalog rebuilds the in-memory catalog from all persisted enrollment
// samples. Called once at session start.
func LoadCatalog(db *gorm.DB, catalog *Catalog) (int, error) {
	var faces []models.EnrolledFace
	if err := db.Preload("Identity").Find(&faces).Error; err != nil {
		return 0, fmt.Errorf("failed to load enrolled faces: %w", err)
	}

	loaded := 0
	for i := range faces {
		face := &faces[i]
		var embedding []float32
		if err := json.Unmarshal(face.Embedding, &embedding); err != nil {
			log.Warnf("Skipping enrolled face %d with unreadable embedding: %v", face.ID, err)
			continue
		}
		catalog.Add(face.Identity.Name, face.ID, embedding)
		loaded++
	}

	log.Infof("Loaded %d enrolled face samples into the catalog", loaded)
	return loaded, nil
}
