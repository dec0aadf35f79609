package fingerprint

import (
	"context"

	"lostmatch/internal/extractor"
	"lostmatch/internal/models"
)

// Interfaces live here because this package is the CONSUMER - the builder
// declares exactly what it needs from storage, extraction and notification.
// Implementations (repository, extractor client, notify hub) return concrete
// structs and know nothing about these interfaces.

// Repository defines what the builder needs from fingerprint storage
type Repository interface {
	CreatePending(ctx context.Context, create *models.FingerprintCreate) (*models.VisualFingerprint, error)
	ReplaceForPhoto(ctx context.Context, fp *models.VisualFingerprint) error
	MarkFailed(ctx context.Context, id, reason string) error
	GetByID(ctx context.Context, id string) (*models.VisualFingerprint, error)
	GetByPhotoID(ctx context.Context, photoID string) (*models.VisualFingerprint, error)
}

// Extractors defines the pluggable feature-extraction contract the builder
// consumes. Each method degrades gracefully: "no signal present" is a zero
// result, not an error.
type Extractors interface {
	Hashes(ctx context.Context, photoURL string) (*extractor.HashTriplet, error)
	Colors(ctx context.Context, photoURL string) (*extractor.ColorResult, error)
	OCR(ctx context.Context, photoURL string) (*extractor.OCRResult, error)
	Labels(ctx context.Context, photoURL string) (*extractor.LabelResult, error)
	Embed(ctx context.Context, photoURL string) (*extractor.EmbedResult, error)
}

// Notifier pushes build-completion events to subscribed clients
type Notifier interface {
	FingerprintCompleted(caseID string, fp *models.VisualFingerprint)
	FingerprintFailed(caseID, fingerprintID, reason string)
}
