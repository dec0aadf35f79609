package fingerprint

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"lostmatch/internal/middleware"
	"lostmatch/internal/models"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
)

/*
LEARNING: FINGERPRINT BUILD WORKER POOL

Extraction is I/O- and CPU-bound (five sidecar calls per photo), so it never
runs on the request path. The handler queues a job and returns 202; workers
pull jobs from a buffered channel and the fingerprint becomes searchable
only once processing_status flips to "completed".

Key Concepts:
1. Buffered jobs channel = bounded queue with backpressure
2. Fixed worker count caps concurrent sidecar calls
3. Context + WaitGroup for graceful shutdown
*/

// Job is one queued fingerprint build
type Job struct {
	FingerprintID string
	Create        models.FingerprintCreate
}

// Builder assembles Visual DNA records from extractor outputs using a
// worker pool
type Builder struct {
	repo       Repository
	extractors Extractors
	notifier   Notifier
	hasher     *Hasher

	entityFloor float64

	jobs    chan Job
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewBuilder creates the builder with its worker pool (not started yet).
// Returns concrete type - "Accept interfaces, return structs".
func NewBuilder(
	repo Repository,
	extractors Extractors,
	notifier Notifier,
	hasher *Hasher,
	entityFloor float64,
	numWorkers int,
	queueSize int,
) *Builder {
	ctx, cancel := context.WithCancel(context.Background())

	return &Builder{
		repo:        repo,
		extractors:  extractors,
		notifier:    notifier,
		hasher:      hasher,
		entityFloor: entityFloor,
		jobs:        make(chan Job, queueSize),
		workers:     numWorkers,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start spawns the worker goroutines
func (b *Builder) Start() {
	log.Printf("🔧 Starting fingerprint worker pool with %d workers", b.workers)

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Println("✓ Fingerprint worker pool started")
}

func (b *Builder) worker(id int) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			log.Printf("  Fingerprint worker %d shutting down", id)
			return

		case job, ok := <-b.jobs:
			if !ok {
				return
			}

			log.Printf("  Worker %d building fingerprint %s (photo %s)", id, job.FingerprintID, job.Create.PhotoID)
			if err := b.process(job); err != nil {
				log.Printf("  Worker %d error on %s: %v", id, job.FingerprintID, err)
			}
		}
	}
}

// Submit creates a pending fingerprint record and queues the build.
// The returned record carries processing_status=pending; callers poll or
// subscribe for completion. Rebuilding the same photo replaces the prior
// fingerprint (upsert on photo_id), it never duplicates.
func (b *Builder) Submit(ctx context.Context, create *models.FingerprintCreate) (*models.VisualFingerprint, error) {
	if err := create.Validate(); err != nil {
		return nil, err
	}

	fp, err := b.repo.CreatePending(ctx, create)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending fingerprint: %w", err)
	}

	// The mutex pairs with Shutdown: jobs is only closed while no Submit
	// holds the lock, so the send below can never hit a closed channel.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("builder is shutting down")
	}

	select {
	case b.jobs <- Job{FingerprintID: fp.ID, Create: *create}:
		return fp, nil
	case <-b.ctx.Done():
		return nil, fmt.Errorf("builder is shutting down")
	}
}

// process runs all extractors for one job and assembles the record.
// A single extractor failing is non-fatal: its signal is recorded absent and
// excluded from scoring later. The build as a whole fails only when BOTH the
// neural embedding and the hash triplet are unavailable (unreadable image).
func (b *Builder) process(job Job) error {
	ctx, span := middleware.StartSpan(context.Background(), "Fingerprint.Build",
		attribute.String("fingerprint_id", job.FingerprintID),
		attribute.String("photo_id", job.Create.PhotoID),
		attribute.String("case_id", job.Create.CaseID),
	)
	defer span.End()

	create := job.Create

	fp := &models.VisualFingerprint{
		ID:      job.FingerprintID,
		PhotoID: create.PhotoID,
		CaseID:  create.CaseID,
	}

	var extractionErrs []string

	hashes, err := b.extractors.Hashes(ctx, create.PhotoURL)
	if err != nil {
		extractionErrs = append(extractionErrs, fmt.Sprintf("hash: %v", err))
	} else if hashes != nil {
		fp.PerceptualHash = hashes.Perceptual
		fp.AverageHash = hashes.Average
		fp.DifferenceHash = hashes.Difference
	}

	embed, err := b.extractors.Embed(ctx, create.PhotoURL)
	if err != nil {
		extractionErrs = append(extractionErrs, fmt.Sprintf("embed: %v", err))
	}

	// Core-signal check: both gone means the image itself is unusable
	if embed == nil && !fp.HasHashTriplet() {
		reason := "core signals unavailable: " + strings.Join(extractionErrs, "; ")
		if markErr := b.repo.MarkFailed(ctx, fp.ID, reason); markErr != nil {
			return fmt.Errorf("failed to mark fingerprint failed: %w", markErr)
		}
		if b.notifier != nil {
			b.notifier.FingerprintFailed(create.CaseID, fp.ID, reason)
		}
		err := fmt.Errorf("fingerprint build failed: %s", reason)
		middleware.AddSpanError(ctx, err)
		return err
	}

	if embed != nil {
		fp.Embedding = pgvector.NewVector(embed.Embedding)
		fp.EmbeddingHash = b.hasher.Hash(embed.Embedding)
		fp.EntityType = embed.EntityType
		fp.EntityConfidence = embed.EntityConfidence
		fp.QualityScore = embed.QualityScore
	}

	// Classifier abstained but the case record knows its category: keep the
	// hint with zero confidence so the entity gate treats it as ambiguous.
	if fp.EntityType == "" || (fp.EntityConfidence < b.entityFloor && create.EntityHint != "") {
		if create.EntityHint != "" {
			fp.EntityType = create.EntityHint
		} else {
			fp.EntityType = models.EntityOther
		}
	}

	colors, err := b.extractors.Colors(ctx, create.PhotoURL)
	if err != nil {
		extractionErrs = append(extractionErrs, fmt.Sprintf("color: %v", err))
	} else if colors != nil {
		fp.ColorFingerprint = datatypes.NewJSONType(models.ColorFingerprint{
			Colors:    colors.Colors,
			ColorCode: colors.ColorCode,
		})
	}

	ocr, err := b.extractors.OCR(ctx, create.PhotoURL)
	if err != nil {
		extractionErrs = append(extractionErrs, fmt.Sprintf("ocr: %v", err))
	} else if ocr != nil {
		fp.OCRText = ocr.Text
	}

	shape := ""
	labels, err := b.extractors.Labels(ctx, create.PhotoURL)
	if err != nil {
		extractionErrs = append(extractionErrs, fmt.Sprintf("labels: %v", err))
	} else if labels != nil {
		fp.DetectedLabels = labels.Labels
		shape = labels.Shape
	}

	fp.QualityTier = models.TierForQuality(fp.QualityScore)
	fp.HumanReadableID = models.BuildHumanReadableID(
		fp.EntityType,
		fp.ColorFingerprint.Data(),
		shape,
		fp.QualityTier,
		fp.EmbeddingHash,
	)

	fp.ProcessingStatus = models.ProcessingCompleted
	if len(extractionErrs) > 0 {
		// Partial failures are recorded for debugging but don't fail the build
		fp.ProcessingError = "partial: " + strings.Join(extractionErrs, "; ")
		log.Printf("  Fingerprint %s completed with absent signals: %s", fp.ID, fp.ProcessingError)
	}

	if err := b.repo.ReplaceForPhoto(ctx, fp); err != nil {
		err = fmt.Errorf("failed to persist fingerprint: %w", err)
		middleware.AddSpanError(ctx, err)
		return err
	}

	if b.notifier != nil {
		b.notifier.FingerprintCompleted(create.CaseID, fp)
	}

	middleware.AddSpanEvent(ctx, "fingerprint_completed",
		attribute.String("quality_tier", string(fp.QualityTier)),
		attribute.Int("absent_signals", len(extractionErrs)),
	)

	log.Printf("  Fingerprint %s completed (%s)", fp.ID, fp.HumanReadableID)
	return nil
}

// QueueLength returns current number of pending jobs
func (b *Builder) QueueLength() int {
	return len(b.jobs)
}

// Shutdown gracefully stops the worker pool. Workers drain the queued jobs
// before exiting; cancel only fires afterwards to release blocked Submits.
func (b *Builder) Shutdown() {
	log.Println("🛑 Shutting down fingerprint builder...")

	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.jobs)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.cancel()

	log.Println("✓ Fingerprint builder shutdown complete")
}
