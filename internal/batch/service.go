package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/webpage2pdf/internal/browser"
	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

// Acquirer hands out a browser and reports whether it is shared.
type Acquirer interface {
	Acquire(ctx context.Context) (browser.Browser, bool, error)
}

// Service runs automatic batches, one at a time.
type Service struct {
	acquirer     Acquirer
	orchestrator *Orchestrator
	slot         *semaphore.Weighted
	logger       *log.Logger
}

func NewService(acquirer Acquirer, orchestrator *Orchestrator, logger *log.Logger) *Service {
	return &Service{
		acquirer:     acquirer,
		orchestrator: orchestrator,
		slot:         semaphore.NewWeighted(1),
		logger:       logger,
	}
}

// Generate parses a comma-joined URL list and renders every entry.
// Input errors are returned before any browser work.
func (s *Service) Generate(ctx context.Context, raw string) (models.BatchResponse, error) {
	urls, err := ParseURLList(raw)
	if err != nil {
		return models.BatchResponse{}, err
	}

	// One batch at a time
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return models.BatchResponse{}, err
	}
	defer s.slot.Release(1)

	batchID := uuid.New().String()
	s.logger.Info().Str("batch_id", batchID).Int("urls", len(urls)).Msg("🚀 starting batch")

	b, _, err := s.acquirer.Acquire(ctx)
	if err != nil {
		return models.BatchResponse{}, fmt.Errorf("batch %s: %w", batchID, err)
	}

	results := s.orchestrator.Run(ctx, b, urls, nil)
	return models.NewBatchResponse(results, batchID), nil
}

// RunWith renders urls in an already acquired browser while holding the
// batch slot. Login sessions use it to resume on their open page.
func (s *Service) RunWith(ctx context.Context, b browser.Browser, urls []string, firstPage browser.Page) ([]models.Outcome, error) {
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.slot.Release(1)
	return s.orchestrator.Resume(ctx, b, urls, firstPage), nil
}

// Release hands back a browser that will not be used for a run.
func (s *Service) Release(b browser.Browser) {
	s.orchestrator.Release(b)
}

// Navigator returns the navigator batches use.
func (s *Service) Navigator() *browser.Navigator {
	return s.orchestrator.Navigator()
}

// Acquire obtains a browser through the service's acquirer.
func (s *Service) Acquire(ctx context.Context) (browser.Browser, bool, error) {
	return s.acquirer.Acquire(ctx)
}
