package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/stock-portfolio/internal/errors"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/models"
)

// defaultSnapshotWindow is the range GetSnapshots covers when no dates are given
const defaultSnapshotWindow = 30 * 24 * time.Hour

// SnapshotRepository interface for snapshot data operations
type SnapshotRepository interface {
	Upsert(ctx context.Context, s *models.ValuationSnapshot) error
	ListRange(ctx context.Context, portfolioID int64, from, to time.Time) ([]*models.ValuationSnapshot, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PortfolioValuer values a portfolio without going through the cache
type PortfolioValuer interface {
	Valuate(ctx context.Context, portfolioID int64) (*Valuation, error)
}

// SnapshotService stores daily portfolio valuations
type SnapshotService struct {
	snapshotRepo  SnapshotRepository
	portfolioRepo PortfolioRepository
	valuer        PortfolioValuer
	retentionDays int

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	running  bool

	now func() time.Time
}

// NewSnapshotService creates a new snapshot service. retentionDays <= 0 keeps
// every snapshot.
func NewSnapshotService(
	snapshotRepo SnapshotRepository,
	portfolioRepo PortfolioRepository,
	valuer PortfolioValuer,
	retentionDays int,
) *SnapshotService {
	return &SnapshotService{
		snapshotRepo:  snapshotRepo,
		portfolioRepo: portfolioRepo,
		valuer:        valuer,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// CaptureSummary reports the outcome of one capture run
type CaptureSummary struct {
	Date     time.Time `json:"date"`
	Captured int       `json:"captured"`
	Failed   int       `json:"failed"`
}

// Start captures snapshots every day at midnight UTC until Stop is called or
// ctx is cancelled
func (s *SnapshotService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	logger := logging.FromContext(ctx)
	next := nextMidnightUTC(s.now())
	logger.WithField("nextRun", next.Format(time.RFC3339)).Info("Snapshot scheduler starting")

	go s.loop(ctx, next, s.stopChan, s.done)
	return nil
}

func (s *SnapshotService) loop(ctx context.Context, next time.Time, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	logger := logging.FromContext(ctx)

	for {
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-timer.C:
			s.RunOnce(ctx, next)
			next = nextMidnightUTC(s.now())
		case <-stop:
			timer.Stop()
			logger.Info("Snapshot scheduler stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Snapshot scheduler context cancelled")
			return
		}
	}
}

// Stop halts the scheduler and waits for an in-flight run to finish
func (s *SnapshotService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("snapshot scheduler is not running")
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *SnapshotService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce captures every portfolio for the day of at and then prunes
// snapshots past retention. Failures are logged.
func (s *SnapshotService) RunOnce(ctx context.Context, at time.Time) *CaptureSummary {
	logger := logging.FromContext(ctx)

	summary, err := s.CaptureAllSnapshots(ctx, at)
	if err != nil {
		logger.WithError(err).Error("Snapshot capture failed")
	}

	if _, err := s.Prune(ctx); err != nil {
		logger.WithError(err).Error("Snapshot pruning failed")
	}
	return summary
}

// CaptureAllSnapshots stores the value of every portfolio for the UTC day of
// date. One failing portfolio does not stop the others.
func (s *SnapshotService) CaptureAllSnapshots(ctx context.Context, date time.Time) (*CaptureSummary, error) {
	day := truncateToDay(date)
	logger := logging.FromContext(ctx).WithField("date", day.Format("2006-01-02"))
	summary := &CaptureSummary{Date: day}

	portfolios, err := s.portfolioRepo.List(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("failed to list portfolios: %w", err)
	}

	logger.WithField("portfolios", len(portfolios)).Info("Starting snapshot capture")

	for _, p := range portfolios {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, err := s.CaptureSnapshot(ctx, p.ID, day); err != nil {
			logger.WithError(err).WithField("portfolioId", p.ID).Warn("Failed to capture snapshot")
			summary.Failed++
			continue
		}
		summary.Captured++
	}

	logger.WithFields(map[string]interface{}{
		"captured": summary.Captured,
		"failed":   summary.Failed,
	}).Info("Snapshot capture complete")
	return summary, nil
}

// CaptureSnapshot stores the current value of one portfolio for the UTC day
// of date, replacing an earlier snapshot of the same day
func (s *SnapshotService) CaptureSnapshot(ctx context.Context, portfolioID int64, date time.Time) (*models.ValuationSnapshot, error) {
	v, err := s.valuer.Valuate(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to value portfolio %d: %w", portfolioID, err)
	}

	snapshot := &models.ValuationSnapshot{
		PortfolioID:  portfolioID,
		SnapshotDate: truncateToDay(date),
		TotalValue:   v.TotalValue,
		HoldingCount: v.HoldingCount,
	}
	if err := s.snapshotRepo.Upsert(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	return snapshot, nil
}

// GetSnapshots returns the snapshots of a portfolio between from and to
// inclusive, oldest first. A zero to means today; a zero from means 30 days
// before to.
func (s *SnapshotService) GetSnapshots(ctx context.Context, portfolioID int64, from, to time.Time) ([]*models.ValuationSnapshot, error) {
	if to.IsZero() {
		to = s.now()
	}
	to = truncateToDay(to)
	if from.IsZero() {
		from = to.Add(-defaultSnapshotWindow)
	}
	from = truncateToDay(from)
	if from.After(to) {
		return nil, apperrors.NewInvalidInputError("dateFrom", "must not be after dateTo")
	}

	portfolioSvc := &PortfolioService{portfolioRepo: s.portfolioRepo}
	if _, err := portfolioSvc.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}

	snapshots, err := s.snapshotRepo.ListRange(ctx, portfolioID, from, to)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to read snapshots")
		return nil, apperrors.NewDatabaseError("snapshot lookup", err)
	}
	return snapshots, nil
}

// Prune deletes snapshots older than the retention window
func (s *SnapshotService) Prune(ctx context.Context) (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := truncateToDay(s.now()).AddDate(0, 0, -s.retentionDays)
	removed, err := s.snapshotRepo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"removed": removed,
			"cutoff":  cutoff.Format("2006-01-02"),
		}).Info("Pruned old snapshots")
	}
	return removed, nil
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nextMidnightUTC(now time.Time) time.Time {
	return truncateToDay(now).AddDate(0, 0, 1)
}
