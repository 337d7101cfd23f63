package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"casemill/internal/classify"
	"casemill/internal/config"
	"casemill/internal/logging"
	"casemill/internal/store"
)

// Classifier produces validated label sets for batches of record text.
// Satisfied by *classify.Client; tests substitute fakes.
type Classifier interface {
	ClassifyBatch(ctx context.Context, inputs []classify.Input) (classify.BatchResult, error)
}

// RunOptions tunes one enrichment run.
type RunOptions struct {
	// Force reclassifies records even when their checkpoint hash is current.
	Force bool
	// Limit caps how many records the run considers (0 = all).
	Limit int
}

type job struct {
	runID string
	opts  RunOptions
}

// Service executes enrichment runs through a bounded worker pool. Batches
// within one run are strictly sequential; runs over distinct datasets may
// proceed concurrently up to the worker count.
type Service struct {
	cfg        *config.Config
	store      *store.Store
	classifier Classifier
	logger     *slog.Logger

	jobs chan job

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(cfg *config.Config, st *store.Store, classifier Classifier, logger *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		store:      st,
		classifier: classifier,
		logger:     logging.NewComponentLogger(logger, "enrich"),
		jobs:       make(chan job, 16),
	}
}

// Start launches the worker pool. Safe to call once per Service.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("enrichment service already running")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	workers := s.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(workerCtx)
	}
	s.logger.Info("enrichment service started", logging.Int("workers", workers))
	return nil
}

// Stop cancels in-flight runs and waits for workers to drain.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("enrichment service stopped")
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jb, ok := <-s.jobs:
			if !ok {
				return
			}
			if err := s.Run(ctx, jb.runID, jb.opts); err != nil {
				s.logger.Error("enrichment run failed",
					logging.String(logging.FieldRunID, jb.runID),
					logging.Error(err))
			}
		}
	}
}

// StartRun persists a queued run for the dataset, hands it to the worker
// pool, and returns the run ID immediately.
func (s *Service) StartRun(ctx context.Context, dataset string, opts RunOptions) (string, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return "", errors.New("enrichment service not running")
	}

	ds, err := s.store.GetDataset(ctx, dataset)
	if err != nil {
		return "", err
	}
	if ds == nil {
		return "", fmt.Errorf("unknown dataset %q", dataset)
	}

	run := &store.Run{
		RunID:   newRunID(),
		Dataset: dataset,
		Status:  store.RunQueued,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return "", err
	}

	select {
	case s.jobs <- job{runID: run.RunID, opts: opts}:
		return run.RunID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RunOnce creates a run for the dataset and executes it synchronously on the
// calling goroutine, without the worker pool. The run ID is returned as soon
// as the run row exists, even when execution fails.
func (s *Service) RunOnce(ctx context.Context, dataset string, opts RunOptions) (string, error) {
	ds, err := s.store.GetDataset(ctx, dataset)
	if err != nil {
		return "", err
	}
	if ds == nil {
		return "", fmt.Errorf("unknown dataset %q", dataset)
	}
	run := &store.Run{
		RunID:   newRunID(),
		Dataset: dataset,
		Status:  store.RunQueued,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return "", err
	}
	return run.RunID, s.Run(ctx, run.RunID, opts)
}

// Run executes one enrichment run synchronously. Outer failures (unreadable
// dataset, store errors, cancellation) mark the run failed; classification
// failures are absorbed into per-record errors and the run still completes.
func (s *Service) Run(ctx context.Context, runID string, opts RunOptions) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("unknown run %q", runID)
	}
	if err := s.store.MarkRunRunning(ctx, runID); err != nil {
		return err
	}

	logger := s.logger.With(
		logging.String(logging.FieldRunID, runID),
		logging.String(logging.FieldDataset, run.Dataset))
	logger.Info("run started",
		logging.Bool("force", opts.Force),
		logging.Int("limit", opts.Limit))

	if err := s.executeRun(ctx, run, opts); err != nil {
		if markErr := s.store.MarkRunFailed(ctx, run, err.Error()); markErr != nil {
			logger.Error("mark run failed", logging.Error(markErr))
		}
		return err
	}
	if err := s.store.MarkRunCompleted(ctx, run); err != nil {
		return err
	}
	logger.Info("run completed",
		logging.Int("processed", run.Processed),
		logging.Int("skipped", run.Skipped),
		logging.Int("failed", run.Failed),
		logging.Int("total_tokens", run.Usage.TotalTokens))
	return nil
}

// ResetAI deletes the checkpoints behind a dataset's business keys and blanks
// the dataset's denormalized AI columns. Raw fields are untouched; the next
// run reclassifies everything.
func (s *Service) ResetAI(ctx context.Context, dataset string) (int, error) {
	ds, err := s.store.GetDataset(ctx, dataset)
	if err != nil {
		return 0, err
	}
	if ds == nil {
		return 0, fmt.Errorf("unknown dataset %q", dataset)
	}

	keys, err := s.store.RecordKeys(ctx, dataset)
	if err != nil {
		return 0, err
	}
	deleted, err := s.store.DeleteCheckpointsForKeys(ctx, keys)
	if err != nil {
		return 0, err
	}
	if err := s.store.ClearAIForDataset(ctx, dataset); err != nil {
		return deleted, err
	}
	s.logger.Info("ai state reset",
		logging.String(logging.FieldDataset, dataset),
		logging.Int("checkpoints_deleted", deleted))
	return deleted, nil
}

func newRunID() string {
	return fmt.Sprintf("run_%s_%s",
		time.Now().UTC().Format("20060102T150405Z"),
		uuid.NewString()[:8])
}
