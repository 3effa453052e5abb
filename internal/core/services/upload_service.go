package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/pkg/cache"
	"coachroom/pkg/utils"
	"coachroom/pkg/validation"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// UploadFailedMessage is what the user sees when an upload does not finish.
const UploadFailedMessage = "Failed to upload CV. Please try again."

// DefaultUploadRetention is how long a finished task stays readable.
const DefaultUploadRetention = time.Hour

type UploadConfig struct {
	MaxSize int64
	// Timeout bounds a single background upload.
	Timeout time.Duration
	// Retention is how long a finished task can still be read through Get.
	Retention time.Duration
}

// UploadService validates CV documents and runs them through an Uploader in
// the background, publishing every progress step.
type UploadService struct {
	cfg      UploadConfig
	uploader ports.Uploader
	events   ports.EventPublisher
	metrics  ports.Metrics
	clock    clockwork.Clock
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	tasks map[domain.UploadID]*domain.UploadTask
	// finished holds completed tasks until Retention runs out.
	finished *cache.Cache[domain.UploadTask]
}

func NewUploadService(
	cfg UploadConfig,
	uploader ports.Uploader,
	events ports.EventPublisher,
	metrics ports.Metrics,
	clock clockwork.Clock,
	logger *zap.SugaredLogger,
) *UploadService {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = validation.MaxDocumentSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultUploadRetention
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UploadService{
		cfg:      cfg,
		uploader: uploader,
		events:   events,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[domain.UploadID]*domain.UploadTask),
		finished: cache.New[domain.UploadTask](cfg.Retention, cfg.Retention, clock),
	}
}

var _ ports.UploadService = (*UploadService)(nil)

// Submit validates the document and starts the upload. The returned task is
// pending; progress arrives as upload_progress events and through Get.
func (s *UploadService) Submit(ctx context.Context, owner domain.UserID, file domain.UploadFile, r io.Reader, jobDescription string) (*domain.UploadTask, error) {
	if err := validation.ValidateDocumentType(file.Name, file.ContentType); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedFile, err)
	}
	if err := validation.ValidateDocumentSize(file.Size, s.cfg.MaxSize); err != nil {
		return nil, domain.ErrFileTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxSize {
		return nil, domain.ErrFileTooLarge
	}
	file.Size = int64(len(data))

	task := &domain.UploadTask{
		ID:             domain.UploadID(uuid.New().String()),
		Owner:          owner,
		File:           file,
		JobDescription: jobDescription,
		State:          domain.UploadPending,
		CreatedAt:      s.clock.Now(),
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	snapshot := *task
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(task.ID, data)

	s.logger.Infow("upload submitted",
		"upload_id", task.ID,
		"owner", owner,
		"file", file.Name,
		"size", file.Size,
		"job", utils.TruncateString(jobDescription, 48),
	)
	return &snapshot, nil
}

// Get returns a running task, or a finished one still within Retention.
func (s *UploadService) Get(ctx context.Context, owner domain.UserID, id domain.UploadID) (*domain.UploadTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if task, ok := s.tasks[id]; ok {
		if task.Owner != owner {
			return nil, domain.ErrUploadNotFound
		}
		snapshot := *task
		return &snapshot, nil
	}
	snapshot, ok := s.finished.Get(string(id))
	if !ok || snapshot.Owner != owner {
		return nil, domain.ErrUploadNotFound
	}
	return &snapshot, nil
}

// Close cancels running uploads and waits for their goroutines.
func (s *UploadService) Close() {
	s.cancel()
	s.wg.Wait()
	s.finished.Stop()
}

func (s *UploadService) run(id domain.UploadID, data []byte) {
	defer s.wg.Done()

	ctx := s.ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := s.clock.Now()
	file := s.update(id, func(t *domain.UploadTask) {
		t.State = domain.UploadRunning
	}).File

	err := s.uploader.Upload(ctx, file, bytes.NewReader(data), func(p domain.UploadProgress) {
		s.update(id, func(t *domain.UploadTask) {
			if p.Percent > t.Progress {
				t.Progress = min(p.Percent, 100)
			}
		})
	})

	finished := s.clock.Now()
	final := s.update(id, func(t *domain.UploadTask) {
		t.FinishedAt = &finished
		if err != nil {
			t.State = domain.UploadFailed
			t.Error = UploadFailedMessage
			return
		}
		t.State = domain.UploadSucceeded
		t.Progress = 100
	})

	s.retire(id)

	s.metrics.UploadFinished(final.State, finished.Sub(started))
	if err != nil {
		s.logger.Warnw("upload failed", "upload_id", id, "error", err)
		return
	}
	s.logger.Infow("upload finished", "upload_id", id, "duration", finished.Sub(started))
}

// retire moves a finished task into the retention cache.
func (s *UploadService) retire(id domain.UploadID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[id]; ok {
		s.finished.Set(string(id), *task)
		delete(s.tasks, id)
	}
}

// update mutates the task under the lock and publishes the result.
func (s *UploadService) update(id domain.UploadID, fn func(t *domain.UploadTask)) domain.UploadTask {
	s.mu.Lock()
	task := s.tasks[id]
	fn(task)
	snapshot := *task
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(domain.Event{
			Type:      domain.EventUploadProgress,
			Topic:     string(id),
			Upload:    &snapshot,
			Error:     snapshot.Error,
			Timestamp: s.clock.Now(),
		})
	}
	return snapshot
}
