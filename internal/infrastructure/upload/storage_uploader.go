package upload

import (
	"context"
	"fmt"
	"io"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/pkg/storage"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// StorageUploader writes documents into a storage.Storage and reports
// progress by bytes written. 100 is reported once the manifest is stored.
type StorageUploader struct {
	store  storage.Storage
	step   int
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

func NewStorageUploader(store storage.Storage, step int, clock clockwork.Clock, logger *zap.SugaredLogger) *StorageUploader {
	if step <= 0 || step > 100 {
		step = 10
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StorageUploader{store: store, step: step, clock: clock, logger: logger}
}

var _ ports.Uploader = (*StorageUploader)(nil)

func (u *StorageUploader) Upload(ctx context.Context, file domain.UploadFile, r io.Reader, progress func(domain.UploadProgress)) error {
	report := func(percent int) {
		if progress != nil {
			progress(domain.UploadProgress{Percent: percent, At: u.clock.Now()})
		}
	}

	object := storage.ObjectName(uuid.New().String(), file.Name)
	counter := &progressReader{ctx: ctx, r: r, size: file.Size, step: u.step, report: report}
	if err := u.store.Save(ctx, object, counter); err != nil {
		return fmt.Errorf("store %s: %w", file.Name, err)
	}

	err := storage.SaveManifest(ctx, u.store, &storage.Manifest{
		Object:      object,
		Name:        file.Name,
		ContentType: file.ContentType,
		Size:        counter.read,
		StoredAt:    u.clock.Now(),
	})
	if err != nil {
		_ = u.store.Delete(context.Background(), object)
		return err
	}

	report(100)
	u.logger.Infow("document stored", "file", file.Name, "object", object, "bytes", counter.read)
	return nil
}

// progressReader reports every step boundary crossed while reading, stopping
// short of 100.
type progressReader struct {
	ctx    context.Context
	r      io.Reader
	size   int64
	step   int
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	p.read += int64(n)
	if n > 0 && p.size > 0 {
		percent := int(p.read * 100 / p.size)
		percent = min(percent-percent%p.step, 100-p.step)
		if percent > p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}
