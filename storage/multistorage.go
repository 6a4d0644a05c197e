package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/soulbox-vault/interfaces"
	"golang.org/x/sync/errgroup"
)

var _ interfaces.StorageBackend = (*MultiStorageBackend)(nil)

// MultiStorageBackend implements interfaces.StorageBackend using multiple
// backends: writes fan out to every available backend, reads fall back in
// order until one returns intact content.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch returns the content from the first backend that has it. Content whose
// hash does not match id is treated as a backend failure.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := true
	contentIDStr := fmt.Sprintf("%x", id[:8])

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", contentIDStr))
			notFound = false
			continue
		}

		data, err := backend.Fetch(ctx, id, contentType)
		if err == nil && !interfaces.ComputeID(data).Equal(id) {
			err = fmt.Errorf("content hash mismatch")
		}
		if err == nil {
			m.log.Debug("Fetched content",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", contentIDStr),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if !errors.Is(err, interfaces.ErrContentNotFound) {
			notFound = false
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("content_id", contentIDStr),
			"err", err)
	}

	m.log.Error("All backends failed to fetch content",
		slog.String("content_id", contentIDStr),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	if notFound && len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrContentNotFound, errors.Join(errs...))
	}
	return nil, fmt.Errorf("%w: all backends failed to fetch %s: %v", interfaces.ErrBackendUnavailable, contentIDStr, errors.Join(errs...))
}

// Store saves data to all available backends concurrently. It succeeds when
// at least one backend accepted the data.
func (m *MultiStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	start := time.Now()
	id := interfaces.ComputeID(data)

	var (
		mu     sync.Mutex
		errs   []error
		stored []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, backend := range m.backends {
		g.Go(func() error {
			if !backend.Available(gctx) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
				mu.Unlock()
				return nil
			}

			got, err := backend.Store(gctx, data, contentType)
			if err == nil && !got.Equal(id) {
				err = fmt.Errorf("backend returned id %s", got)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
				m.log.Warn("Failed to store to backend",
					slog.String("backend_name", backend.Name()),
					"err", err)
				return nil
			}
			stored = append(stored, backend.Name())
			return nil
		})
	}
	// Per-backend failures are collected above; the group never fails.
	_ = g.Wait()

	if len(stored) == 0 {
		m.log.Error("All backends failed to store data",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return interfaces.ContentID{}, fmt.Errorf("%w: all backends failed to store data: %v", interfaces.ErrBackendUnavailable, errors.Join(errs...))
	}

	m.log.Info("Stored content",
		slog.String("content_id", id.String()),
		slog.Int("replicas", len(stored)),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return id, nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI combines the locations of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
