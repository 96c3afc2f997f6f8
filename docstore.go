package ecgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KeyBuilder builds backend keys for an entity collection.
// Keys take the form "<prefix>/<id>.json".
type KeyBuilder struct {
	Prefix string
	Suffix string
}

// NewKeyBuilder creates a key builder for the given collection prefix
func NewKeyBuilder(prefix string) KeyBuilder {
	return KeyBuilder{Prefix: prefix, Suffix: ".json"}
}

// Key returns the backend key for an id
func (kb KeyBuilder) Key(id string) string {
	return kb.Prefix + "/" + id + kb.Suffix
}

// ID extracts the id from a backend key, or "" if the key does not
// belong to this collection.
func (kb KeyBuilder) ID(key string) string {
	rest, ok := strings.CutPrefix(key, kb.Prefix+"/")
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, kb.Suffix)
	if !ok {
		return ""
	}
	return id
}

// DocStore stores JSON documents on a Backend. It is deliberately thin:
// typed marshalling, ETag plumbing and metrics live here, everything else
// (validation, caching, soft deletes) belongs to the repository layer.
type DocStore struct {
	backend Backend
	logger  Logger
	metrics Metrics
}

// DocStoreOption configures a DocStore
type DocStoreOption func(*DocStore)

// WithLogger sets the logger
func WithLogger(l Logger) DocStoreOption {
	return func(s *DocStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m Metrics) DocStoreOption {
	return func(s *DocStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewDocStore creates a document store over the given backend
func NewDocStore(backend Backend, opts ...DocStoreOption) *DocStore {
	s := &DocStore{
		backend: backend,
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying blob backend
func (s *DocStore) Backend() Backend { return s.backend }

// Logger returns the store's logger
func (s *DocStore) Logger() Logger { return s.logger }

// Metrics returns the store's metrics collector
func (s *DocStore) Metrics() Metrics { return s.metrics }

// GetDoc reads and unmarshals the document at key into v
func (s *DocStore) GetDoc(ctx context.Context, key string, v interface{}) error {
	start := time.Now()
	data, err := s.backend.Get(ctx, key)
	s.metrics.Timing(MetricDocGetDuration, time.Since(start))
	if err != nil {
		if IsNotFound(err) {
			return err
		}
		s.metrics.Increment(MetricDocGetError)
		return fmt.Errorf("%w: get %s: %v", ErrRepository, key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.metrics.Increment(MetricDocGetError)
		return fmt.Errorf("%w: unmarshal %s: %v", ErrRepository, key, err)
	}
	s.metrics.Increment(MetricDocGetSuccess)
	return nil
}

// GetDocWithETag reads the document at key along with its current ETag
func (s *DocStore) GetDocWithETag(ctx context.Context, key string, v interface{}) (string, error) {
	start := time.Now()
	data, etag, err := s.backend.GetWithETag(ctx, key)
	s.metrics.Timing(MetricDocGetDuration, time.Since(start))
	if err != nil {
		if IsNotFound(err) {
			return "", err
		}
		return "", fmt.Errorf("%w: get %s: %v", ErrRepository, key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return "", fmt.Errorf("%w: unmarshal %s: %v", ErrRepository, key, err)
	}
	return etag, nil
}

// PutDoc marshals v and writes it at key
func (s *DocStore) PutDoc(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrRepository, key, err)
	}

	start := time.Now()
	err = s.backend.Put(ctx, key, data)
	s.metrics.Timing(MetricDocPutDuration, time.Since(start))
	if err != nil {
		s.metrics.Increment(MetricDocPutError)
		return fmt.Errorf("%w: put %s: %v", ErrRepository, key, err)
	}
	s.metrics.Increment(MetricDocPutSuccess)
	return nil
}

// PutDocIfMatch writes v at key only if the stored ETag still matches.
// An empty expectedETag writes unconditionally. Returns the new ETag.
func (s *DocStore) PutDocIfMatch(ctx context.Context, key string, v interface{}, expectedETag string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: marshal %s: %v", ErrRepository, key, err)
	}

	start := time.Now()
	etag, err := s.backend.PutIfMatch(ctx, key, data, expectedETag)
	s.metrics.Timing(MetricDocPutDuration, time.Since(start))
	if err != nil {
		if IsConflict(err) || IsNotFound(err) {
			return "", err
		}
		s.metrics.Increment(MetricDocPutError)
		return "", fmt.Errorf("%w: put %s: %v", ErrRepository, key, err)
	}
	s.metrics.Increment(MetricDocPutSuccess)
	return etag, nil
}

// DeleteDoc removes the document at key
func (s *DocStore) DeleteDoc(ctx context.Context, key string) error {
	start := time.Now()
	err := s.backend.Delete(ctx, key)
	s.metrics.Timing(MetricDocDeleteDuration, time.Since(start))
	if err != nil {
		if IsNotFound(err) {
			return err
		}
		s.metrics.Increment(MetricDocDeleteError)
		return fmt.Errorf("%w: delete %s: %v", ErrRepository, key, err)
	}
	s.metrics.Increment(MetricDocDeleteSuccess)
	return nil
}

// ListKeys returns all backend keys under the collection prefix
func (s *DocStore) ListKeys(ctx context.Context, kb KeyBuilder) ([]string, error) {
	keys, err := s.backend.List(ctx, kb.Prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrRepository, kb.Prefix, err)
	}
	return keys, nil
}

// ScanDocs walks every document in the collection as a raw JSON map,
// calling fn for each. fn returning false stops the scan early.
//
// Scans go through ListPaginated so large collections on S3 never require
// the full key set in memory at once.
func (s *DocStore) ScanDocs(ctx context.Context, kb KeyBuilder, fn func(id string, doc map[string]interface{}) (bool, error)) error {
	stop := errors.New("scan stopped")

	err := s.backend.ListPaginated(ctx, kb.Prefix+"/", func(keys []string) error {
		for _, key := range keys {
			id := kb.ID(key)
			if id == "" {
				continue
			}

			data, err := s.backend.Get(ctx, key)
			if err != nil {
				// Deleted between list and read
				if IsNotFound(err) {
					continue
				}
				return fmt.Errorf("%w: get %s: %v", ErrRepository, key, err)
			}

			var doc map[string]interface{}
			if err := json.Unmarshal(data, &doc); err != nil {
				s.logger.Warn("skipping corrupt document", "key", key, "error", err)
				continue
			}

			keep, err := fn(id, doc)
			if err != nil {
				return err
			}
			if !keep {
				return stop
			}
		}
		return nil
	})

	if errors.Is(err, stop) {
		return nil
	}
	return err
}
