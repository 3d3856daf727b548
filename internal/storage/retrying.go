package storage

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/arjunmehta/pipeworks/internal/errorhandling"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// RetryingStore decorates a Store with the State Store's error-handling
// recovery rule: log the failure and retry the operation once before
// giving up. ErrNotFound and ErrInvalidInput are not transient, so they
// short-circuit without a retry.
type RetryingStore struct {
	inner Store
	log   *logrus.Logger
}

// NewRetryingStore wraps inner with the single-retry-and-log policy. A nil
// log falls back to logrus's standard logger.
func NewRetryingStore(inner Store, log *logrus.Logger) *RetryingStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RetryingStore{inner: inner, log: log}
}

func nonRetryable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput)
}

func (s *RetryingStore) retry(op string, fn func() error) error {
	err := fn()
	if err == nil || nonRetryable(err) {
		return err
	}
	s.log.WithError(err).WithField("op", op).Warn("state store operation failed, retrying once")
	if err := fn(); err != nil {
		return &errorhandling.StateError{Op: op, Cause: err}
	}
	return nil
}

func (s *RetryingStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var ok bool
	err := s.retry("Get", func() error {
		var innerErr error
		value, ok, innerErr = s.inner.Get(ctx, key)
		return innerErr
	})
	return value, ok, err
}

func (s *RetryingStore) Set(ctx context.Context, key, value string) error {
	return s.retry("Set", func() error { return s.inner.Set(ctx, key, value) })
}

func (s *RetryingStore) Delete(ctx context.Context, key string) error {
	return s.retry("Delete", func() error { return s.inner.Delete(ctx, key) })
}

func (s *RetryingStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.retry("List", func() error {
		var innerErr error
		keys, innerErr = s.inner.List(ctx, prefix)
		return innerErr
	})
	return keys, err
}

func (s *RetryingStore) SavePipelineRun(ctx context.Context, run *pipeline.PipelineRun) error {
	return s.retry("SavePipelineRun", func() error { return s.inner.SavePipelineRun(ctx, run) })
}

func (s *RetryingStore) GetPipelineRun(ctx context.Context, id string) (*pipeline.PipelineRun, error) {
	var run *pipeline.PipelineRun
	err := s.retry("GetPipelineRun", func() error {
		var innerErr error
		run, innerErr = s.inner.GetPipelineRun(ctx, id)
		return innerErr
	})
	return run, err
}

func (s *RetryingStore) GetPipelineRuns(ctx context.Context, pipelineName string, limit int) ([]*pipeline.PipelineRun, error) {
	var runs []*pipeline.PipelineRun
	err := s.retry("GetPipelineRuns", func() error {
		var innerErr error
		runs, innerErr = s.inner.GetPipelineRuns(ctx, pipelineName, limit)
		return innerErr
	})
	return runs, err
}

func (s *RetryingStore) CleanupOldRuns(ctx context.Context, retentionDays int) (int, error) {
	var n int
	err := s.retry("CleanupOldRuns", func() error {
		var innerErr error
		n, innerErr = s.inner.CleanupOldRuns(ctx, retentionDays)
		return innerErr
	})
	return n, err
}
