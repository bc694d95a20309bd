package flowlist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/avnmr/ai-retail/pkg/client"
	"github.com/avnmr/ai-retail/pkg/vectorindex"
)

// RetryPolicy returns a fresh backoff for one EnsureIndex step
type RetryPolicy func() backoff.BackOff

// DefaultRetryPolicy retries up to three times, starting at 500ms
func DefaultRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// EnsureIndex creates the user's vector index unless the index listing already
// has it. Concurrent calls for one user share a single check. A create that
// loses a race (HTTP 409) counts as success and is only logged.
func (s *Store) EnsureIndex(ctx context.Context, username string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.indexes == nil {
		s.mu.Unlock()
		return nil
	}
	s.bg.Add(1)
	s.mu.Unlock()

	// The shared check runs on the store lifetime, so one caller giving up
	// does not fail the others
	name := vectorindex.IndexName(username)
	results := s.group.DoChan(name, func() (interface{}, error) {
		return nil, s.ensureIndex(s.life, username, name)
	})

	// Close waits until the shared check has finished
	done := make(chan singleflight.Result, 1)
	go func() {
		defer s.bg.Done()
		done <- <-results
	}()

	select {
	case res := <-done:
		if res.Shared {
			s.logger.Debug("joined in-flight index check", "index", name)
		}
		if s.isClosed() {
			return ErrClosed
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) ensureIndex(ctx context.Context, username, name string) error {
	var list vectorindex.IndexList
	err := s.withRetry(ctx, "list indexes", func() error {
		var err error
		list, err = s.indexes.ListIndexes(ctx)
		return err
	})
	if err != nil {
		s.logger.Error("failed to list vector indexes", "index", name, "error", err)
		return fmt.Errorf("failed to list indexes: %w", err)
	}

	if list.Contains(name) {
		s.logger.Debug("vector index exists", "index", name)
		return nil
	}

	req := vectorindex.NewCreateIndexRequest(username)
	err = s.withRetry(ctx, "create index", func() error {
		_, err := s.indexes.CreateIndex(ctx, req)
		return err
	})
	switch {
	case err == nil:
		s.logger.Info("created vector index", "index", name)
		return nil
	case isConflict(err):
		s.logger.Info("vector index already created elsewhere", "index", name, "error", err)
		return nil
	default:
		s.logger.Error("failed to create vector index", "index", name, "error", err)
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
}

func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	attempt := func() error {
		err := fn()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("retrying "+op, "error", err, "wait", wait)
	}
	return backoff.RetryNotify(attempt, backoff.WithContext(s.retry(), ctx), notify)
}

// isConflict reports a duplicate or concurrent create
func isConflict(err error) bool {
	return client.StatusCode(err) == http.StatusConflict ||
		errors.Is(err, vectorindex.ErrIndexExists) ||
		errors.Is(err, vectorindex.ErrProvisioning)
}

// isTransient reports failures worth retrying: transport errors, 5xx and 429
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	status := client.StatusCode(err)
	if status == 0 {
		var perr *vectorindex.ProviderError
		if errors.As(err, &perr) {
			status = perr.StatusCode
		}
	}
	if status != 0 {
		return status >= 500 || status == http.StatusTooManyRequests
	}

	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}
