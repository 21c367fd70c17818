package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/auditkv/internal/history"
	"github.com/roach88/auditkv/internal/metrics"
	"github.com/roach88/auditkv/internal/store"
)

// Options configures a Service. Zero values select defaults.
type Options struct {
	// Clock stamps requests whose Timestamp is zero. Defaults to SystemClock.
	Clock Clock

	// IDs generates event identifiers. Defaults to UUIDv7Generator.
	IDs IDGenerator

	// Metrics receives operation metrics. May be nil.
	Metrics *metrics.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// AuditRetrievals records a Retrieve event for every Retrieve call.
	AuditRetrievals bool

	// MaxValueBytes rejects larger values with ErrMalformedInput.
	// Zero means unlimited.
	MaxValueBytes int64
}

// Service runs audited operations against a store.
// It is safe for concurrent use.
type Service struct {
	store   *store.Store
	clock   Clock
	ids     IDGenerator
	metrics *metrics.Metrics
	logger  *slog.Logger

	auditRetrievals bool
	maxValueBytes   int64
}

// New creates a Service over st.
func New(st *store.Store, opts Options) *Service {
	s := &Service{
		store:           st,
		clock:           opts.Clock,
		ids:             opts.IDs,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		auditRetrievals: opts.AuditRetrievals,
		maxValueBytes:   opts.MaxValueBytes,
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.ids == nil {
		s.ids = UUIDv7Generator{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Retrieve returns the content stored under key, or ErrNotFound.
// When retrieval auditing is on, a Retrieve event is committed even if the
// key does not exist.
func (s *Service) Retrieve(ctx context.Context, key string, req store.RequestMetadata) (content []byte, err error) {
	defer s.observe("retrieve", key, time.Now(), &err)

	if err := validateKey(key); err != nil {
		return nil, err
	}

	var found bool
	err = s.store.WithScope(ctx, func(ctx context.Context, sc *store.Scope) error {
		v, ok, err := sc.CurrentValue(ctx, key)
		if err != nil {
			return err
		}
		found = ok
		content = v.Content

		if !s.auditRetrievals {
			return nil
		}
		ref := optionalRef(v, ok)
		_, err = sc.AppendEvent(ctx, store.EventRecord{
			UID:         s.ids.Generate(),
			Action:      store.ActionRetrieve,
			Key:         key,
			Request:     s.stamp(req),
			ValueBefore: ref,
			ValueAfter:  ref,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve %q: %w", key, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return content, nil
}

// Update stores content under key and records an Update event whose
// before/after references capture the previous and the new value.
func (s *Service) Update(ctx context.Context, key string, content []byte, req store.RequestMetadata) (value store.Value, err error) {
	defer s.observe("update", key, time.Now(), &err)

	if err := validateKey(key); err != nil {
		return store.Value{}, err
	}
	if s.maxValueBytes > 0 && int64(len(content)) > s.maxValueBytes {
		return store.Value{}, fmt.Errorf("%w: value of %d bytes exceeds limit of %d", ErrMalformedInput, len(content), s.maxValueBytes)
	}

	err = s.store.WithScope(ctx, func(ctx context.Context, sc *store.Scope) error {
		before, hadBefore, err := sc.CurrentValue(ctx, key)
		if err != nil {
			return err
		}

		value, err = sc.UpsertEntry(ctx, key, content)
		if err != nil {
			return err
		}

		after := value.Ref()
		_, err = sc.AppendEvent(ctx, store.EventRecord{
			UID:         s.ids.Generate(),
			Action:      store.ActionUpdate,
			Key:         key,
			Request:     s.stamp(req),
			ValueBefore: optionalRef(before, hadBefore),
			ValueAfter:  &after,
		})
		return err
	})
	if err != nil {
		return store.Value{}, fmt.Errorf("update %q: %w", key, err)
	}

	s.metrics.ObserveValueSize(len(content))
	return value, nil
}

// Delete removes key and records a Delete event. Deleting an absent key
// succeeds and is still audited.
func (s *Service) Delete(ctx context.Context, key string, req store.RequestMetadata) (err error) {
	defer s.observe("delete", key, time.Now(), &err)

	if err := validateKey(key); err != nil {
		return err
	}

	err = s.store.WithScope(ctx, func(ctx context.Context, sc *store.Scope) error {
		before, hadBefore, err := sc.CurrentValue(ctx, key)
		if err != nil {
			return err
		}

		if err := sc.RemoveEntry(ctx, key); err != nil {
			return err
		}

		_, err = sc.AppendEvent(ctx, store.EventRecord{
			UID:         s.ids.Generate(),
			Action:      store.ActionDelete,
			Key:         key,
			Request:     s.stamp(req),
			ValueBefore: optionalRef(before, hadBefore),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Dump reconstructs the current state and history of every written key.
func (s *Service) Dump(ctx context.Context) (d history.Dump, err error) {
	defer s.observe("dump", "", time.Now(), &err)

	active, records, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return history.Reconstruct(active, records), nil
}

// Events returns the raw audit log of key, retrievals included.
func (s *Service) Events(ctx context.Context, key string) ([]store.Event, error) {
	return s.store.EventsForKey(ctx, key)
}

// stamp is called inside the scope so that timestamps follow commit order.
func (s *Service) stamp(req store.RequestMetadata) store.RequestMetadata {
	if req.Timestamp.IsZero() {
		req.Timestamp = s.clock.Now()
	}
	return req
}

func (s *Service) observe(op, key string, start time.Time, errp *error) {
	outcome := metrics.OutcomeOK
	switch {
	case *errp == nil:
	case errors.Is(*errp, ErrNotFound):
		outcome = metrics.OutcomeNotFound
	case errors.Is(*errp, ErrMalformedInput):
		outcome = metrics.OutcomeMalformed
	default:
		outcome = metrics.OutcomeError
	}
	elapsed := time.Since(start)
	s.metrics.ObserveOperation(op, outcome, elapsed)

	if outcome == metrics.OutcomeError {
		s.logger.Error("operation failed", "op", op, "key", key, "error", *errp)
		return
	}
	s.logger.Debug("operation complete", "op", op, "key", key, "outcome", outcome, "duration", elapsed)
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformedInput)
	}
	return nil
}

func optionalRef(v store.Value, ok bool) *store.ValueRef {
	if !ok {
		return nil
	}
	ref := v.Ref()
	return &ref
}
