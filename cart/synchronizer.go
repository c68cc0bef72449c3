// Package cart keeps the local cart snapshot consistent with the remote backend.
//
// The Synchronizer is the only writer of the snapshot. Reads are served from memory, every
// mutation goes to the backend first and local state only ever reflects what the backend
// reported afterwards. Responses are applied last-request-wins: a response is dropped when a
// request issued after it has already been applied.
package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yashrajoria/storefront-core/clients"
	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/common/logger"
	"github.com/yashrajoria/storefront-core/models"
)

// Gateway is the remote cart contract.
type Gateway interface {
	Cart(ctx context.Context) (*models.CartSnapshot, error)
	MutateCart(ctx context.Context, ops []models.LineOp) (*models.CartSnapshot, error)
}

// State is what readers see. Stale is set when the last refresh failed or when the state was
// restored from cache and not yet confirmed by the backend.
type State struct {
	Snapshot models.CartSnapshot
	Stale    bool
}

// MutationResult reports how a mutation settled.
type MutationResult struct {
	Snapshot     models.CartSnapshot
	Attempts     int
	StaleWarning bool
}

type Option func(*Synchronizer)

func WithCache(c Cache) Option {
	return func(s *Synchronizer) { s.cache = c }
}

// WithPolling bounds the post-mutation poll.
func WithPolling(attempts int, interval time.Duration) Option {
	return func(s *Synchronizer) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
		if interval >= 0 {
			s.interval = interval
		}
	}
}

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Synchronizer) { s.sleep = sleep }
}

// WithStaleHook is called when a mutation did not settle within the poll budget.
func WithStaleHook(fn func(ctx context.Context)) Option {
	return func(s *Synchronizer) { s.onStale = fn }
}

type Synchronizer struct {
	gateway     Gateway
	cache       Cache
	logger      *zap.Logger
	maxAttempts int
	interval    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	onStale     func(ctx context.Context)

	mu      sync.RWMutex
	state   State
	issued  uint64
	applied uint64

	subsMu   sync.Mutex
	subs     map[int]func(State)
	nextSub  int
	notifyMu sync.Mutex
}

func NewSynchronizer(gateway Gateway, log *zap.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		gateway:     gateway,
		logger:      logger.OrNop(log),
		maxAttempts: 3,
		interval:    time.Second,
		sleep:       sleepCtx,
		subs:        make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a copy of the current state.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{Snapshot: s.state.Snapshot.Clone(), Stale: s.state.Stale}
}

// Snapshot returns a copy of the current snapshot.
func (s *Synchronizer) Snapshot() models.CartSnapshot {
	return s.State().Snapshot
}

// Subscribe registers fn for state changes. The returned func removes it and is safe to call
// more than once; it never cancels network calls already in flight.
func (s *Synchronizer) Subscribe(fn func(State)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// Restore loads the cached snapshot, marked stale, if nothing newer has been applied.
func (s *Synchronizer) Restore(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	snap, err := s.cache.Get(ctx)
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.applied > 0 {
		s.mu.Unlock()
		return nil
	}
	s.state = State{Snapshot: *snap, Stale: true}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Refresh fetches the remote cart and replaces the local snapshot. On failure the previous
// snapshot stays readable and is marked stale; the error is logged and returned.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	seq := s.issue()
	snap, err := s.gateway.Cart(ctx)
	if err == nil {
		s.apply(ctx, seq, *snap)
		return nil
	}

	var malformed *clients.MalformedCartError
	var partial *clients.PartialResponseError
	switch {
	case errors.As(err, &malformed) && malformed.ItemCount == 0:
		s.logger.Warn("Remote cart is empty but lines were unreadable; clearing local cart", zap.Error(err))
		s.apply(ctx, seq, models.CartSnapshot{UpdatedAt: time.Now()})
		return nil
	case snap != nil && errors.As(err, &partial):
		s.logger.Warn("Cart refreshed with remote warnings", zap.Error(err))
		s.apply(ctx, seq, *snap)
		return nil
	}

	s.logger.Warn("Cart refresh failed; keeping last known state",
		zap.String("kind", string(apperrors.KindOf(err))),
		zap.Error(err),
	)
	s.markStale(seq)
	return err
}

// Mutate sends ops to the backend, then polls until the expected post-mutation state is
// observed or the attempt budget runs out. Nothing is applied locally before the backend
// confirms it. Mutation errors are returned to the caller.
func (s *Synchronizer) Mutate(ctx context.Context, ops ...models.LineOp) (MutationResult, error) {
	if len(ops) == 0 {
		return MutationResult{}, apperrors.Validation("nothing to update", nil)
	}
	for _, op := range ops {
		if op.Key.ProductID == "" || (op.Kind != models.LineOpRemove && op.Quantity < 0) ||
			(op.Kind == models.LineOpAdd && op.Quantity == 0) {
			return MutationResult{}, apperrors.Validation("invalid cart update", map[string]string{"key": op.Key.String()})
		}
	}

	// The write must not be abandoned halfway if the caller goes away.
	remoteCtx := context.WithoutCancel(ctx)
	if _, err := s.gateway.MutateCart(remoteCtx, ops); err != nil {
		s.logger.Warn("Cart mutation failed", zap.Int("ops", len(ops)), zap.Error(err))
		// Part of the batch may have landed; converge on whatever the backend has now.
		_ = s.Refresh(remoteCtx)
		return MutationResult{Snapshot: s.Snapshot(), Attempts: 1}, err
	}

	want := expectationsFor(ops)
	result := MutationResult{}
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result.Attempts = attempt
		err := s.Refresh(remoteCtx)
		if err == nil && want.satisfiedBy(s.Snapshot()) {
			result.Snapshot = s.Snapshot()
			return result, nil
		}
		if attempt == s.maxAttempts {
			break
		}
		if err := s.sleep(ctx, s.interval); err != nil {
			break
		}
	}

	result.Snapshot = s.Snapshot()
	result.StaleWarning = true
	s.logger.Warn("Cart did not reflect mutation within poll budget",
		zap.Int("attempts", result.Attempts),
		zap.Duration("interval", s.interval),
	)
	if s.onStale != nil {
		s.onStale(ctx)
	}
	return result, nil
}

// Clear drops the local snapshot and cache. Responses to requests issued before Clear are
// discarded when they arrive.
func (s *Synchronizer) Clear(ctx context.Context) {
	s.mu.Lock()
	s.applied = s.issued
	s.state = State{Snapshot: models.CartSnapshot{UpdatedAt: time.Now()}}
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Delete(ctx); err != nil {
			s.logger.Warn("Failed to clear cart cache", zap.Error(err))
		}
	}
	s.notify()
}

func (s *Synchronizer) issue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

func (s *Synchronizer) apply(ctx context.Context, seq uint64, snap models.CartSnapshot) bool {
	s.mu.Lock()
	if seq <= s.applied {
		s.mu.Unlock()
		s.logger.Debug("Discarding out-of-order cart response", zap.Uint64("seq", seq))
		return false
	}
	s.applied = seq
	s.state = State{Snapshot: snap.Clone()}
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.logger.Warn("Failed to cache cart snapshot", zap.Error(err))
		}
	}
	s.notify()
	return true
}

func (s *Synchronizer) markStale(seq uint64) {
	s.mu.Lock()
	if seq <= s.applied || s.state.Stale {
		s.mu.Unlock()
		return
	}
	s.state.Stale = true
	s.mu.Unlock()
	s.notify()
}

// notify delivers the latest state; notifications are serialized so subscribers never see an
// older state after a newer one.
func (s *Synchronizer) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	state := s.State()
	s.subsMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
