package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/httpx"
	"github.com/ggonzalez94/route-runner/internal/logging"
	"github.com/ggonzalez94/route-runner/internal/model"
	"go.uber.org/zap"
)

// NextStepFetcher asks the planning service for the step following a
// confirmed one. A nil step means the route is complete. totalUserTx is the
// route's step count. Calls with identical arguments must return equal results.
type NextStepFetcher interface {
	FetchNextStep(ctx context.Context, activeRouteID int64, userTxIndex, totalUserTx int, confirmedHash string) (*model.StepDescriptor, error)
}

// RouteExecutor hands out one step of a route at a time.
type RouteExecutor struct {
	fetcher  NextStepFetcher
	attempts int
	backoff  func(attempt int) time.Duration
	log      *zap.Logger
}

type ExecutorOption func(*RouteExecutor)

// WithAdvanceAttempts bounds how often a failing next-step fetch is retried
// inside a single Advance call.
func WithAdvanceAttempts(n int) ExecutorOption {
	return func(e *RouteExecutor) {
		if n > 0 {
			e.attempts = n
		}
	}
}

func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *RouteExecutor) { e.log = logging.OrNop(l) }
}

func NewRouteExecutor(fetcher NextStepFetcher, opts ...ExecutorOption) *RouteExecutor {
	e := &RouteExecutor{
		fetcher:  fetcher,
		attempts: 3,
		backoff:  httpx.Backoff,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State is the transient execution state owned by one Sequence.
type State struct {
	Current  *model.StepDescriptor
	LastHash string
	Done     bool
}

// Sequence is a single-consumer, non-restartable walk over a route. Next
// exposes at most one pending step; Advance unblocks the following one.
type Sequence struct {
	exec  *RouteExecutor
	route model.Route
	total int

	mu         sync.Mutex
	state      State
	yielded    bool
	advancing  bool
	failedHash string
}

// Start validates route and returns a fresh sequence positioned at its first step.
func (e *RouteExecutor) Start(route model.Route) (*Sequence, error) {
	if len(route.UserTxs) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "route has no user transactions")
	}
	if route.ActiveRouteID == 0 {
		return nil, clierr.New(clierr.CodeUsage, "route is missing activeRouteId")
	}
	first := route.UserTxs[0]
	if first.UserTxIndex != 0 {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("route must start at userTxIndex 0, got %d", first.UserTxIndex))
	}
	total := route.TotalUserTx
	if total <= 0 {
		total = first.TotalUserTx
	}
	if total <= 0 {
		total = len(route.UserTxs)
	}
	if first.ActiveRouteID == 0 {
		first.ActiveRouteID = route.ActiveRouteID
	}
	return &Sequence{
		exec:  e,
		route: route,
		total: total,
		state: State{Current: &first},
	}, nil
}

func (s *Sequence) RouteID() int64 { return s.route.ActiveRouteID }

func (s *Sequence) Total() int { return s.total }

// State returns a snapshot of the sequence state.
func (s *Sequence) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	if out.Current != nil {
		cur := *out.Current
		out.Current = &cur
	}
	return out
}

// Next yields the pending step. Calling it again before Advance returns the
// same step. ok is false once the sequence has completed.
func (s *Sequence) Next() (StepTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Done || s.state.Current == nil {
		return StepTransaction{}, false
	}
	s.yielded = true
	return NewStepTransaction(*s.state.Current), true
}

// Advance reports the confirmed send hash of the yielded step and resolves the
// next one. It fails with an invalid-sequence error when no step is yielded,
// when the step was already advanced, or when called concurrently. If the
// next-step fetch keeps failing the state is left untouched and Advance may be
// retried with the same hash.
func (s *Sequence) Advance(ctx context.Context, hash string) error {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return clierr.New(clierr.CodeUsage, "advance requires a confirmed transaction hash")
	}

	s.mu.Lock()
	switch {
	case s.state.Done:
		s.mu.Unlock()
		return clierr.New(clierr.CodeInvalidSequence, "advance called after the sequence completed")
	case !s.yielded:
		s.mu.Unlock()
		return clierr.New(clierr.CodeInvalidSequence, "advance called before a step was yielded")
	case s.advancing:
		s.mu.Unlock()
		return clierr.New(clierr.CodeInvalidSequence, "advance already in progress")
	case s.failedHash != "" && !strings.EqualFold(s.failedHash, hash):
		s.mu.Unlock()
		return clierr.New(clierr.CodeInvalidSequence, fmt.Sprintf("step %d was already reported with hash %s", s.state.Current.UserTxIndex, s.failedHash))
	}
	s.advancing = true
	current := *s.state.Current
	s.mu.Unlock()

	next, err := s.resolveNext(ctx, current, hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.advancing = false
	if err != nil {
		s.failedHash = hash
		return err
	}
	s.failedHash = ""
	s.yielded = false
	s.state.LastHash = hash
	if next == nil {
		s.state.Current = nil
		s.state.Done = true
		s.exec.log.Debug("route sequence completed",
			zap.Int64("route_id", s.route.ActiveRouteID),
			zap.Int("steps", current.UserTxIndex+1),
		)
		return nil
	}
	s.state.Current = next
	return nil
}

func (s *Sequence) resolveNext(ctx context.Context, current model.StepDescriptor, hash string) (*model.StepDescriptor, error) {
	if s.exec.fetcher == nil {
		return s.hintAfter(current.UserTxIndex), nil
	}
	var (
		next *model.StepDescriptor
		err  error
	)
	for attempt := 1; attempt <= s.exec.attempts; attempt++ {
		next, err = s.exec.fetcher.FetchNextStep(ctx, s.route.ActiveRouteID, current.UserTxIndex, s.total, hash)
		if err == nil || !clierr.IsPlanningService(err) || attempt == s.exec.attempts {
			break
		}
		s.exec.log.Warn("next step fetch failed; retrying",
			zap.Int64("route_id", s.route.ActiveRouteID),
			zap.Int("step_index", current.UserTxIndex),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, clierr.Wrap(clierr.CodePlanningService, "fetch next step", ctx.Err())
		case <-time.After(s.exec.backoff(attempt)):
		}
	}
	if err != nil {
		return nil, err
	}
	if next == nil || current.UserTxIndex+1 >= s.total {
		return nil, nil
	}
	step := *next
	if step.UserTxIndex != current.UserTxIndex+1 {
		return nil, clierr.New(clierr.CodePlanningService, fmt.Sprintf("planning service returned step %d after step %d", step.UserTxIndex, current.UserTxIndex))
	}
	if step.ActiveRouteID == 0 {
		step.ActiveRouteID = s.route.ActiveRouteID
	}
	return &step, nil
}

// hintAfter returns the route's own entry following index, used when no
// planning service is attached.
func (s *Sequence) hintAfter(index int) *model.StepDescriptor {
	if index+1 >= s.total {
		return nil
	}
	for _, tx := range s.route.UserTxs {
		if tx.UserTxIndex == index+1 {
			step := tx
			if step.ActiveRouteID == 0 {
				step.ActiveRouteID = s.route.ActiveRouteID
			}
			return &step
		}
	}
	return nil
}
