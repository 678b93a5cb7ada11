package execution

import (
	"context"
	"errors"
	"testing"

	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hash0 = "0x1111111111111111111111111111111111111111111111111111111111111111"
	hash1 = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

func newTestExecutor(f NextStepFetcher) *RouteExecutor {
	e := NewRouteExecutor(f, WithAdvanceAttempts(3))
	e.backoff = noBackoff
	return e
}

func TestStartRejectsEmptyRoute(t *testing.T) {
	_, err := newTestExecutor(nil).Start(model.Route{ActiveRouteID: 77})
	require.Error(t, err)
	typed, ok := clierr.As(err)
	require.True(t, ok)
	assert.Equal(t, clierr.CodeUsage, typed.Code)
}

func TestStartRejectsRouteNotStartingAtZero(t *testing.T) {
	_, err := newTestExecutor(nil).Start(routeOf(plainStep(1, 2, 1)))
	require.Error(t, err)
}

func TestNextIsIdempotentUntilAdvance(t *testing.T) {
	seq, err := newTestExecutor(&scriptedFetcher{total: 2, chainID: 1}).Start(routeOf(plainStep(0, 2, 1)))
	require.NoError(t, err)

	first, ok := seq.Next()
	require.True(t, ok)
	again, ok := seq.Next()
	require.True(t, ok)
	assert.Equal(t, first.Descriptor(), again.Descriptor())

	require.NoError(t, seq.Advance(context.Background(), hash0))
	second, ok := seq.Next()
	require.True(t, ok)
	assert.Equal(t, 1, second.Index())
}

func TestAdvanceBeforeYieldIsInvalidSequence(t *testing.T) {
	seq, err := newTestExecutor(&scriptedFetcher{total: 2, chainID: 1}).Start(routeOf(plainStep(0, 2, 1)))
	require.NoError(t, err)
	err = seq.Advance(context.Background(), hash0)
	assert.True(t, clierr.IsInvalidSequence(err))
}

func TestAdvanceTwiceForSameStepIsInvalidSequence(t *testing.T) {
	fetcher := &scriptedFetcher{total: 3, chainID: 1}
	seq, err := newTestExecutor(fetcher).Start(routeOf(plainStep(0, 3, 1)))
	require.NoError(t, err)
	_, ok := seq.Next()
	require.True(t, ok)
	require.NoError(t, seq.Advance(context.Background(), hash0))

	err = seq.Advance(context.Background(), hash0)
	assert.True(t, clierr.IsInvalidSequence(err))
	assert.Equal(t, 1, fetcher.callCount())
}

func TestAdvanceAfterCompletionIsInvalidSequence(t *testing.T) {
	seq, err := newTestExecutor(&scriptedFetcher{total: 1, chainID: 1}).Start(routeOf(plainStep(0, 1, 1)))
	require.NoError(t, err)
	_, ok := seq.Next()
	require.True(t, ok)
	require.NoError(t, seq.Advance(context.Background(), hash0))

	_, ok = seq.Next()
	assert.False(t, ok)
	state := seq.State()
	assert.True(t, state.Done)
	assert.Nil(t, state.Current)
	assert.Equal(t, hash0, state.LastHash)
	assert.True(t, clierr.IsInvalidSequence(seq.Advance(context.Background(), hash1)))
}

func TestSequenceYieldsExactlyTotalSteps(t *testing.T) {
	for _, n := range []int{1, 2, 5, 9} {
		fetcher := &scriptedFetcher{total: n, chainID: 10}
		seq, err := newTestExecutor(fetcher).Start(routeOf(plainStep(0, n, 10)))
		require.NoError(t, err)
		var indices []int
		for {
			step, ok := seq.Next()
			if !ok {
				break
			}
			indices = append(indices, step.Index())
			require.NoError(t, seq.Advance(context.Background(), hash0))
		}
		require.Len(t, indices, n)
		for i, idx := range indices {
			assert.Equal(t, i, idx)
		}
		assert.Equal(t, n, fetcher.callCount(), "every confirmed hash is reported")
	}
}

func TestAdvanceRetriesPlanningServiceErrors(t *testing.T) {
	fetcher := &scriptedFetcher{
		total:    2,
		chainID:  1,
		failures: 2,
		err:      clierr.New(clierr.CodePlanningService, "service unavailable"),
	}
	seq, err := newTestExecutor(fetcher).Start(routeOf(plainStep(0, 2, 1)))
	require.NoError(t, err)
	_, _ = seq.Next()
	require.NoError(t, seq.Advance(context.Background(), hash0))
	assert.Equal(t, 3, fetcher.callCount())
	for _, call := range fetcher.calls {
		assert.Equal(t, fetchCall{routeID: 77, index: 0, total: 2, hash: hash0}, call)
	}
}

func TestAdvanceRetryAfterExhaustionRequiresSameHash(t *testing.T) {
	fetcher := &scriptedFetcher{
		total:    2,
		chainID:  1,
		failures: 3,
		err:      clierr.New(clierr.CodePlanningService, "service unavailable"),
	}
	seq, err := newTestExecutor(fetcher).Start(routeOf(plainStep(0, 2, 1)))
	require.NoError(t, err)
	_, _ = seq.Next()

	err = seq.Advance(context.Background(), hash0)
	require.True(t, clierr.IsPlanningService(err))
	step, ok := seq.Next()
	require.True(t, ok)
	assert.Equal(t, 0, step.Index(), "failed fetch leaves the step pending")

	assert.True(t, clierr.IsInvalidSequence(seq.Advance(context.Background(), hash1)))
	require.NoError(t, seq.Advance(context.Background(), hash0))
	step, ok = seq.Next()
	require.True(t, ok)
	assert.Equal(t, 1, step.Index())
}

func TestAdvanceDoesNotRetryOtherErrors(t *testing.T) {
	fetcher := &scriptedFetcher{total: 2, chainID: 1, failures: 1, err: errors.New("boom")}
	seq, err := newTestExecutor(fetcher).Start(routeOf(plainStep(0, 2, 1)))
	require.NoError(t, err)
	_, _ = seq.Next()
	require.Error(t, seq.Advance(context.Background(), hash0))
	assert.Equal(t, 1, fetcher.callCount())
}

func TestAdvanceRejectsOutOfOrderStep(t *testing.T) {
	skipped := plainStep(2, 3, 1)
	fetcher := &scriptedFetcher{total: 3, chainID: 1, steps: map[int]*model.StepDescriptor{1: &skipped}}
	seq, err := newTestExecutor(fetcher).Start(routeOf(plainStep(0, 3, 1)))
	require.NoError(t, err)
	_, _ = seq.Next()
	err = seq.Advance(context.Background(), hash0)
	require.Error(t, err)
	assert.True(t, clierr.IsPlanningService(err))
}

func TestServiceStepReplacesRouteHint(t *testing.T) {
	redescribed := plainStep(1, 2, 42161)
	fetcher := &scriptedFetcher{total: 2, chainID: 1, steps: map[int]*model.StepDescriptor{1: &redescribed}}
	seq, err := newTestExecutor(fetcher).Start(routeOf(plainStep(0, 2, 1), plainStep(1, 2, 1)))
	require.NoError(t, err)
	_, _ = seq.Next()
	require.NoError(t, seq.Advance(context.Background(), hash0))
	step, ok := seq.Next()
	require.True(t, ok)
	assert.Equal(t, int64(42161), step.ChainID())
}

func TestSequenceWithoutFetcherWalksRouteHints(t *testing.T) {
	seq, err := newTestExecutor(nil).Start(routeOf(plainStep(0, 2, 1), plainStep(1, 2, 10)))
	require.NoError(t, err)
	_, _ = seq.Next()
	require.NoError(t, seq.Advance(context.Background(), hash0))
	step, ok := seq.Next()
	require.True(t, ok)
	assert.Equal(t, int64(10), step.ChainID())
	require.NoError(t, seq.Advance(context.Background(), hash1))
	_, ok = seq.Next()
	assert.False(t, ok)
}

func TestAdvanceRequiresHash(t *testing.T) {
	seq, err := newTestExecutor(nil).Start(routeOf(plainStep(0, 1, 1)))
	require.NoError(t, err)
	_, _ = seq.Next()
	require.Error(t, seq.Advance(context.Background(), " "))
}
