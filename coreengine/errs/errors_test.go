package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageErrorMatchesSentinelByKind(t *testing.T) {
	err := New(KindIncompleteDocument, "section %s empty", "Timeline")

	assert.True(t, errors.Is(err, ErrIncompleteDocument))
	assert.False(t, errors.Is(err, ErrUpstreamUnavailable))
}

func TestStageErrorMessage(t *testing.T) {
	err := Wrap(KindUpstreamUnavailable, errors.New("connection refused"), "generate").WithStage("Classifying")
	assert.Equal(t, "Classifying: UpstreamUnavailable: generate: connection refused", err.Error())

	bare := &StageError{Kind: KindCancelled}
	assert.Equal(t, "Cancelled", bare.Error())
}

func TestRetriesExhaustedWrapsCause(t *testing.T) {
	cause := UpstreamUnavailable(context.DeadlineExceeded)
	err := RetriesExhausted(cause, 3)

	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable), "cause must stay reachable")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, KindRetriesExhausted, KindOf(err))
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}

func TestKindOfAndRetryable(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", UpstreamUnavailable(errors.New("503")))

	assert.Equal(t, KindUpstreamUnavailable, KindOf(wrapped))
	assert.True(t, Retryable(wrapped))
	assert.False(t, Retryable(New(KindClassificationUnparseable, "bad")))
	assert.False(t, Retryable(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWithStageKeepsExistingAttribution(t *testing.T) {
	err := New(KindInternal, "boom").WithStage("Generating")
	again := err.WithStage("Approving")

	assert.Equal(t, "Generating", again.Stage)

	se, ok := As(fmt.Errorf("x: %w", again))
	require.True(t, ok)
	assert.Same(t, again, se)
}

func TestOnlyUpstreamUnavailableIsRetryable(t *testing.T) {
	for _, k := range []Kind{
		KindClassificationUnparseable, KindIncompleteDocument, KindDuplicateStageOutput,
		KindRetriesExhausted, KindCancelled, KindInvalidRequest, KindInternal,
	} {
		assert.False(t, k.Retryable(), k)
	}
	assert.True(t, KindUpstreamUnavailable.Retryable())
}
