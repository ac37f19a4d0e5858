package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(2, time.Millisecond, 4*time.Millisecond)
	require.Equal(t, 3, policy.MaxAttempts())

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 1, want: false},
		{name: "generic error", err: errors.New("boom"), attempt: 1, want: true},
		{name: "timeout retried", err: context.DeadlineExceeded, attempt: 2, want: true},
		{name: "attempts exhausted", err: errors.New("boom"), attempt: 3, want: false},
		{name: "canceled", err: context.Canceled, attempt: 1, want: false},
		{name: "not a pdf", err: fmt.Errorf("fetch: %w", ErrNotPDF), attempt: 1, want: false},
		{name: "redirect loop", err: ErrTooManyRedirects, attempt: 1, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, policy.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestExponentialRetryPolicy_BackoffBounded(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(5, 10*time.Millisecond, 40*time.Millisecond)
	for attempt := 1; attempt <= 6; attempt++ {
		d := policy.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond)
	calls := 0
	err := Retry(context.Background(), policy, func(context.Context, int) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(1, time.Millisecond, 2*time.Millisecond)
	calls := 0
	err := Retry(context.Background(), policy, func(_ context.Context, attempt int) error {
		calls++
		return fmt.Errorf("attempt %d failed", attempt)
	})
	require.EqualError(t, err, "attempt 2 failed")
	assert.Equal(t, 2, calls)
}

func TestRetry_HonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	policy := NewExponentialRetryPolicy(10, time.Hour, time.Hour)
	err := Retry(ctx, policy, func(context.Context, int) error {
		cancel()
		return errors.New("fails")
	})
	require.Error(t, err)
}

func TestOrderRecord_NeedsUpload(t *testing.T) {
	t.Parallel()

	assert.False(t, OrderRecord{}.NeedsUpload())
	assert.True(t, OrderRecord{PDFURL: "https://x/a.pdf"}.NeedsUpload())
	assert.True(t, OrderRecord{PDFURL: "https://x/a.pdf", StoredRef: RefUploadFailed}.NeedsUpload())
	assert.False(t, OrderRecord{PDFURL: "https://x/a.pdf", StoredRef: "gs://b/k.pdf"}.NeedsUpload())
	assert.True(t, IsSimulatedRef("simulated://bucket/key.pdf"))
}

func TestSummary_Tally(t *testing.T) {
	t.Parallel()

	var s Summary
	s.Tally([]OrderRecord{{IsTraffic: true}, {}, {IsTraffic: true}})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Traffic)
	assert.Equal(t, 1, s.Other)
}
