package queue_test

import (
	"testing"
	"time"

	"github.com/greetingsvc/scheduler/internal/queue"
)

func TestBackoffForRetry_FollowsDoublingScheduleCappedAt60s(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
		{-1, time.Second},
	}

	for _, c := range cases {
		got := queue.BackoffForRetry(c.retryCount)
		if got != c.want {
			t.Errorf("BackoffForRetry(%d) = %v, want %v", c.retryCount, got, c.want)
		}
	}
}
