package soulerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrappedError(t *testing.T) {
	err := fmt.Errorf("calling completion: %w", Wrap(KindRateLimited, "too many requests", errors.New("429")))
	if got := KindOf(err); got != KindRateLimited {
		t.Errorf("expected rate_limited, got %s", got)
	}
}

func TestKindOfContextErrors(t *testing.T) {
	if got := KindOf(context.Canceled); got != KindCanceled {
		t.Errorf("expected canceled, got %s", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTimeout {
		t.Errorf("expected timeout, got %s", got)
	}
	if got := KindOf(errors.New("boom")); got != KindFatal {
		t.Errorf("expected fatal for unclassified error, got %s", got)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(KindTransient, "server error")) {
		t.Error("transient errors should be retryable")
	}
	if !Retryable(New(KindTimeout, "deadline")) {
		t.Error("timeouts should be retryable")
	}
	if Retryable(New(KindRateLimited, "slow down")) {
		t.Error("rate limiting must not feed the backoff loop")
	}
	if Retryable(New(KindCanceled, "superseded")) {
		t.Error("cancellation must not be retried")
	}
}

func TestFromStatusCode(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{400, KindValidation},
		{429, KindRateLimited},
		{500, KindTransient},
		{503, KindTransient},
	}
	for _, c := range cases {
		if got := FromStatusCode(c.status); got != c.want {
			t.Errorf("status %d: expected %s, got %s", c.status, c.want, got)
		}
	}
}
