package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RetryPolicy bounds automatic retries of transient failures.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy retries once after a short pause.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 1, Delay: 200 * time.Millisecond}

// Call sends req and parses the reply with parse. Transport failures that
// are transient and parse failures are retried up to policy.MaxRetries
// times. It returns the parsed value and the number of attempts made.
func Call[T any](ctx context.Context, b Backend, req ChatRequest, policy RetryPolicy, parse func(string) (T, error)) (T, int, error) {
	var zero T
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 && policy.Delay > 0 {
			t := time.NewTimer(policy.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, attempts, ctx.Err()
			case <-t.C:
			}
		}
		attempts++

		resp, err := b.Chat(ctx, req)
		if err == nil {
			var v T
			v, err = parse(resp.Content)
			if err == nil {
				return v, attempts, nil
			}
			err = fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, attempts, ctx.Err()
		}
		if !IsTransient(err) {
			break
		}
	}
	return zero, attempts, lastErr
}

// ExtractJSON returns the JSON object embedded in a model reply, dropping
// markdown fences and any prose around it.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// DecodeJSON extracts and unmarshals the JSON object in content into v.
func DecodeJSON(content string, v any) error {
	raw := ExtractJSON(content)
	if raw == "" {
		return ErrEmpty
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
