package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func scriptedTransport(calls *int, errs ...error) roundTripFunc {
	return func(r *http.Request) (*http.Response, error) {
		i := *calls
		*calls++
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		return httptest.NewRecorder().Result(), nil
	}
}

func TestRobotsRequestFallsBackToAllowAll(t *testing.T) {
	t.Parallel()
	calls := 0
	rt := newRobotsTransport(scriptedTransport(&calls,
		context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded))
	rt.backoff = []time.Duration{time.Millisecond, time.Millisecond}

	resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, allowAllRobots, string(body))
	assert.True(t, rt.fellBack.Load())
	assert.Equal(t, 3, calls)
}

func TestRobotsRequestRecoversAfterTimeout(t *testing.T) {
	t.Parallel()
	calls := 0
	rt := newRobotsTransport(scriptedTransport(&calls, context.DeadlineExceeded))
	rt.backoff = []time.Duration{time.Millisecond}

	resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, 2, calls)
	assert.False(t, rt.fellBack.Load())
}

func TestRobotsRequestDoesNotRetryHardErrors(t *testing.T) {
	t.Parallel()
	calls := 0
	refused := errors.New("connection refused")
	rt := newRobotsTransport(scriptedTransport(&calls, refused))

	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.ErrorIs(t, err, refused)
	assert.Equal(t, 1, calls)
}

func TestRobotsTransportPassesOtherRequestsThrough(t *testing.T) {
	t.Parallel()
	calls := 0
	rt := newRobotsTransport(scriptedTransport(&calls, context.DeadlineExceeded))

	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/people/1", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
	assert.False(t, rt.fellBack.Load())
}
