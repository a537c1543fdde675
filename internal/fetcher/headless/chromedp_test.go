package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/harvester/internal/harvest"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	defer fetcher.Close()

	assert.NotNil(t, fetcher.tabs)
	assert.Equal(t, "body", fetcher.cfg.WaitSelector)
	assert.Equal(t, 45*time.Second, fetcher.cfg.NavigationTimeout)
}

func TestExtraHeadersJoinsRepeatedValues(t *testing.T) {
	t.Parallel()

	got := extraHeaders(http.Header{"Accept": {"text/html", "application/json"}, "X-Empty": nil})
	assert.Equal(t, network.Headers{"Accept": "text/html, application/json"}, got)
}

func TestDocumentMetaKeepsOnlyDocumentResponses(t *testing.T) {
	t.Parallel()

	doc := &documentMeta{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500},
	})
	status, header := doc.result()
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, header)

	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			Headers: network.Headers{"Retry-After": "30"},
		},
	})
	status, header = doc.result()
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "30", header.Get("Retry-After"))
}

func TestFetchBuilderErrorIsInvalidRequest(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{}, func(harvest.WorkItem) (harvest.Request, error) {
		return harvest.Request{}, errors.New("missing slug")
	})
	require.NoError(t, err)
	defer fetcher.Close()

	_, err = fetcher.Fetch(context.Background(), harvest.WorkItem{ID: "x"})
	assert.ErrorIs(t, err, harvest.ErrInvalidRequest)
}

func TestFetchWaitsForTabSlot(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{MaxParallel: 1}, func(item harvest.WorkItem) (harvest.Request, error) {
		return harvest.Request{URL: "https://example.com/" + item.ID}, nil
	})
	require.NoError(t, err)
	defer fetcher.Close()
	require.True(t, fetcher.tabs.TryAcquire(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fetcher.Fetch(ctx, harvest.WorkItem{ID: "x"})
	var terr *harvest.TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, context.Canceled)
}
