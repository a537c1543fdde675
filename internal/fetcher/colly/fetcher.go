// Package collyfetcher implements harvest.Fetcher for HTTP sources using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher performs one HTTP attempt per call using a cloned Colly collector.
type Fetcher struct {
	cfg           Config
	build         harvest.RequestBuilder
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher that renders each work item with build.
func New(cfg Config, build harvest.RequestBuilder, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	// Non-2xx responses must reach the classifier as statuses, not as errors.
	c.ParseHTTPErrorResponse = true
	c.AllowURLRevisit = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		build:         build,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single request for item.
func (f *Fetcher) Fetch(ctx context.Context, item harvest.WorkItem) (harvest.RawResponse, error) {
	if f.build == nil {
		return harvest.RawResponse{}, fmt.Errorf("%w: no request builder configured", harvest.ErrInvalidRequest)
	}
	req, err := f.build(item)
	if err != nil {
		return harvest.RawResponse{}, fmt.Errorf("%w: %v", harvest.ErrInvalidRequest, err)
	}
	var (
		result   harvest.RawResponse
		fetchErr error
	)
	start := time.Now()
	collector, robots := f.buildCollector(start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, req, &fetchErr); err != nil {
		return harvest.RawResponse{}, err
	}
	if robots != nil && robots.fellBack.Load() {
		f.logger.Warn("Robots.txt timed out; allowing all", zap.String("item_id", item.ID))
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	start time.Time,
	result *harvest.RawResponse,
	fetchErr *error,
) (*colly.Collector, *robotsTransport) {
	collector := f.baseCollector.Clone()
	collector.ParseHTTPErrorResponse = true
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var robots *robotsTransport
	if f.cfg.RespectRobots {
		robots = newRobotsTransport(f.transport)
		collector.WithTransport(robots)
	} else {
		collector.WithTransport(f.transport)
	}

	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector, robots
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *harvest.RawResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = harvest.RawResponse{
			StatusCode: r.StatusCode,
			Header:     headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	req harvest.Request,
	fetchErr *error,
) error {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, req.URL, body, nil, req.Header.Clone())
	}()

	select {
	case <-ctx.Done():
		return harvest.NewTransportError("colly", ctx.Err())
	case err := <-done:
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			// Disallowed paths stay disallowed; retrying would never end.
			return fmt.Errorf("%w: %w", harvest.ErrInvalidRequest, err)
		}
		if err != nil {
			return harvest.NewTransportError("colly request", err)
		}
		if *fetchErr != nil {
			return harvest.NewTransportError("colly response", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
