// Package headless implements harvest.Fetcher for JavaScript-rendered directory pages.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector is awaited before the DOM is captured. Defaults to "body".
	WaitSelector string
}

// Fetcher renders one page per attempt with headless Chrome.
type Fetcher struct {
	cfg         Config
	build       harvest.RequestBuilder
	tabs        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, build harvest.RequestBuilder) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	var tabs *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		build:       build,
		tabs:        tabs,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates to the item's URL and returns the rendered DOM with the document status.
func (f *Fetcher) Fetch(ctx context.Context, item harvest.WorkItem) (harvest.RawResponse, error) {
	if f.build == nil {
		return harvest.RawResponse{}, fmt.Errorf("%w: no request builder configured", harvest.ErrInvalidRequest)
	}
	req, err := f.build(item)
	if err != nil {
		return harvest.RawResponse{}, fmt.Errorf("%w: %v", harvest.ErrInvalidRequest, err)
	}
	if f.tabs != nil {
		if err := f.tabs.Acquire(ctx, 1); err != nil {
			return harvest.RawResponse{}, harvest.NewTransportError("headless slot", err)
		}
		defer f.tabs.Release(1)
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentMeta{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html string
	err = chromedp.Run(tabCtx,
		f.prepareTab(req.Header),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return harvest.RawResponse{}, harvest.NewTransportError("headless", err)
	}

	status, header := doc.result()
	return harvest.RawResponse{
		StatusCode: status,
		Header:     header,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) prepareTab(header http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(header) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(extraHeaders(header)).Do(ctx); err != nil {
			return fmt.Errorf("set headers: %w", err)
		}
		return nil
	})
}

// documentMeta records the status and headers of the top-level document response.
type documentMeta struct {
	mu     sync.Mutex
	status int
	header http.Header
}

func (d *documentMeta) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	header := make(http.Header, len(resp.Response.Headers))
	for key, value := range resp.Response.Headers {
		header.Set(key, fmt.Sprint(value))
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.header = header
	d.mu.Unlock()
}

// result reports 200 with empty headers when no document response was observed.
func (d *documentMeta) result() (int, http.Header) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == 0 {
		return http.StatusOK, http.Header{}
	}
	return d.status, d.header.Clone()
}

// extraHeaders folds repeated values the way a single HTTP header line would carry them.
func extraHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		if len(values) > 0 {
			out[key] = strings.Join(values, ", ")
		}
	}
	return out
}
