// Package gemini implements harvest.Fetcher for AI/search sources backed by the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// Config selects the model and connection details.
type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
	// Search enables the Google Search grounding tool.
	Search bool
}

type generator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Fetcher sends the rendered request body as a prompt and returns the model's JSON answer.
type Fetcher struct {
	models generator
	model  string
	search bool
	build  harvest.RequestBuilder
}

// New creates a Gemini client.
func New(ctx context.Context, cfg Config, build harvest.RequestBuilder) (*Fetcher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini.api_key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("gemini.model is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newFetcher(client.Models, cfg, build), nil
}

func newFetcher(models generator, cfg Config, build harvest.RequestBuilder) *Fetcher {
	return &Fetcher{
		models: models,
		model:  strings.TrimSpace(cfg.Model),
		search: cfg.Search,
		build:  build,
	}
}

// Fetch performs one generation call. API errors become statuses so the HTTP classifier applies.
func (f *Fetcher) Fetch(ctx context.Context, item harvest.WorkItem) (harvest.RawResponse, error) {
	if f.build == nil {
		return harvest.RawResponse{}, fmt.Errorf("%w: no request builder configured", harvest.ErrInvalidRequest)
	}
	req, err := f.build(item)
	if err != nil {
		return harvest.RawResponse{}, fmt.Errorf("%w: %v", harvest.ErrInvalidRequest, err)
	}
	prompt := strings.TrimSpace(string(req.Body))
	if prompt == "" {
		return harvest.RawResponse{}, fmt.Errorf("%w: empty prompt", harvest.ErrInvalidRequest)
	}

	cfg := &genai.GenerateContentConfig{
		CandidateCount:   1,
		ResponseMIMEType: "application/json",
	}
	if f.search {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	start := time.Now()
	resp, err := f.models.GenerateContent(ctx, f.model, genai.Text(prompt), cfg)
	elapsed := time.Since(start)
	if err != nil {
		if raw, ok := responseFromAPIError(err); ok {
			raw.Duration = elapsed
			return raw, nil
		}
		return harvest.RawResponse{}, harvest.NewTransportError("gemini", err)
	}
	return harvest.RawResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(responseText(resp)),
		Duration:   elapsed,
	}, nil
}

// responseFromAPIError maps a Gemini API error onto the equivalent HTTP status.
func responseFromAPIError(err error) (harvest.RawResponse, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) || apiErrPtr == nil {
			return harvest.RawResponse{}, false
		}
		apiErr = *apiErrPtr
	}
	if apiErr.Code == 0 {
		return harvest.RawResponse{}, false
	}
	msg := apiErr.Message
	if apiErr.Status != "" {
		msg = apiErr.Status + ": " + msg
	}
	return harvest.RawResponse{
		StatusCode: apiErr.Code,
		Header:     http.Header{},
		Body:       []byte(msg),
	}, true
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	return strings.TrimSpace(resp.Text())
}
