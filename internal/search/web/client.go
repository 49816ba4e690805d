package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/store-agent/backend/pkg/circuitbreaker"
	"github.com/store-agent/backend/pkg/logger"
)

const enrichConcurrency = 3

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
	Content string
	// Score is the provider relevance in [0, 1] when HasScore is set.
	Score    float64
	HasScore bool
}

type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

type Options struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxResults int
	// Enrich fetches each result page and fills Content with its body text.
	Enrich bool
}

type Client struct {
	provider   Provider
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	maxResults int
	enrich     bool
}

func NewClient(opts Options) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}

	httpClient := &http.Client{Timeout: opts.Timeout}

	var provider Provider
	switch opts.Provider {
	case "", "tavily":
		provider = NewTavilyProvider(opts.APIKey, opts.BaseURL, httpClient)
	case "serpapi":
		provider = NewSerpAPIProvider(opts.APIKey, opts.BaseURL, httpClient)
	case "html":
		provider = NewHTMLProvider(opts.BaseURL, httpClient)
	default:
		return nil, fmt.Errorf("unknown search provider %q", opts.Provider)
	}

	return NewClientWithProvider(provider, httpClient, opts.MaxResults, opts.Enrich), nil
}

func NewClientWithProvider(provider Provider, httpClient *http.Client, maxResults int, enrich bool) *Client {
	logger.Info("Web search client initialized",
		zap.String("provider", provider.Name()),
		zap.Int("max_results", maxResults),
	)

	return &Client{
		provider:   provider,
		httpClient: httpClient,
		cb: circuitbreaker.NewCircuitBreaker("web-search", circuitbreaker.Config{
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Logger:           logger.GetLogger(),
		}),
		maxResults: maxResults,
		enrich:     enrich,
	}
}

func (c *Client) Provider() string {
	return c.provider.Name()
}

// Search runs one provider query. maxResults <= 0 uses the configured default.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = c.maxResults
	}

	logger.Info("Performing web search",
		zap.String("provider", c.provider.Name()),
		zap.String("query", query),
	)

	results, err := circuitbreaker.ExecuteWithResult(ctx, c.cb, func() ([]SearchResult, error) {
		return c.provider.Search(ctx, query, maxResults)
	})
	if err != nil {
		return nil, err
	}

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	if c.enrich {
		c.enrichResults(ctx, results)
	}

	logger.Info("Web search completed", zap.Int("results", len(results)))

	return results, nil
}

// enrichResults fetches result pages in parallel. A failed page keeps its
// provider snippet.
func (c *Client) enrichResults(ctx context.Context, results []SearchResult) {
	var g errgroup.Group
	g.SetLimit(enrichConcurrency)
	for i := range results {
		g.Go(func() error {
			content, err := c.scrapeContent(ctx, results[i].URL)
			if err != nil {
				logger.Warn("Failed to scrape content", zap.String("url", results[i].URL), zap.Error(err))
				return nil
			}
			results[i].Content = content
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Client) scrapeContent(ctx context.Context, urlStr string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scrape returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")

	runes := []rune(text)
	if len(runes) > 3000 {
		text = string(runes[:3000])
	}

	return text, nil
}
