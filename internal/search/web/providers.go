package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/store-agent/backend/pkg/utils"
)

const (
	defaultTavilyURL  = "https://api.tavily.com"
	defaultSerpAPIURL = "https://serpapi.com"
	defaultHTMLURL    = "https://html.duckduckgo.com"
)

// TavilyProvider calls the Tavily search API with basic depth.
type TavilyProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewTavilyProvider(apiKey, baseURL string, httpClient *http.Client) *TavilyProvider {
	if baseURL == "" {
		baseURL = defaultTavilyURL
	}
	return &TavilyProvider{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (p *TavilyProvider) Name() string { return "tavily" }

func (p *TavilyProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]any{
		"query":        query,
		"search_depth": "basic",
		"max_results":  maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	var searchResp struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := doJSON(p.httpClient, req, &searchResp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(searchResp.Results))
	for _, r := range searchResp.Results {
		results = append(results, SearchResult{
			Title:    r.Title,
			URL:      r.URL,
			Snippet:  r.Content,
			Score:    r.Score,
			HasScore: true,
		})
	}
	return results, nil
}

// SerpAPIProvider reads organic results from SerpAPI.
type SerpAPIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewSerpAPIProvider(apiKey, baseURL string, httpClient *http.Client) *SerpAPIProvider {
	if baseURL == "" {
		baseURL = defaultSerpAPIURL
	}
	return &SerpAPIProvider{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (p *SerpAPIProvider) Name() string { return "serpapi" }

func (p *SerpAPIProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", p.apiKey)
	params.Add("num", strconv.Itoa(maxResults))
	params.Add("hl", "ko")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := doJSON(p.httpClient, req, &searchResp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return results, nil
}

// HTMLProvider scrapes the DuckDuckGo HTML results page. It needs no API key.
type HTMLProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTMLProvider(baseURL string, httpClient *http.Client) *HTMLProvider {
	if baseURL == "" {
		baseURL = defaultHTMLURL
	}
	return &HTMLProvider{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (p *HTMLProvider) Name() string { return "html" }

func (p *HTMLProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	searchURL := p.baseURL + "/html/?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	results := make([]SearchResult, 0)
	doc.Find("div.result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(results) >= maxResults {
			return false
		}

		link := s.Find("a.result__a")
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(s.Find(".result__snippet").Text())

		if title != "" && href != "" {
			results = append(results, SearchResult{Title: title, URL: href, Snippet: snippet})
		}
		return true
	})

	return results, nil
}

func doJSON(httpClient *http.Client, req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search returned status %d: %s", resp.StatusCode, utils.Truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
