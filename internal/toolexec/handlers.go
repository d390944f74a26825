// Capability handlers: web search/fetch/crawl, synthetic data and the
// payments probe. Media handlers live in media.go.
package toolexec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// Capability identifiers with dedicated handlers.
const (
	CapWebSearch      = "web.search"
	CapWebFetch       = "web.fetch"
	CapCrawlSite      = "crawl.site"
	CapDataSynthesize = "data.synthesize"
	CapPaymentsTest   = "payments.test"
	CapAudioRender    = "audio.render"
	CapVideoRender    = "video.render"
	CapChartRender    = "chart.render"
)

// DefaultRegistry returns a registry with every built-in handler bound.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(WebSearchHandler{})
	r.Register(WebFetchHandler{})
	r.Register(CrawlSiteHandler{})
	r.Register(DataSynthesizeHandler{})
	r.Register(PaymentsTestHandler{})
	r.Register(AudioRenderHandler{})
	r.Register(VideoRenderHandler{})
	r.Register(ChartRenderHandler{})
	return r
}

// writeArtifact writes one named artifact into the invocation's
// directory and returns its path.
func writeArtifact(inv Invocation, name string, data []byte) (string, error) {
	path := filepath.Join(inv.ArtifactDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", name, err)
	}
	return path, nil
}

// deterministicID derives a stable identifier from seed parts, so test
// mode produces identical records on every run.
func deterministicID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func inputString(inv Invocation, key, fallback string) string {
	if v, ok := inv.Tool.InputSpec[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func inputInt(inv Invocation, key string, fallback int) int {
	if v, ok := inv.Tool.InputSpec[key].(float64); ok && v > 0 {
		return int(v)
	}
	return fallback
}

// WebSearchHandler resolves a query to ranked results. Test mode
// derives deterministic results from the query; live mode calls the
// Brave search API.
type WebSearchHandler struct{}

func (WebSearchHandler) Capability() string { return CapWebSearch }

func (WebSearchHandler) Execute(ctx context.Context, inv Invocation) ([]string, map[string]interface{}, error) {
	query := inputString(inv, "query", inv.Tool.Purpose)
	count := inputInt(inv, "count", 3)

	var results []map[string]interface{}
	if inv.TestMode {
		for i := 0; i < count; i++ {
			id := deterministicID(query, fmt.Sprint(i))
			results = append(results, map[string]interface{}{
				"title": fmt.Sprintf("Result %d for %q", i+1, query),
				"url":   fmt.Sprintf("https://example.com/%s", id),
				"rank":  i + 1,
			})
		}
	} else {
		key := inv.Credentials.GetAPIKey("brave")
		if key == "" {
			return nil, nil, fmt.Errorf("%w: brave search key for %s", ErrCredentialMissing, CapWebSearch)
		}
		endpoint := "https://api.search.brave.com/res/v1/web/search?q=" + url.QueryEscape(query)
		body, err := liveCall(ctx, inv.HTTP, "GET", endpoint, nil, map[string]string{
			"X-Subscription-Token": key,
			"Accept":               "application/json",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("search call: %w", err)
		}
		var parsed struct {
			Web struct {
				Results []struct {
					Title string `json:"title"`
					URL   string `json:"url"`
				} `json:"results"`
			} `json:"web"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, nil, fmt.Errorf("parsing search response: %w", err)
		}
		for i, r := range parsed.Web.Results {
			if i >= count {
				break
			}
			results = append(results, map[string]interface{}{
				"title": inv.Redactor.Redact(r.Title),
				"url":   r.URL,
				"rank":  i + 1,
			})
		}
	}

	doc, _ := json.MarshalIndent(map[string]interface{}{"query": query, "results": results}, "", "  ")
	path, err := writeArtifact(inv, "search.json", doc)
	if err != nil {
		return nil, nil, err
	}
	return []string{path}, map[string]interface{}{"query": query, "result_count": len(results)}, nil
}

// WebFetchHandler retrieves a single page and records its title.
type WebFetchHandler struct{}

func (WebFetchHandler) Capability() string { return CapWebFetch }

func (WebFetchHandler) Execute(ctx context.Context, inv Invocation) ([]string, map[string]interface{}, error) {
	target := inputString(inv, "url", "")
	if target == "" {
		return nil, nil, fmt.Errorf("web.fetch requires input_spec.url")
	}
	return fetchPage(ctx, inv, target, "page.html")
}

// fetchPage fetches one URL (or synthesizes a page in test mode) and
// writes it as an artifact.
func fetchPage(ctx context.Context, inv Invocation, target, artifactName string) ([]string, map[string]interface{}, error) {
	var body []byte
	if inv.TestMode {
		id := deterministicID(target)
		body = []byte(fmt.Sprintf(
			"<html><head><title>Offline page %s</title></head><body><p>%s</p></body></html>", id, target))
	} else {
		fetched, err := liveCall(ctx, inv.HTTP, "GET", target, nil, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching %s: %w", target, err)
		}
		body = []byte(inv.Redactor.Redact(string(fetched)))
	}

	path, err := writeArtifact(inv, artifactName, body)
	if err != nil {
		return nil, nil, err
	}
	return []string{path}, map[string]interface{}{
		"url":   target,
		"title": pageTitle(body),
		"bytes": len(body),
	}, nil
}

// CrawlSiteHandler walks a site from a start URL up to a page budget.
// If the live crawl fails irrecoverably it degrades to a single-page
// fetch and marks the outputs as a fallback.
type CrawlSiteHandler struct{}

func (CrawlSiteHandler) Capability() string { return CapCrawlSite }

func (h CrawlSiteHandler) Execute(ctx context.Context, inv Invocation) ([]string, map[string]interface{}, error) {
	start := inputString(inv, "url", "")
	if start == "" {
		return nil, nil, fmt.Errorf("crawl.site requires input_spec.url")
	}
	maxPages := inputInt(inv, "max_pages", 3)

	if inv.TestMode {
		var artifacts []string
		for i := 0; i < maxPages; i++ {
			pageURL := fmt.Sprintf("%s/page-%d", start, i)
			paths, _, err := fetchPage(ctx, inv, pageURL, fmt.Sprintf("crawl-%02d.html", i))
			if err != nil {
				return nil, nil, err
			}
			artifacts = append(artifacts, paths...)
		}
		return artifacts, map[string]interface{}{"start_url": start, "pages": maxPages, "fallback": false}, nil
	}

	artifacts, pages, err := h.crawl(ctx, inv, start, maxPages)
	if err == nil {
		return artifacts, map[string]interface{}{"start_url": start, "pages": pages, "fallback": false}, nil
	}

	// Degrade to a single-page fetch rather than failing the request.
	paths, outputs, ferr := fetchPage(ctx, inv, start, "crawl-fallback.html")
	if ferr != nil {
		return nil, nil, fmt.Errorf("crawl failed (%v) and fallback fetch failed: %w", err, ferr)
	}
	outputs["fallback"] = true
	outputs["fallback_reason"] = err.Error()
	return paths, outputs, nil
}

func (CrawlSiteHandler) crawl(ctx context.Context, inv Invocation, start string, maxPages int) ([]string, int, error) {
	queue := []string{start}
	seen := map[string]bool{start: true}
	var artifacts []string

	for i := 0; i < maxPages && len(queue) > 0; i++ {
		target := queue[0]
		queue = queue[1:]

		body, err := liveCall(ctx, inv.HTTP, "GET", target, nil, nil)
		if err != nil {
			if i == 0 {
				return nil, 0, fmt.Errorf("fetching start page: %w", err)
			}
			continue
		}
		body = []byte(inv.Redactor.Redact(string(body)))

		path, err := writeArtifact(inv, fmt.Sprintf("crawl-%02d.html", i), body)
		if err != nil {
			return nil, 0, err
		}
		artifacts = append(artifacts, path)

		for _, link := range pageLinks(body, maxPages) {
			if !seen[link] {
				seen[link] = true
				queue = append(queue, link)
			}
		}
	}
	return artifacts, len(artifacts), nil
}

// DataSynthesizeHandler generates synthetic records with deterministic
// derived identifiers. Fully local in both modes.
type DataSynthesizeHandler struct{}

func (DataSynthesizeHandler) Capability() string { return CapDataSynthesize }

func (DataSynthesizeHandler) Execute(_ context.Context, inv Invocation) ([]string, map[string]interface{}, error) {
	count := inputInt(inv, "count", 10)
	schema := inputString(inv, "schema", "generic")

	records := make([]map[string]interface{}, count)
	for i := 0; i < count; i++ {
		id := deterministicID(inv.Tenant, schema, fmt.Sprint(i))
		records[i] = map[string]interface{}{
			"id":     id,
			"schema": schema,
			"index":  i,
			"name":   fmt.Sprintf("%s-record-%s", schema, id[:6]),
		}
	}

	doc, _ := json.MarshalIndent(records, "", "  ")
	path, err := writeArtifact(inv, "records.json", doc)
	if err != nil {
		return nil, nil, err
	}
	return []string{path}, map[string]interface{}{"schema": schema, "record_count": count}, nil
}

// PaymentsTestHandler exercises a payment flow. Test mode produces a
// deterministic receipt; live mode requires the provider credential and
// creates a real (sandbox) payment intent.
type PaymentsTestHandler struct{}

func (PaymentsTestHandler) Capability() string { return CapPaymentsTest }

func (PaymentsTestHandler) Execute(ctx context.Context, inv Invocation) ([]string, map[string]interface{}, error) {
	amountCents := inputInt(inv, "amount_cents", 100)
	currency := inputString(inv, "currency", "usd")

	var receipt map[string]interface{}
	if inv.TestMode {
		receipt = map[string]interface{}{
			"intent_id":    "pi_test_" + deterministicID(inv.Tenant, fmt.Sprint(amountCents), currency),
			"amount_cents": amountCents,
			"currency":     currency,
			"status":       "succeeded",
			"live":         false,
		}
	} else {
		key := inv.Credentials.GetAPIKey("stripe")
		if key == "" {
			return nil, nil, fmt.Errorf("%w: stripe key for %s", ErrCredentialMissing, CapPaymentsTest)
		}
		form := url.Values{}
		form.Set("amount", fmt.Sprint(amountCents))
		form.Set("currency", currency)
		form.Set("automatic_payment_methods[enabled]", "true")
		body, err := liveCall(ctx, inv.HTTP, "POST", "https://api.stripe.com/v1/payment_intents",
			[]byte(form.Encode()), map[string]string{
				"Authorization": "Bearer " + key,
				"Content-Type":  "application/x-www-form-urlencoded",
			})
		if err != nil {
			return nil, nil, fmt.Errorf("payment intent call: %w", err)
		}
		var parsed struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, nil, fmt.Errorf("parsing payment response: %w", err)
		}
		receipt = map[string]interface{}{
			"intent_id":    parsed.ID,
			"amount_cents": amountCents,
			"currency":     currency,
			"status":       parsed.Status,
			"live":         true,
		}
	}

	doc, _ := json.MarshalIndent(receipt, "", "  ")
	path, err := writeArtifact(inv, "receipt.json", doc)
	if err != nil {
		return nil, nil, err
	}
	return []string{path}, receipt, nil
}
