// Live-mode HTTP plumbing shared by the capability handlers: bounded
// per-call timeouts, a single retry on transient server failures, and
// HTML title extraction for fetched pages.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	liveCallTimeout = 20 * time.Second
	maxBodyBytes    = 4 << 20
)

// retryDelay is a variable so tests can shorten the wait.
var retryDelay = 2 * time.Second

// errTransient marks a server-side failure that earned its one retry.
var errTransient = errors.New("transient provider error")

// liveCall issues an HTTP request with a per-call timeout, retrying
// exactly once on a 5xx response. Headers are applied to every attempt.
func liveCall(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	attempt := func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, liveCallTimeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(callCtx, method, url, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s returned %d", errTransient, url, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%s returned %d", url, resp.StatusCode)
		}
		return data, nil
	}

	data, err := attempt()
	if err != nil && errors.Is(err, errTransient) {
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		data, err = attempt()
	}
	return data, err
}

// pageTitle extracts the <title> text from an HTML document, if any.
func pageTitle(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// pageLinks extracts absolute http(s) hrefs from an HTML document.
func pageLinks(body []byte, limit int) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(links) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.HasPrefix(attr.Val, "http") {
					links = append(links, attr.Val)
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}
