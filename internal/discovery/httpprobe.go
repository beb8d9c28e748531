package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"qaforge/internal/logging"
	"qaforge/internal/types"
)

// healthPaths are probed unconditionally; a 2xx answer means the target
// exposes the endpoint.
var healthPaths = []string{"/health", "/status", "/ping", "/api/health"}

// HTTPProber crawls a target over plain HTTP and extracts its surface:
// pages, interactive elements, forms, and well-known endpoints.
type HTTPProber struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int64
	maxPages    int
}

// NewHTTPProber creates a prober. timeout bounds each individual request.
func NewHTTPProber(timeout time.Duration, concurrency, maxPages int) *HTTPProber {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	if maxPages <= 0 {
		maxPages = 10
	}
	return &HTTPProber{
		client:      &http.Client{Timeout: timeout},
		timeout:     timeout,
		concurrency: int64(concurrency),
		maxPages:    maxPages,
	}
}

// Probe fetches the base URL, crawls same-host links up to the page budget,
// and probes well-known endpoints. An unreachable base URL is an error;
// failures on individual pages become surface warnings instead.
func (p *HTTPProber) Probe(ctx context.Context, baseURL string) (*types.DiscoveredSurface, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	surface := &types.DiscoveredSurface{BaseURL: baseURL}

	// The base page decides reachability for the whole run.
	elements, links, endpoints, err := p.fetchPage(ctx, baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("base URL unreachable: %w", err)
	}
	surface.Elements = append(surface.Elements, elements...)
	surface.Endpoints = append(surface.Endpoints, endpoints...)

	var mu sync.Mutex
	visited := map[string]bool{canonicalURL(baseURL): true}
	sem := semaphore.NewWeighted(p.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	var crawl []string
	for _, link := range links {
		resolved := resolveLink(base, link)
		if resolved == "" || visited[canonicalURL(resolved)] {
			continue
		}
		visited[canonicalURL(resolved)] = true
		crawl = append(crawl, resolved)
		if len(crawl) >= p.maxPages-1 {
			break
		}
	}

	for _, pageURL := range crawl {
		pageURL := pageURL
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			els, _, eps, err := p.fetchPage(gctx, baseURL, pageURL)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				surface.Warnings = append(surface.Warnings, fmt.Sprintf("page probe failed: %s: %v", pageURL, err))
				return nil
			}
			surface.Elements = append(surface.Elements, els...)
			surface.Endpoints = append(surface.Endpoints, eps...)
			return nil
		})
	}

	for _, hp := range healthPaths {
		hp := hp
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			status, err := p.head(gctx, base.ResolveReference(&url.URL{Path: hp}).String())
			if err != nil || status >= 400 {
				return nil
			}
			mu.Lock()
			surface.Endpoints = append(surface.Endpoints, types.Endpoint{
				Method:     "GET",
				Path:       hp,
				StatusCode: status,
			})
			mu.Unlock()
			return nil
		})
	}

	g.Wait()

	surface.Endpoints = dedupeEndpoints(surface.Endpoints)
	logging.Probe("probed %s: %d endpoints, %d elements, %d warnings",
		baseURL, len(surface.Endpoints), len(surface.Elements), len(surface.Warnings))
	return surface, nil
}

// fetchPage retrieves one page and extracts elements, same-document links,
// and form endpoints.
func (p *HTTPProber) fetchPage(ctx context.Context, baseURL, pageURL string) ([]types.UIElement, []string, []types.Endpoint, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, nil, nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "html") {
		// Non-HTML answers still prove the endpoint exists.
		u, _ := url.Parse(pageURL)
		path := "/"
		if u != nil && u.Path != "" {
			path = u.Path
		}
		return nil, nil, []types.Endpoint{{Method: "GET", Path: path, StatusCode: resp.StatusCode}}, nil
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse html: %w", err)
	}
	elements, links, endpoints := extractFromDOM(doc, pageURL)
	return elements, links, endpoints, nil
}

func (p *HTTPProber) head(ctx context.Context, target string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// extractFromDOM walks a parsed HTML tree collecting interactive elements,
// hyperlinks, and form submission endpoints.
func extractFromDOM(doc *html.Node, pageURL string) ([]types.UIElement, []string, []types.Endpoint) {
	var (
		elements  []types.UIElement
		links     []string
		endpoints []types.Endpoint
	)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form":
				action := attr(n, "action")
				method := strings.ToUpper(attr(n, "method"))
				if method == "" {
					method = "GET"
				}
				elements = append(elements, types.UIElement{
					Kind:     "form",
					Selector: selectorFor(n),
					Label:    attr(n, "name"),
					PageURL:  pageURL,
				})
				if action != "" {
					endpoints = append(endpoints, types.Endpoint{Method: method, Path: action})
				}
			case "input":
				if attr(n, "type") == "hidden" {
					break
				}
				elements = append(elements, types.UIElement{
					Kind:     "input",
					Selector: selectorFor(n),
					Label:    firstNonEmpty(attr(n, "name"), attr(n, "placeholder"), attr(n, "type")),
					PageURL:  pageURL,
				})
			case "button":
				elements = append(elements, types.UIElement{
					Kind:     "button",
					Selector: selectorFor(n),
					Label:    firstNonEmpty(textContent(n), attr(n, "name")),
					PageURL:  pageURL,
				})
			case "a":
				href := attr(n, "href")
				if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
					links = append(links, href)
					elements = append(elements, types.UIElement{
						Kind:     "link",
						Selector: selectorFor(n),
						Label:    textContent(n),
						PageURL:  pageURL,
					})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return elements, links, endpoints
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// selectorFor builds a best-effort CSS selector for an element.
func selectorFor(n *html.Node) string {
	if id := attr(n, "id"); id != "" {
		return "#" + id
	}
	if name := attr(n, "name"); name != "" {
		return fmt.Sprintf("%s[name=%q]", n.Data, name)
	}
	if class := attr(n, "class"); class != "" {
		first := strings.Fields(class)
		if len(first) > 0 {
			return n.Data + "." + first[0]
		}
	}
	return n.Data
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			walk(gc)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveLink resolves href against the base and keeps same-host pages only.
func resolveLink(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Host != base.Host {
		return ""
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

func canonicalURL(s string) string {
	return strings.TrimSuffix(s, "/")
}

func dedupeEndpoints(eps []types.Endpoint) []types.Endpoint {
	seen := make(map[string]int)
	out := make([]types.Endpoint, 0, len(eps))
	for _, ep := range eps {
		key := ep.Method + " " + ep.Path
		if idx, ok := seen[key]; ok {
			// Spec-declared entries win on metadata; keep observed status.
			if ep.FromSpec && !out[idx].FromSpec {
				ep.StatusCode = out[idx].StatusCode
				out[idx] = ep
			} else if ep.StatusCode != 0 && out[idx].StatusCode == 0 {
				out[idx].StatusCode = ep.StatusCode
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, ep)
	}
	return out
}
