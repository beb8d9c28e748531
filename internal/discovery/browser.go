package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"qaforge/internal/logging"
	"qaforge/internal/types"
)

// collectElementsJS gathers interactive elements after scripts have run, so
// client-rendered UIs expose what a plain HTTP fetch cannot see.
const collectElementsJS = `() => {
	const out = [];
	const label = (el) => (el.innerText || el.name || el.placeholder || el.getAttribute('aria-label') || '').trim().slice(0, 80);
	const selector = (el) => {
		if (el.id) return '#' + el.id;
		if (el.name) return el.tagName.toLowerCase() + '[name="' + el.name + '"]';
		return el.tagName.toLowerCase();
	};
	for (const el of document.querySelectorAll('form, input, button, select, textarea, a[href]')) {
		let kind = el.tagName.toLowerCase();
		if (kind === 'a') kind = 'link';
		if (kind === 'select' || kind === 'textarea') kind = 'input';
		if (kind === 'input' && el.type === 'hidden') continue;
		out.push({kind: kind, selector: selector(el), label: label(el)});
	}
	return out;
}`

// BrowserProber drives a headless browser against the target so that
// JavaScript-rendered surfaces are discoverable.
type BrowserProber struct {
	headless bool
	timeout  time.Duration
}

// NewBrowserProber creates a browser prober.
func NewBrowserProber(headless bool, timeout time.Duration) *BrowserProber {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserProber{headless: headless, timeout: timeout}
}

// Probe renders the base URL and returns the interactive elements found in
// the live DOM.
func (b *BrowserProber) Probe(ctx context.Context, baseURL string) ([]types.UIElement, error) {
	probeCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	controlURL, err := launcher.New().Headless(b.headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(probeCtx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: baseURL})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	res, err := page.Context(probeCtx).Evaluate(&rod.EvalOptions{JS: collectElementsJS})
	if err != nil {
		return nil, fmt.Errorf("collect elements: %w", err)
	}

	var elements []types.UIElement
	for _, item := range res.Value.Arr() {
		elements = append(elements, types.UIElement{
			Kind:     item.Get("kind").Str(),
			Selector: item.Get("selector").Str(),
			Label:    item.Get("label").Str(),
			PageURL:  baseURL,
		})
	}

	logging.Probe("browser probe of %s found %d elements", baseURL, len(elements))
	return elements, nil
}
