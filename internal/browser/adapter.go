// Package browser drives the companion desktop browser over its local REST
// API. The companion owns the actual browser; this adapter owns one cached
// active-tab id and translates high-level actions into companion calls.
package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"socialbrain/internal/domain"
)

// ErrUploadUnsupported marks file upload as unavailable over the companion
// REST surface. Callers must surface this, never swallow it.
var ErrUploadUnsupported = errors.New("file upload not supported over companion REST API")

// CompanionError carries the message the companion returned for a failed
// action.
type CompanionError struct {
	Message string
}

func (e *CompanionError) Error() string { return "companion: " + e.Message }

const (
	noTab = -1

	defaultClickTimeout    = 10 * time.Second
	defaultSelectorTimeout = 10 * time.Second
	defaultNavTimeout      = 30 * time.Second
	selectorPollInterval   = 200 * time.Millisecond
	navPollInterval        = 500 * time.Millisecond
	navSettleDelay         = time.Second
	defaultTypeDelay       = 50 * time.Millisecond
)

// PlatformSession describes one authenticated social account held by the
// companion.
type PlatformSession struct {
	Platform string `json:"platform"`
	Status   string `json:"status"`
	Account  string `json:"account,omitempty"`
}

// NavigateResult reports where a navigation landed and how long it took.
type NavigateResult struct {
	FinalURL   string `json:"final_url"`
	LoadTimeMs int64  `json:"load_time_ms"`
}

// Coordinates is a viewport point.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClickOptions bound the element wait before a click.
type ClickOptions struct {
	Timeout time.Duration
}

// TypeOptions control typing behavior.
type TypeOptions struct {
	Clear bool
	Delay time.Duration
}

// ScrollDirection names a scroll axis and sign.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// Adapter is safe for concurrent use; the active-tab cache is the only
// shared state.
type Adapter struct {
	BaseURL string
	HTTP    *http.Client
	Log     *zap.Logger

	// SleepFn is replaceable in tests; nil means real sleeping.
	SleepFn func(context.Context, time.Duration) error

	mu          sync.Mutex
	activeTabID int
}

func New(baseURL string, log *zap.Logger) *Adapter {
	return &Adapter{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		Log:         log,
		activeTabID: noTab,
	}
}

func (a *Adapter) sleep(ctx context.Context, d time.Duration) error {
	if a.SleepFn != nil {
		return a.SleepFn(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		// The companion reports failures as {"error": "..."} even on
		// non-2xx; prefer its message over a bare status code.
		var failure struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &failure); err == nil && failure.Error != "" {
			return &CompanionError{Message: failure.Error}
		}
		return &CompanionError{Message: fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Health reports whether the companion answers at all. Never errors.
func (a *Adapter) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

type tabsResponse struct {
	Tabs        []domain.TabInfo `json:"tabs"`
	ActiveTabID *int             `json:"activeTabId"`
}

func (a *Adapter) ListTabs(ctx context.Context) ([]domain.TabInfo, error) {
	var resp tabsResponse
	if err := a.do(ctx, http.MethodGet, "/tabs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tabs, nil
}

// SwitchTab focuses a tab and caches it as the active target.
func (a *Adapter) SwitchTab(ctx context.Context, tabID int) error {
	if err := a.do(ctx, http.MethodPost, "/tabs/focus", map[string]int{"id": tabID}, nil); err != nil {
		return err
	}
	a.mu.Lock()
	a.activeTabID = tabID
	a.mu.Unlock()
	return nil
}

// FindTabByDomain returns the first tab whose URL contains the domain, or
// nil when none matches.
func (a *Adapter) FindTabByDomain(ctx context.Context, domainPart string) (*domain.TabInfo, error) {
	tabs, err := a.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tabs {
		if strings.Contains(tabs[i].URL, domainPart) {
			return &tabs[i], nil
		}
	}
	return nil, nil
}

// PlatformSessions returns the companion's authenticated sessions; an
// unreachable companion reads as no sessions.
func (a *Adapter) PlatformSessions(ctx context.Context) []PlatformSession {
	var resp struct {
		Sessions []PlatformSession `json:"sessions"`
	}
	if err := a.do(ctx, http.MethodGet, "/sessions", nil, &resp); err != nil {
		return nil
	}
	return resp.Sessions
}

// activeTab resolves the target tab: cached id first, then the companion's
// active tab, then a fresh about:blank tab when none exist.
func (a *Adapter) activeTab(ctx context.Context) (int, error) {
	a.mu.Lock()
	cached := a.activeTabID
	a.mu.Unlock()
	if cached != noTab {
		return cached, nil
	}
	var resp tabsResponse
	if err := a.do(ctx, http.MethodGet, "/tabs", nil, &resp); err != nil {
		return 0, err
	}
	if len(resp.Tabs) > 0 && resp.ActiveTabID != nil {
		a.mu.Lock()
		a.activeTabID = *resp.ActiveTabID
		a.mu.Unlock()
		return *resp.ActiveTabID, nil
	}
	var created struct {
		ID int `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/tabs/create", map[string]string{"url": "about:blank"}, &created); err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.activeTabID = created.ID
	a.mu.Unlock()
	return created.ID, nil
}

// invalidateTab drops the cached id so the next call re-resolves. Called
// when a tab-scoped request fails, which usually means the tab was closed
// underneath us.
func (a *Adapter) invalidateTab() {
	a.mu.Lock()
	a.activeTabID = noTab
	a.mu.Unlock()
}

type executeResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
}

// Execute runs JavaScript in the active tab and returns the raw result.
func (a *Adapter) Execute(ctx context.Context, script string) (json.RawMessage, error) {
	tabID, err := a.activeTab(ctx)
	if err != nil {
		return nil, err
	}
	var resp executeResponse
	if err := a.do(ctx, http.MethodPost, "/tabs/execute", map[string]any{"id": tabID, "script": script}, &resp); err != nil {
		a.invalidateTab()
		return nil, err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "execute failed"
		}
		return nil, &CompanionError{Message: msg}
	}
	return resp.Result, nil
}

func (a *Adapter) executeString(ctx context.Context, script string) (string, error) {
	raw, err := a.Execute(ctx, script)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("expected string result: %w", err)
	}
	return s, nil
}

func escapeSelector(selector string) string {
	return strings.ReplaceAll(selector, "'", "\\'")
}

// ElementCoordinates resolves a selector to its center point via an in-page
// query.
func (a *Adapter) ElementCoordinates(ctx context.Context, selector string) (Coordinates, error) {
	script := fmt.Sprintf(`(function() {
  const el = document.querySelector('%s');
  if (!el) return null;
  const rect = el.getBoundingClientRect();
  return { x: rect.x + rect.width / 2, y: rect.y + rect.height / 2 };
})()`, escapeSelector(selector))
	raw, err := a.Execute(ctx, script)
	if err != nil {
		return Coordinates{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return Coordinates{}, fmt.Errorf("element not found: %s", selector)
	}
	var c Coordinates
	if err := json.Unmarshal(raw, &c); err != nil {
		return Coordinates{}, err
	}
	return c, nil
}

// Navigate loads a URL in the active tab, waits for it to settle, and
// reports the final URL the page landed on.
func (a *Adapter) Navigate(ctx context.Context, url string) (NavigateResult, error) {
	start := time.Now()
	tabID, err := a.activeTab(ctx)
	if err != nil {
		return NavigateResult{}, err
	}
	var resp executeResponse
	if err := a.do(ctx, http.MethodPost, "/tabs/navigate", map[string]any{"id": tabID, "url": url}, &resp); err != nil {
		a.invalidateTab()
		return NavigateResult{}, err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "navigation failed"
		}
		return NavigateResult{}, &CompanionError{Message: msg}
	}
	if err := a.sleep(ctx, navSettleDelay); err != nil {
		return NavigateResult{}, err
	}
	finalURL, err := a.executeString(ctx, "window.location.href")
	if err != nil {
		return NavigateResult{}, err
	}
	return NavigateResult{FinalURL: finalURL, LoadTimeMs: time.Since(start).Milliseconds()}, nil
}

// Click waits for the selector, scrolls it into view, re-resolves its
// coordinates, and clicks natively. Re-resolving matters: the scroll moves
// the element's viewport position.
func (a *Adapter) Click(ctx context.Context, selector string, opts ClickOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultClickTimeout
	}
	found, err := a.WaitForSelector(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("element not found within timeout: %s", selector)
	}
	if _, err := a.ElementCoordinates(ctx, selector); err != nil {
		return err
	}
	if err := a.ScrollToElement(ctx, selector); err != nil {
		return err
	}
	if err := a.sleep(ctx, 100*time.Millisecond); err != nil {
		return err
	}
	coords, err := a.ElementCoordinates(ctx, selector)
	if err != nil {
		return err
	}
	return a.ClickCoordinates(ctx, coords.X, coords.Y)
}

// ClickCoordinates performs a native click at a viewport point.
func (a *Adapter) ClickCoordinates(ctx context.Context, x, y float64) error {
	tabID, err := a.activeTab(ctx)
	if err != nil {
		return err
	}
	var resp executeResponse
	path := fmt.Sprintf("/tabs/click/%d", tabID)
	if err := a.do(ctx, http.MethodPost, path, map[string]int{"x": int(x + 0.5), "y": int(y + 0.5)}, &resp); err != nil {
		a.invalidateTab()
		return err
	}
	if !resp.Success {
		return &CompanionError{Message: "click failed"}
	}
	return nil
}

// Type focuses the element with a click, optionally clears it, then sends
// the text character by character with a per-character delay. Char-by-char
// keeps framework-controlled inputs (React et al.) in sync.
func (a *Adapter) Type(ctx context.Context, selector, text string, opts TypeOptions) error {
	tabID, err := a.activeTab(ctx)
	if err != nil {
		return err
	}
	if err := a.Click(ctx, selector, ClickOptions{}); err != nil {
		return err
	}
	if err := a.sleep(ctx, 100*time.Millisecond); err != nil {
		return err
	}
	if opts.Clear {
		script := fmt.Sprintf(`document.querySelector('%s').value = ''`, escapeSelector(selector))
		if _, err := a.Execute(ctx, script); err != nil {
			return err
		}
	}
	delay := opts.Delay
	if delay == 0 {
		delay = defaultTypeDelay
	}
	path := fmt.Sprintf("/tabs/type/%d", tabID)
	for _, ch := range text {
		if err := a.do(ctx, http.MethodPost, path, map[string]string{"text": string(ch)}, nil); err != nil {
			a.invalidateTab()
			return err
		}
		if delay > 0 {
			if err := a.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// TypeKeys sends named key presses (Enter, Tab, ...) in order.
func (a *Adapter) TypeKeys(ctx context.Context, keys []string) error {
	tabID, err := a.activeTab(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/tabs/key/%d", tabID)
	for _, key := range keys {
		if err := a.do(ctx, http.MethodPost, path, map[string]string{"key": key}, nil); err != nil {
			a.invalidateTab()
			return err
		}
		if err := a.sleep(ctx, 50*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// Scroll moves the page by amount pixels in the given direction.
func (a *Adapter) Scroll(ctx context.Context, direction ScrollDirection, amount int) error {
	var dx, dy int
	switch direction {
	case ScrollLeft:
		dx = -amount
	case ScrollRight:
		dx = amount
	case ScrollUp:
		dy = -amount
	case ScrollDown:
		dy = amount
	default:
		return fmt.Errorf("unknown scroll direction: %s", direction)
	}
	_, err := a.Execute(ctx, fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy))
	return err
}

func (a *Adapter) ScrollToElement(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(function() {
  const el = document.querySelector('%s');
  if (el) el.scrollIntoView({ behavior: 'smooth', block: 'center' });
})()`, escapeSelector(selector))
	_, err := a.Execute(ctx, script)
	return err
}

func (a *Adapter) ScrollToCoordinates(ctx context.Context, x, y int) error {
	_, err := a.Execute(ctx, fmt.Sprintf("window.scrollTo(%d, %d)", x, y))
	return err
}

// Select sets a select element's value and fires a change event.
func (a *Adapter) Select(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(function() {
  const el = document.querySelector('%s');
  if (el) {
    el.value = '%s';
    el.dispatchEvent(new Event('change', { bubbles: true }));
  }
})()`, escapeSelector(selector), escapeSelector(value))
	_, err := a.Execute(ctx, script)
	return err
}

// SelectMultiple sets the selected options of a multi-select.
func (a *Adapter) SelectMultiple(ctx context.Context, selector string, values []string) error {
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(function() {
  const el = document.querySelector('%s');
  if (el && el.options) {
    const values = %s;
    for (const option of el.options) {
      option.selected = values.includes(option.value);
    }
    el.dispatchEvent(new Event('change', { bubbles: true }));
  }
})()`, escapeSelector(selector), valuesJSON)
	_, err = a.Execute(ctx, script)
	return err
}

// UploadFile always fails: the companion REST surface has no file-transfer
// channel, and a silent no-op would let missions report phantom uploads.
func (a *Adapter) UploadFile(ctx context.Context, selector, filePath string) error {
	if a.Log != nil {
		a.Log.Warn("upload requested but unsupported",
			zap.String("selector", selector), zap.String("file", filePath))
	}
	return ErrUploadUnsupported
}

// Screenshot captures the active tab as base64-encoded PNG.
func (a *Adapter) Screenshot(ctx context.Context) (string, error) {
	tabID, err := a.activeTab(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/tabs/screenshot/%d", a.BaseURL, tabID), nil)
	if err != nil {
		return "", err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		a.invalidateTab()
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		a.invalidateTab()
		return "", &CompanionError{Message: fmt.Sprintf("screenshot: status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// HTML returns the full document markup of the active tab.
func (a *Adapter) HTML(ctx context.Context) (string, error) {
	return a.executeString(ctx, "document.documentElement.outerHTML")
}

// Evaluate runs an arbitrary expression and returns the raw JSON result.
func (a *Adapter) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	return a.Execute(ctx, script)
}

// WaitForSelector polls for the selector until it appears or the timeout
// lapses. A timeout is not an error: it returns (false, nil).
func (a *Adapter) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = defaultSelectorTimeout
	}
	script := fmt.Sprintf("!!document.querySelector('%s')", escapeSelector(selector))
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		raw, err := a.Execute(ctx, script)
		if err != nil {
			return false, err
		}
		var exists bool
		if json.Unmarshal(raw, &exists) == nil && exists {
			return true, nil
		}
		if err := a.sleep(ctx, selectorPollInterval); err != nil {
			return false, err
		}
	}
	return false, nil
}

// WaitForNavigation polls the page URL until it changes from its starting
// value. Timeout returns (false, nil), like WaitForSelector.
func (a *Adapter) WaitForNavigation(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}
	startURL, err := a.executeString(ctx, "window.location.href")
	if err != nil {
		return false, err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := a.sleep(ctx, navPollInterval); err != nil {
			return false, err
		}
		current, err := a.executeString(ctx, "window.location.href")
		if err != nil {
			return false, err
		}
		if current != startURL {
			// let the new page settle before handing control back
			if err := a.sleep(ctx, navPollInterval); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) Back(ctx context.Context) error {
	if _, err := a.Execute(ctx, "history.back()"); err != nil {
		return err
	}
	return a.sleep(ctx, 500*time.Millisecond)
}

func (a *Adapter) Forward(ctx context.Context) error {
	if _, err := a.Execute(ctx, "history.forward()"); err != nil {
		return err
	}
	return a.sleep(ctx, 500*time.Millisecond)
}

func (a *Adapter) Refresh(ctx context.Context) error {
	if _, err := a.Execute(ctx, "location.reload()"); err != nil {
		return err
	}
	return a.sleep(ctx, navSettleDelay)
}
