// Package tools decodes and dispatches browser tool commands. Commands
// arrive as a name plus a JSON payload; each name owns a typed payload
// struct that is validated before anything touches the browser.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"socialbrain/internal/browser"
)

// Driver is the slice of the browser adapter the tool layer needs.
type Driver interface {
	Navigate(ctx context.Context, url string) (browser.NavigateResult, error)
	Click(ctx context.Context, selector string, opts browser.ClickOptions) error
	ClickCoordinates(ctx context.Context, x, y float64) error
	Type(ctx context.Context, selector, text string, opts browser.TypeOptions) error
	TypeKeys(ctx context.Context, keys []string) error
	Scroll(ctx context.Context, direction browser.ScrollDirection, amount int) error
	Select(ctx context.Context, selector, value string) error
	UploadFile(ctx context.Context, selector, filePath string) error
	Screenshot(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (json.RawMessage, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error)
}

// Command is the wire form of one tool invocation.
type Command struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result is what every tool returns: either OK with optional data, or a
// failure message. Unknown tools and bad payloads fail here, in-band, so a
// model-driven caller sees them as tool output rather than a dropped call.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func ok(data any) Result { return Result{OK: true, Data: data} }

func fail(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

type navigatePayload struct {
	URL string `json:"url"`
}

type clickPayload struct {
	Selector  string `json:"selector"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

type clickXYPayload struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type typeTextPayload struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Clear    bool   `json:"clear,omitempty"`
	DelayMs  int64  `json:"delay_ms,omitempty"`
}

type pressKeysPayload struct {
	Keys []string `json:"keys"`
}

type scrollPayload struct {
	Direction string `json:"direction"`
	Amount    int    `json:"amount"`
}

type selectPayload struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type uploadPayload struct {
	Selector string `json:"selector"`
	Path     string `json:"path"`
}

type evaluatePayload struct {
	Script string `json:"script"`
}

type waitForSelectorPayload struct {
	Selector  string `json:"selector"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

// Runner dispatches commands onto a driver.
type Runner struct {
	Driver Driver
}

func decode[T any](payload json.RawMessage, out *T) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

// Run executes one command. It never returns a Go error: every failure,
// including unknown command names, lands in the Result.
func (r Runner) Run(ctx context.Context, cmd Command) Result {
	switch cmd.Name {
	case "navigate":
		var p navigatePayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("navigate: %v", err)
		}
		if p.URL == "" {
			return fail("navigate: url is required")
		}
		res, err := r.Driver.Navigate(ctx, p.URL)
		if err != nil {
			return fail("navigate: %v", err)
		}
		return ok(res)

	case "click":
		var p clickPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("click: %v", err)
		}
		if p.Selector == "" {
			return fail("click: selector is required")
		}
		opts := browser.ClickOptions{Timeout: time.Duration(p.TimeoutMs) * time.Millisecond}
		if err := r.Driver.Click(ctx, p.Selector, opts); err != nil {
			return fail("click: %v", err)
		}
		return ok(nil)

	case "click_xy":
		var p clickXYPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("click_xy: %v", err)
		}
		if p.X == nil || p.Y == nil {
			return fail("click_xy: x and y are required")
		}
		if err := r.Driver.ClickCoordinates(ctx, *p.X, *p.Y); err != nil {
			return fail("click_xy: %v", err)
		}
		return ok(nil)

	case "type_text":
		var p typeTextPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("type_text: %v", err)
		}
		if p.Selector == "" {
			return fail("type_text: selector is required")
		}
		opts := browser.TypeOptions{Clear: p.Clear, Delay: time.Duration(p.DelayMs) * time.Millisecond}
		if err := r.Driver.Type(ctx, p.Selector, p.Text, opts); err != nil {
			return fail("type_text: %v", err)
		}
		return ok(nil)

	case "press_keys":
		var p pressKeysPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("press_keys: %v", err)
		}
		if len(p.Keys) == 0 {
			return fail("press_keys: keys are required")
		}
		if err := r.Driver.TypeKeys(ctx, p.Keys); err != nil {
			return fail("press_keys: %v", err)
		}
		return ok(nil)

	case "scroll":
		var p scrollPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("scroll: %v", err)
		}
		if p.Amount <= 0 {
			return fail("scroll: amount must be positive")
		}
		if err := r.Driver.Scroll(ctx, browser.ScrollDirection(p.Direction), p.Amount); err != nil {
			return fail("scroll: %v", err)
		}
		return ok(nil)

	case "select_option":
		var p selectPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("select_option: %v", err)
		}
		if p.Selector == "" || p.Value == "" {
			return fail("select_option: selector and value are required")
		}
		if err := r.Driver.Select(ctx, p.Selector, p.Value); err != nil {
			return fail("select_option: %v", err)
		}
		return ok(nil)

	case "upload_file":
		var p uploadPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("upload_file: %v", err)
		}
		if p.Selector == "" || p.Path == "" {
			return fail("upload_file: selector and path are required")
		}
		if err := r.Driver.UploadFile(ctx, p.Selector, p.Path); err != nil {
			return fail("upload_file: %v", err)
		}
		return ok(nil)

	case "screenshot":
		data, err := r.Driver.Screenshot(ctx)
		if err != nil {
			return fail("screenshot: %v", err)
		}
		return ok(data)

	case "get_html":
		html, err := r.Driver.HTML(ctx)
		if err != nil {
			return fail("get_html: %v", err)
		}
		return ok(html)

	case "evaluate":
		var p evaluatePayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("evaluate: %v", err)
		}
		if p.Script == "" {
			return fail("evaluate: script is required")
		}
		raw, err := r.Driver.Evaluate(ctx, p.Script)
		if err != nil {
			return fail("evaluate: %v", err)
		}
		var value any
		_ = json.Unmarshal(raw, &value)
		return ok(value)

	case "wait_for_selector":
		var p waitForSelectorPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return fail("wait_for_selector: %v", err)
		}
		if p.Selector == "" {
			return fail("wait_for_selector: selector is required")
		}
		found, err := r.Driver.WaitForSelector(ctx, p.Selector, time.Duration(p.TimeoutMs)*time.Millisecond)
		if err != nil {
			return fail("wait_for_selector: %v", err)
		}
		return ok(found)

	default:
		return fail("unknown tool: %s", cmd.Name)
	}
}
