package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialbrain/internal/browser"
	"socialbrain/internal/tools"
)

// fakeDriver records calls and plays back scripted responses.
type fakeDriver struct {
	calls     []string
	evalRaw   json.RawMessage
	waitFound bool
	err       error
}

func (f *fakeDriver) record(name string) { f.calls = append(f.calls, name) }

func (f *fakeDriver) Navigate(_ context.Context, url string) (browser.NavigateResult, error) {
	f.record("navigate " + url)
	return browser.NavigateResult{FinalURL: url, LoadTimeMs: 42}, f.err
}
func (f *fakeDriver) Click(_ context.Context, selector string, _ browser.ClickOptions) error {
	f.record("click " + selector)
	return f.err
}
func (f *fakeDriver) ClickCoordinates(_ context.Context, x, y float64) error {
	f.record("click_xy")
	return f.err
}
func (f *fakeDriver) Type(_ context.Context, selector, text string, _ browser.TypeOptions) error {
	f.record("type " + selector + " " + text)
	return f.err
}
func (f *fakeDriver) TypeKeys(_ context.Context, keys []string) error {
	f.record("keys")
	return f.err
}
func (f *fakeDriver) Scroll(_ context.Context, d browser.ScrollDirection, amount int) error {
	f.record("scroll " + string(d))
	return f.err
}
func (f *fakeDriver) Select(_ context.Context, selector, value string) error {
	f.record("select")
	return f.err
}
func (f *fakeDriver) UploadFile(_ context.Context, selector, path string) error {
	f.record("upload")
	return browser.ErrUploadUnsupported
}
func (f *fakeDriver) Screenshot(_ context.Context) (string, error) {
	f.record("screenshot")
	return "cGln", f.err
}
func (f *fakeDriver) HTML(_ context.Context) (string, error) {
	f.record("html")
	return "<html></html>", f.err
}
func (f *fakeDriver) Evaluate(_ context.Context, script string) (json.RawMessage, error) {
	f.record("evaluate")
	return f.evalRaw, f.err
}
func (f *fakeDriver) WaitForSelector(_ context.Context, selector string, _ time.Duration) (bool, error) {
	f.record("wait " + selector)
	return f.waitFound, f.err
}

func run(t *testing.T, d tools.Driver, name, payload string) tools.Result {
	t.Helper()
	cmd := tools.Command{Name: name}
	if payload != "" {
		cmd.Payload = json.RawMessage(payload)
	}
	return tools.Runner{Driver: d}.Run(context.Background(), cmd)
}

func TestUnknownTool(t *testing.T) {
	res := run(t, &fakeDriver{}, "teleport", "")
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "unknown tool: teleport")
}

func TestPayloadValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"navigate", `{}`, "url is required"},
		{"click", `{"timeout_ms":5}`, "selector is required"},
		{"click_xy", `{"x":10}`, "x and y are required"},
		{"type_text", `{"text":"hi"}`, "selector is required"},
		{"press_keys", `{"keys":[]}`, "keys are required"},
		{"scroll", `{"direction":"down"}`, "amount must be positive"},
		{"select_option", `{"selector":"#s"}`, "selector and value are required"},
		{"upload_file", `{"path":"/tmp/f"}`, "selector and path are required"},
		{"evaluate", `{}`, "script is required"},
		{"wait_for_selector", `{}`, "selector is required"},
		{"click", `{"selector":123}`, "click:"},
	}
	for _, tc := range cases {
		t.Run(tc.name+" "+tc.wantErr, func(t *testing.T) {
			d := &fakeDriver{}
			res := run(t, d, tc.name, tc.payload)
			assert.False(t, res.OK)
			assert.Contains(t, res.Error, tc.wantErr)
			assert.Empty(t, d.calls, "driver must not be touched on invalid payload")
		})
	}
}

func TestDispatch(t *testing.T) {
	d := &fakeDriver{evalRaw: json.RawMessage(`{"count":3}`), waitFound: true}

	res := run(t, d, "navigate", `{"url":"https://linkedin.com"}`)
	require.True(t, res.OK)
	nav, ok := res.Data.(browser.NavigateResult)
	require.True(t, ok)
	assert.Equal(t, "https://linkedin.com", nav.FinalURL)

	res = run(t, d, "click", `{"selector":"#post"}`)
	assert.True(t, res.OK)

	res = run(t, d, "click_xy", `{"x":10,"y":0}`)
	assert.True(t, res.OK)

	res = run(t, d, "evaluate", `{"script":"count()"}`)
	require.True(t, res.OK)
	assert.Equal(t, map[string]any{"count": float64(3)}, res.Data)

	res = run(t, d, "wait_for_selector", `{"selector":"#done","timeout_ms":100}`)
	require.True(t, res.OK)
	assert.Equal(t, true, res.Data)

	res = run(t, d, "screenshot", "")
	require.True(t, res.OK)
	assert.Equal(t, "cGln", res.Data)

	res = run(t, d, "get_html", "")
	require.True(t, res.OK)
}

func TestDriverErrorsSurfaceInBand(t *testing.T) {
	d := &fakeDriver{err: errors.New("companion: tab closed")}
	res := run(t, d, "click", `{"selector":"#gone"}`)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "tab closed")
}

func TestUploadAlwaysFails(t *testing.T) {
	res := run(t, &fakeDriver{}, "upload_file", `{"selector":"input","path":"/tmp/v.mp4"}`)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "not supported")
}
