package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Send is a compatibility shim for callers still speaking the debugging
// protocol. Only the four methods the legacy tool layer used are mapped;
// anything else yields an error payload in the result, never a Go error,
// because legacy callers inspect the payload instead of handling failures.
func (a *Adapter) Send(ctx context.Context, method string, params map[string]any) map[string]any {
	switch method {
	case "Runtime.evaluate":
		expression, _ := params["expression"].(string)
		raw, err := a.Execute(ctx, expression)
		if err != nil {
			return map[string]any{
				"result": map[string]any{"value": nil},
				"error":  err.Error(),
			}
		}
		var value any
		_ = json.Unmarshal(raw, &value)
		return map[string]any{"result": map[string]any{"value": value}}

	case "Page.navigate":
		url, _ := params["url"].(string)
		if _, err := a.Navigate(ctx, url); err != nil {
			return map[string]any{"error": err.Error()}
		}
		return map[string]any{"frameId": "main"}

	case "DOM.getDocument":
		html, err := a.HTML(ctx)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		return map[string]any{"root": map[string]any{"nodeId": 1, "outerHTML": html}}

	case "Page.captureScreenshot":
		data, err := a.Screenshot(ctx)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		return map[string]any{"data": data}

	default:
		if a.Log != nil {
			a.Log.Warn("unhandled protocol method", zap.String("method", method))
		}
		return map[string]any{"error": fmt.Sprintf("Unsupported CDP method: %s", method)}
	}
}
