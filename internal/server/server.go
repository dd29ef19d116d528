package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"socialbrain/internal/activity"
	"socialbrain/internal/browser"
	"socialbrain/internal/budget"
	"socialbrain/internal/classifier"
	"socialbrain/internal/domain"
	"socialbrain/internal/proof"
	"socialbrain/internal/registry"
	"socialbrain/internal/repo"
	"socialbrain/internal/tools"
)

// Config for the HTTP API handler.
type Config struct {
	Registry           registry.Registry
	Ledger             budget.Ledger
	Proof              *proof.Generator
	Journal            *activity.Journal
	Adapter            *browser.Adapter
	CheapModelOverride string
	Token              string
	BasePath           string
	Log                *zap.Logger

	// ErrorHook is called once per 5xx response; the serve supervisor
	// points it at the pulse beacon's error counter.
	ErrorHook func()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"mission_terminal"`
	Message string         `json:"message" example:"mission is terminal"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the brain API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Token, cfg.Log))
	if cfg.ErrorHook != nil {
		router.Use(newErrorCounter(cfg.ErrorHook))
	}
	hcfg := huma.DefaultConfig("Social Brain API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerDiagnostics(group, cfg)
	registerMissions(group, cfg.Registry)
	registerStats(group, cfg.Registry)
	registerCosts(group, cfg.Ledger)
	registerProof(group, cfg)
	registerClassify(group, cfg.CheapModelOverride)
	registerTools(group, cfg.Adapter)

	return router, nil
}

func newErrorCounter(hook func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusInternalServerError {
				hook()
			}
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, registry.ErrMissionTerminal) {
		return newAPIError(http.StatusConflict, "mission_terminal", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, proof.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDiagnostics(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "diagnostics",
		Method:      http.MethodGet,
		Path:        "/diagnostics",
		Summary:     "Brain and companion diagnostics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DiagnosticsResponse `json:"body"`
	}, error) {
		resp := DiagnosticsResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}
		if stats, err := cfg.Registry.Stats(ctx); err == nil {
			resp.Missions = stats
			resp.DatabaseOK = true
		}
		if cfg.Adapter != nil {
			healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			resp.CompanionOK = cfg.Adapter.Health(healthCtx)
			cancel()
			if resp.CompanionOK {
				resp.Sessions = cfg.Adapter.PlatformSessions(ctx)
			}
		}
		return &struct {
			Body DiagnosticsResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMissions(api huma.API, reg registry.Registry) {
	type missionPath struct {
		MissionID string `path:"mission_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "mission-create",
		Method:      http.MethodPost,
		Path:        "/missions",
		Summary:     "Create a mission",
	}, func(ctx context.Context, input *struct {
		Body CreateMissionRequest `json:"body"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		m, err := reg.Create(ctx, domain.MissionType(input.Body.Type), input.Body.ClientID, input.Body.Context)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mission-get",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}",
		Summary:     "Fetch one mission",
	}, func(ctx context.Context, input *missionPath) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		m, err := reg.Get(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mission-list",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions with filters",
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
		Status   string `query:"status"`
		Type     string `query:"type"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body MissionListResponse `json:"body"`
	}, error) {
		var (
			missions []domain.Mission
			err      error
		)
		switch {
		case input.Status != "":
			missions, err = reg.ListByStatus(ctx, domain.MissionStatus(input.Status), input.Limit)
		case input.Type != "":
			missions, err = reg.ListByType(ctx, domain.MissionType(input.Type), input.Limit)
		default:
			missions, err = reg.ListByClient(ctx, input.ClientID, input.Limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionListResponse `json:"body"`
		}{Body: MissionListResponse{Missions: missions}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mission-active",
		Method:      http.MethodGet,
		Path:        "/missions/active/{client_id}",
		Summary:     "List a client's active missions",
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body MissionListResponse `json:"body"`
	}, error) {
		missions, err := reg.ListActive(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionListResponse `json:"body"`
		}{Body: MissionListResponse{Missions: missions}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mission-status",
		Method:      http.MethodPatch,
		Path:        "/missions/{mission_id}/status",
		Summary:     "Update mission status",
	}, func(ctx context.Context, input *struct {
		MissionID string              `path:"mission_id"`
		Body      UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		m, err := reg.UpdateStatus(ctx, input.MissionID, domain.MissionStatus(input.Body.Status), input.Body.Error)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mission-result",
		Method:      http.MethodPatch,
		Path:        "/missions/{mission_id}/result",
		Summary:     "Attach mission result",
	}, func(ctx context.Context, input *struct {
		MissionID string              `path:"mission_id"`
		Body      UpdateResultRequest `json:"body"`
	}) (*struct {
		Body domain.Mission `json:"body"`
	}, error) {
		m, err := reg.UpdateResult(ctx, input.MissionID, input.Body.Result)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Mission `json:"body"`
		}{Body: m}, nil
	})
}

func registerStats(api huma.API, reg registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Mission stats across all clients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.MissionStats `json:"body"`
	}, error) {
		stats, err := reg.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MissionStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stats-client",
		Method:      http.MethodGet,
		Path:        "/stats/{client_id}",
		Summary:     "Mission stats for one client",
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*struct {
		Body domain.MissionStats `json:"body"`
	}, error) {
		stats, err := reg.ClientStats(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MissionStats `json:"body"`
		}{Body: stats}, nil
	})
}

func registerCosts(api huma.API, ledger budget.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID: "cost-record",
		Method:      http.MethodPost,
		Path:        "/costs",
		Summary:     "Record one model call",
	}, func(ctx context.Context, input *struct {
		Body RecordCostRequest `json:"body"`
	}) (*struct {
		Body RecordCostResponse `json:"body"`
	}, error) {
		entry := domain.CostEntry{
			ClientID:     input.Body.ClientID,
			Model:        input.Body.Model,
			Provider:     domain.Provider(input.Body.Provider),
			InputTokens:  input.Body.InputTokens,
			OutputTokens: input.Body.OutputTokens,
			CostUSD:      input.Body.CostUSD,
		}
		if input.Body.MissionID != "" {
			entry.MissionID = &input.Body.MissionID
		}
		over, err := ledger.RecordUsage(ctx, entry)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordCostResponse `json:"body"`
		}{Body: RecordCostResponse{OverBudget: over}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cost-stats",
		Method:      http.MethodGet,
		Path:        "/costs/stats",
		Summary:     "Global cost stats",
	}, func(ctx context.Context, input *struct {
		Since int64 `query:"since"`
	}) (*struct {
		Body domain.GlobalCostStats `json:"body"`
	}, error) {
		stats, err := ledger.GlobalStats(ctx, input.Since)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GlobalCostStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cost-fallback",
		Method:      http.MethodGet,
		Path:        "/costs/fallback",
		Summary:     "Primary vs fallback provider traffic",
	}, func(ctx context.Context, input *struct {
		Since int64 `query:"since"`
	}) (*struct {
		Body domain.FallbackStats `json:"body"`
	}, error) {
		stats, err := ledger.FallbackStats(ctx, input.Since)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FallbackStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cost-mission",
		Method:      http.MethodGet,
		Path:        "/costs/mission/{mission_id}",
		Summary:     "Total spend for one mission",
	}, func(ctx context.Context, input *struct {
		MissionID string `path:"mission_id"`
	}) (*struct {
		Body CostTotalResponse `json:"body"`
	}, error) {
		total, err := ledger.MissionCost(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		over, err := ledger.IsOverBudget(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CostTotalResponse `json:"body"`
		}{Body: CostTotalResponse{TotalUSD: total, OverBudget: over}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cost-client",
		Method:      http.MethodGet,
		Path:        "/costs/client/{client_id}",
		Summary:     "Client spend inside a window",
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
		Since    int64  `query:"since"`
	}) (*struct {
		Body CostTotalResponse `json:"body"`
	}, error) {
		total, err := ledger.ClientCost(ctx, input.ClientID, input.Since)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CostTotalResponse `json:"body"`
		}{Body: CostTotalResponse{TotalUSD: total}}, nil
	})
}

func registerProof(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "proof-get",
		Method:      http.MethodGet,
		Path:        "/proof/{mission_id}",
		Summary:     "Fetch a proof package",
	}, func(ctx context.Context, input *struct {
		MissionID string `path:"mission_id"`
	}) (*struct {
		Body domain.ProofPackage `json:"body"`
	}, error) {
		pkg, err := cfg.Proof.Get(input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProofPackage `json:"body"`
		}{Body: pkg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "proof-generate",
		Method:      http.MethodPost,
		Path:        "/proof/{mission_id}",
		Summary:     "Generate a proof package",
	}, func(ctx context.Context, input *struct {
		MissionID string               `path:"mission_id"`
		Body      GenerateProofRequest `json:"body"`
	}) (*struct {
		Body domain.ProofPackage `json:"body"`
	}, error) {
		status := domain.ProofStatus(input.Body.Status)
		if status == "" {
			status = domain.ProofSuccess
		}
		pkg, err := cfg.Proof.Generate(ctx, input.MissionID, cfg.Journal, input.Body.Summary, status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProofPackage `json:"body"`
		}{Body: pkg}, nil
	})
}

func registerClassify(api huma.API, cheapOverride string) {
	huma.Register(api, huma.Operation{
		OperationID: "classify",
		Method:      http.MethodPost,
		Path:        "/classify",
		Summary:     "Preview model routing for a message",
	}, func(ctx context.Context, input *struct {
		Body ClassifyRequest `json:"body"`
	}) (*struct {
		Body ClassifyResponse `json:"body"`
	}, error) {
		tier := classifier.SelectTier(input.Body.Message, input.Body.LastToolName)
		return &struct {
			Body ClassifyResponse `json:"body"`
		}{Body: ClassifyResponse{
			Tier:          string(tier),
			Model:         classifier.ResolveModel(tier, cheapOverride),
			CompactPrompt: classifier.UseCompactPrompt(tier),
		}}, nil
	})
}

func registerTools(api huma.API, adapter *browser.Adapter) {
	huma.Register(api, huma.Operation{
		OperationID: "tool-run",
		Method:      http.MethodPost,
		Path:        "/tools",
		Summary:     "Run one browser tool command",
	}, func(ctx context.Context, input *struct {
		Body tools.Command `json:"body"`
	}) (*struct {
		Body tools.Result `json:"body"`
	}, error) {
		if adapter == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "companion_unconfigured", "no companion adapter configured", nil)
		}
		res := tools.Runner{Driver: adapter}.Run(ctx, input.Body)
		return &struct {
			Body tools.Result `json:"body"`
		}{Body: res}, nil
	})
}
