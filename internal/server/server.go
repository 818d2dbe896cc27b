package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"commitline/internal/domain"
	"commitline/internal/engine"
	"commitline/internal/repo"
	"commitline/internal/signal"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"refusal"`
	Message string         `json:"message" example:"cannot commit Not Ready work; 2 constraint(s) open"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Commitline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Commitline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerWorkItems(group, cfg.Engine)
	registerConstraints(group, cfg.Engine)
	registerCommitments(group, cfg.Engine)
	registerSignals(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var ref *engine.Refusal
	if errors.As(err, &ref) {
		return newAPIError(http.StatusForbidden, "refusal", ref.Message, map[string]any{
			"refusal_code":        ref.Code,
			"open_constraint_ids": ref.OpenConstraintIDs,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Commitline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Work item counts by state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		counts, err := e.Repo.CountWorkItemsByState(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		projectID := ""
		if e.Config != nil {
			projectID = e.Config.Project.ID
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{ProjectID: projectID, StateCount: counts}}, nil
	})
}

func registerWorkItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-item",
		Method:        http.MethodPost,
		Path:          "/work-items",
		Summary:       "Create work item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkItemRequest `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkItemCreateOptions{
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Location:    stringOrEmpty(input.Body.Location),
			OwnerUserID: input.Body.OwnerUserID,
			ActorID:     actorID,
		}
		if input.Body.ReferencePlanSystem != nil {
			opts.ReferencePlanSystem = *input.Body.ReferencePlanSystem
		}
		if input.Body.ReferencePlanExternalID != nil {
			opts.ReferencePlanExternalID = *input.Body.ReferencePlanExternalID
		}
		if input.Body.ReferencePlanDates != nil {
			data, err := json.Marshal(input.Body.ReferencePlanDates)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid reference_plan_dates", map[string]any{"error": err.Error()})
			}
			opts.ReferencePlanDatesJSON = string(data)
		}
		w, err := e.CreateWorkItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-items",
		Method:      http.MethodGet,
		Path:        "/work-items",
		Summary:     "List work items",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State string `query:"state"`
		Owner string `query:"owner"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body []WorkItemResponse `json:"body"`
	}, error) {
		if input.State != "" && !domain.WorkItemState(input.State).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid state %q", input.State), nil)
		}
		items, err := e.Repo.ListWorkItems(ctx, repo.WorkItemFilters{
			State: domain.WorkItemState(input.State),
			Owner: input.Owner,
			Limit: input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkItemResponse `json:"body"`
		}{Body: mapWorkItems(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-item",
		Method:      http.MethodGet,
		Path:        "/work-items/{id}",
		Summary:     "Get work item with constraints and commitments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkItemDetailResponse `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		constraints, err := e.Repo.ListConstraints(ctx, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		commitments, err := e.Repo.ListCommitments(ctx, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemDetailResponse `json:"body"`
		}{Body: WorkItemDetailResponse{
			WorkItemResponse: workItemResponse(w),
			Constraints:      mapConstraints(constraints),
			Commitments:      mapCommitments(commitments),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-work-item",
		Method:      http.MethodPost,
		Path:        "/work-items/{id}/reset",
		Summary:     "Reset a terminal work item to a fresh Intent",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.ResetWorkItem(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})
}

func registerConstraints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-constraint",
		Method:        http.MethodPost,
		Path:          "/work-items/{id}/constraints",
		Summary:       "Add constraint",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body CreateConstraintRequest `json:"body"`
	}) (*struct {
		Body ConstraintResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddConstraint(ctx, input.ID, engine.ConstraintCreateOptions{
			Type:        input.Body.Type,
			Description: stringOrEmpty(input.Body.Description),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConstraintResponse `json:"body"`
		}{Body: constraintResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-constraint",
		Method:      http.MethodPost,
		Path:        "/constraints/{id}/clear",
		Summary:     "Clear constraint",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ConstraintResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ClearConstraint(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConstraintResponse `json:"body"`
		}{Body: constraintResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-constraint",
		Method:      http.MethodPost,
		Path:        "/constraints/{id}/reopen",
		Summary:     "Reopen constraint",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ConstraintResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ReopenConstraint(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConstraintResponse `json:"body"`
		}{Body: constraintResponse(c)}, nil
	})
}

func registerCommitments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-commitment",
		Method:        http.MethodPost,
		Path:          "/work-items/{id}/commitments",
		Summary:       "Commit to a Ready work item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body CreateCommitmentRequest `json:"body"`
	}) (*struct {
		Body CommitmentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		due, err := time.Parse(time.RFC3339, input.Body.DueAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "due_at must be RFC3339", map[string]any{"due_at": input.Body.DueAt})
		}
		c, err := e.CreateCommitment(ctx, input.ID, engine.CommitmentCreateOptions{
			OwnerUserID: stringOrEmpty(input.Body.OwnerUserID),
			DueAt:       due,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommitmentResponse `json:"body"`
		}{Body: commitmentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-commitment",
		Method:      http.MethodGet,
		Path:        "/commitments/{id}",
		Summary:     "Get commitment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CommitmentResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCommitment(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommitmentResponse `json:"body"`
		}{Body: commitmentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-commitment",
		Method:      http.MethodPost,
		Path:        "/commitments/{id}/complete",
		Summary:     "Complete commitment",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CommitmentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CompleteCommitment(ctx, input.ID, actorID, time.Time{})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommitmentResponse `json:"body"`
		}{Body: commitmentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-commitment",
		Method:      http.MethodPost,
		Path:        "/commitments/{id}/fail",
		Summary:     "Fail commitment with a cause",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body FailCommitmentRequest `json:"body"`
	}) (*struct {
		Body struct {
			Commitment CommitmentResponse     `json:"commitment"`
			Signal     LearningSignalResponse `json:"signal"`
		} `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, s, err := e.FailCommitment(ctx, input.ID, actorID, signal.Cause{
			Primary:   domain.PrimaryCause(input.Body.PrimaryCause),
			Secondary: stringOrEmpty(input.Body.SecondaryCause),
			Notes:     stringOrEmpty(input.Body.Notes),
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Commitment CommitmentResponse     `json:"commitment"`
				Signal     LearningSignalResponse `json:"signal"`
			} `json:"body"`
		}{}
		out.Body.Commitment = commitmentResponse(c)
		out.Body.Signal = signalResponse(s)
		return out, nil
	})

	// PATCH exists so that modification attempts land on a real route and get
	// the refusal envelope instead of a 404.
	huma.Register(api, huma.Operation{
		OperationID: "modify-commitment",
		Method:      http.MethodPatch,
		Path:        "/commitments/{id}",
		Summary:     "Modify commitment (always refused)",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body ModifyCommitmentRequest `json:"body"`
	}) (*struct {
		Body CommitmentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		field := "due_at"
		switch {
		case input.Body.WorkItemID != nil:
			field = "work_item_id"
		case input.Body.OwnerUserID != nil:
			field = "owner_user_id"
		}
		err := e.AttemptModifyCommitment(ctx, input.ID, field, actorID)
		return nil, handleError(err)
	})
}

func registerSignals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-signals",
		Method:      http.MethodGet,
		Path:        "/signals",
		Summary:     "List learning signals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkItemID string `query:"work_item_id"`
		Cause      string `query:"cause"`
		Since      string `query:"since"`
		Until      string `query:"until"`
	}) (*struct {
		Body []LearningSignalResponse `json:"body"`
	}, error) {
		if input.Cause != "" && !domain.PrimaryCause(input.Cause).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid cause %q", input.Cause), nil)
		}
		items, err := e.Repo.ListLearningSignals(ctx, repo.SignalFilters{
			WorkItemID: input.WorkItemID,
			Cause:      domain.PrimaryCause(input.Cause),
			Since:      input.Since,
			Until:      input.Until,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []LearningSignalResponse `json:"body"`
		}{Body: mapSignals(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "signals-drilldown",
		Method:      http.MethodGet,
		Path:        "/signals/drilldown",
		Summary:     "Aggregate signals by cause, location, and reference system",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Since string `query:"since"`
		Until string `query:"until"`
	}) (*struct {
		Body []DrilldownRowResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListLearningSignals(ctx, repo.SignalFilters{
			Since: input.Since,
			Until: input.Until,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DrilldownRowResponse `json:"body"`
		}{Body: mapDrilldown(signal.Aggregate(items))}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Type       string `query:"type"`
		ActorID    string `query:"actor_id"`
		Since      string `query:"since"`
		Until      string `query:"until"`
		Limit      int    `query:"limit" default:"200"`
	}) (*struct {
		Body []AuditEventResponse `json:"body"`
	}, error) {
		events, err := e.Repo.ListAuditEvents(ctx, repo.AuditFilters{
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Type:       input.Type,
			ActorID:    input.ActorID,
			Since:      input.Since,
			Until:      input.Until,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := []AuditEventResponse{}
		for _, ev := range events {
			resp := AuditEventResponse{
				ID:         ev.ID,
				TS:         ev.TS,
				Type:       ev.Type,
				EntityKind: ev.EntityKind,
				EntityID:   ev.EntityID,
				ActorID:    ev.ActorID,
			}
			if ev.Payload != "" {
				var payload any
				if err := json.Unmarshal([]byte(ev.Payload), &payload); err == nil {
					resp.Payload = payload
				}
			}
			out = append(out, resp)
		}
		return &struct {
			Body []AuditEventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated actor",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"actor_id": p.ActorID, "source": p.Source}}, nil
	})
}
