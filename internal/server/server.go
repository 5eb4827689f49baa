package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"navigator/internal/artifacts"
	"navigator/internal/domain"
	"navigator/internal/engine"
	"navigator/internal/export"
	"navigator/internal/ingest"
	"navigator/internal/ingest/rows"
	"navigator/internal/repo"
	"navigator/internal/taxonomy"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"schema_mismatch"`
	Message string         `json:"message" example:"event csv is missing columns: Date"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"missing\":[\"Date\"]}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Navigator admin API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	router.Use(requestLogger(cfg.Engine.Logger))
	hcfg := huma.DefaultConfig("Navigator API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerIngest(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerFamilies(group, cfg.Engine)
	registerExport(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", time.Since(start)))
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

func hintDetails(err error) map[string]any {
	hints := errors.GetAllHints(err)
	if len(hints) == 0 {
		return nil
	}
	return map[string]any{"hints": hints}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var schemaErr *rows.SchemaError
	if errors.As(err, &schemaErr) {
		return newAPIError(http.StatusBadRequest, "schema_mismatch", err.Error(), map[string]any{
			"kind":    schemaErr.Kind,
			"missing": schemaErr.Missing,
		})
	}
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return newAPIError(http.StatusBadRequest, "malformed_csv", err.Error(), map[string]any{"line": parseErr.Line})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrUnknownOrganisation):
		return newAPIError(http.StatusNotFound, "unknown_organisation", msg, hintDetails(err))
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, artifacts.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrMissingInput):
		return newAPIError(http.StatusBadRequest, "missing_input", msg, nil)
	case errors.Is(err, ingest.ErrUnsupportedOrg), errors.Is(err, taxonomy.ErrUnknownOrganisation):
		return newAPIError(http.StatusUnprocessableEntity, "unsupported_organisation", msg, nil)
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		// built on first request so every operation is registered by then
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
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
    <title>Navigator API Docs</title>
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

type orgInput struct {
	Org  string `path:"org" example:"CCLW"`
	Body IngestRequest
}

func registerIngest(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-ingest",
		Method:      http.MethodPost,
		Path:        "/ingest/validate/{org}",
		Summary:     "Validate ingest files without writing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *orgInput) (*struct {
		Body engine.ValidationSummary `json:"body"`
	}, error) {
		sum, err := e.Validate(ctx, input.Org, input.Body.inputs())
		if err != nil {
			return nil, handleError(err)
		}
		sum.Errors = nonNilSlice(sum.Errors)
		return &struct {
			Body engine.ValidationSummary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-ingest",
		Method:        http.MethodPost,
		Path:          "/ingest/{org}",
		Summary:       "Start a background ingest run",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *orgInput) (*struct {
		Body IngestAccepted `json:"body"`
	}, error) {
		prefix, err := e.StartIngest(ctx, input.Org, input.Body.inputs())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IngestAccepted `json:"body"`
		}{Body: IngestAccepted{Prefix: prefix}}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-document",
		Method:      http.MethodPut,
		Path:        "/documents/{import_id}",
		Summary:     "Update a document",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ImportID string `path:"import_id"`
		Body     engine.DocumentUpdate
	}) (*struct {
		Body engine.DocumentView `json:"body"`
	}, error) {
		view, err := e.UpdateDocument(ctx, input.ImportID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		view.Slugs = nonNilSlice(view.Slugs)
		return &struct {
			Body engine.DocumentView `json:"body"`
		}{Body: view}, nil
	})
}

func registerFamilies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-family",
		Method:      http.MethodGet,
		Path:        "/families/{import_id}",
		Summary:     "Get a family with its documents, events and metadata",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ImportID string `path:"import_id"`
	}) (*struct {
		Body engine.FamilyView `json:"body"`
	}, error) {
		view, err := e.GetFamily(ctx, input.ImportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.FamilyView `json:"body"`
		}{Body: view}, nil
	})
}

func registerExport(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "pipeline-export",
		Method:      http.MethodGet,
		Path:        "/pipeline-export",
		Summary:     "Export active documents for the processing pipeline",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []export.Record `json:"body"`
	}, error) {
		records, err := e.Export(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []export.Record `json:"body"`
		}{Body: nonNilSlice(records)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
	}, func(ctx context.Context, input *struct {
		RunID      string `query:"run_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.RunID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
