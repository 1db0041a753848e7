package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/engine/auth"
	"specline/internal/events"
	"specline/internal/graph"
	"specline/internal/lifecycle"
	"specline/internal/lock"
	"specline/internal/repo"
	"specline/internal/specid"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Cache serves read queries; nil builds a fresh snapshot per request.
	Cache  *SnapshotCache
	Logger *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"illegal transition pending -> completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"pending\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	engine engine.Engine
	authz  auth.Service
	cache  *SnapshotCache
	auth   AuthConfig
	logger *slog.Logger
}

// New returns an HTTP handler exposing the specline query API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	cache := cfg.Cache
	if cache == nil {
		cache = &SnapshotCache{Build: cfg.Engine.Snapshot, MaxAge: -1, Logger: logger}
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Specline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{
		engine: cfg.Engine,
		authz:  auth.Service{Config: cfg.Engine.App.Config},
		cache:  cache,
		auth:   cfg.Auth,
		logger: logger,
	}
	registerDocs(router, basePath)
	registerHealth(group)
	h.registerSpecs(group)
	h.registerGraph(group)
	h.registerIDs(group)
	h.registerEvents(group)
	h.registerMe(group)
	if cfg.Auth.DevLogin && strings.TrimSpace(cfg.Auth.JWTSecret) != "" {
		h.registerDevAuth(group)
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var nre *engine.NotReadyError
	if errors.As(err, &nre) {
		return newAPIError(http.StatusConflict, "not_ready", err.Error(), map[string]any{"blockers": nre.Blockers})
	}
	var te *lifecycle.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), map[string]any{
			"from": te.From, "to": te.To, "allowed": lifecycle.AllowedNext(te.From),
		})
	}
	var ce *graph.CycleError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "cycle_detected", err.Error(), map[string]any{"cycle": ce.Cycle})
	}
	var re *graph.ResolveError
	if errors.As(err, &re) {
		return newAPIError(http.StatusNotFound, "unresolved_dependency", err.Error(), map[string]any{"repo": re.Repo, "id": re.ID})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, specid.ErrMalformedIdentifier), errors.Is(err, lifecycle.ErrUnknownStatus):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, lock.ErrLocked):
		return newAPIError(http.StatusConflict, "locked", msg, nil)
	case errors.Is(err, repo.ErrNotTerminal), errors.Is(err, repo.ErrAlreadyArchived):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
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

func (h handlers) require(ctx context.Context, perm string) (Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if err := h.authz.Require(principal.Roles, principal.Permissions, perm); err != nil {
		return Principal{}, err
	}
	return principal, nil
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
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
    <title>Specline API Docs</title>
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

func (h handlers) registerSpecs(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-specs",
		Method:      http.MethodGet,
		Path:        "/specs",
		Summary:     "List active specs with display status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"Filter by display status"`
	}) (*struct {
		Body []SpecResponse `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermSpecRead); err != nil {
			return nil, handleError(err)
		}
		var want domain.Status
		if input.Status != "" {
			parsed, ok := domain.ParseStatus(input.Status)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status "+input.Status, nil)
			}
			want = parsed
		}
		snap, err := h.cache.Get()
		if err != nil {
			return nil, handleError(err)
		}
		items := []SpecResponse{}
		for _, spec := range snap.Active {
			display := graph.DisplayStatus(spec, snap)
			if want != "" && display != want {
				continue
			}
			items = append(items, specResponse(spec, display, false))
		}
		return &struct {
			Body []SpecResponse `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-spec",
		Method:      http.MethodGet,
		Path:        "/specs/{id}",
		Summary:     "Get spec",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SpecResponse `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermSpecRead); err != nil {
			return nil, handleError(err)
		}
		id, err := specid.Parse(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		snap, err := h.cache.Get()
		if err != nil {
			return nil, handleError(err)
		}
		var res graph.Resolved
		if id.IsCrossRepo() {
			if res, err = h.engine.Resolve(input.ID); err != nil {
				return nil, handleError(err)
			}
		} else {
			res = snap.Lookup(input.ID)
		}
		if res.Err != nil {
			return nil, handleError(res.Err)
		}
		out := specResponse(res.Spec, graph.DisplayStatus(res.Spec, snap), true)
		out.Archived = res.Archived
		return &struct {
			Body SpecResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-spec",
		Method:      http.MethodPost,
		Path:        "/specs/{id}/transition",
		Summary:     "Change spec status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body SpecResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		perm := auth.PermSpecTransition
		if input.Body.Force {
			perm = auth.PermSpecForce
		}
		principal, err := h.require(ctx, perm)
		if err != nil {
			return nil, handleError(err)
		}
		to, ok := domain.ParseStatus(input.Body.Status)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status "+input.Body.Status, map[string]any{"allowed": domain.Statuses})
		}
		if _, err := specid.Parse(input.ID); err != nil {
			return nil, handleError(err)
		}
		var spec *domain.Spec
		if input.Body.Force {
			spec, err = h.engine.ForceTransition(ctx, input.ID, to, principal.ActorID, input.Body.Reason)
		} else {
			spec, err = h.engine.Transition(ctx, input.ID, to, principal.ActorID)
		}
		h.cache.Invalidate()
		if err != nil {
			return nil, handleError(err)
		}
		snap, err := h.cache.Get()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpecResponse `json:"body"`
		}{Body: specResponse(spec, graph.DisplayStatus(spec, snap), false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "spec-blockers",
		Method:      http.MethodGet,
		Path:        "/specs/{id}/blockers",
		Summary:     "Explain why a spec cannot start",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body BlockersResponse `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermSpecRead); err != nil {
			return nil, handleError(err)
		}
		snap, err := h.cache.Get()
		if err != nil {
			return nil, handleError(err)
		}
		spec, ok := snap.Get(input.ID)
		if !ok {
			return nil, handleError(fmt.Errorf("spec %s: %w", input.ID, repo.ErrNotFound))
		}
		return &struct {
			Body BlockersResponse `json:"body"`
		}{Body: BlockersResponse{
			ID:       spec.ID,
			Ready:    graph.IsReady(spec, snap),
			Blockers: nonNilSlice(graph.Blockers(spec, snap)),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ready-specs",
		Method:      http.MethodGet,
		Path:        "/ready",
		Summary:     "Specs that can start now",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SpecResponse `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermSpecRead); err != nil {
			return nil, handleError(err)
		}
		snap, err := h.cache.Get()
		if err != nil {
			return nil, handleError(err)
		}
		items := []SpecResponse{}
		for _, spec := range graph.Ready(snap) {
			items = append(items, specResponse(spec, domain.StatusReady, false))
		}
		return &struct {
			Body []SpecResponse `json:"body"`
		}{Body: items}, nil
	})
}

func (h handlers) registerGraph(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "graph-cycles",
		Method:      http.MethodGet,
		Path:        "/graph/cycles",
		Summary:     "Every dependency cycle among active specs",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CyclesResponse `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermSpecRead); err != nil {
			return nil, handleError(err)
		}
		snap, err := h.cache.Get()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CyclesResponse `json:"body"`
		}{Body: CyclesResponse{Cycles: nonNilSlice(graph.DetectCycles(snap.Active))}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "graph-order",
		Method:      http.MethodGet,
		Path:        "/graph/order",
		Summary:     "Active specs in dependency order",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermSpecRead); err != nil {
			return nil, handleError(err)
		}
		snap, err := h.cache.Get()
		if err != nil {
			return nil, handleError(err)
		}
		order, err := graph.TopoSort(snap.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: OrderResponse{Order: nonNilSlice(order)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-dependency",
		Method:      http.MethodGet,
		Path:        "/resolve/{dep}",
		Summary:     "Resolve a local or repo:id dependency",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Dep string `path:"dep"`
	}) (*struct {
		Body ResolveResponse `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermSpecRead); err != nil {
			return nil, handleError(err)
		}
		res, err := h.engine.Resolve(input.Dep)
		if err != nil {
			return nil, handleError(err)
		}
		out := ResolveResponse{Dependency: input.Dep, Found: res.Spec != nil, Archived: res.Archived}
		if res.Spec != nil {
			spec := specResponse(res.Spec, res.Spec.Status, false)
			spec.Archived = res.Archived
			out.Spec = &spec
		}
		return &struct {
			Body ResolveResponse `json:"body"`
		}{Body: out}, nil
	})
}

func (h handlers) registerIDs(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-id",
		Method:      http.MethodPost,
		Path:        "/ids",
		Summary:     "Generate the next spec id without creating a file",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body IDResponse `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermSpecRead); err != nil {
			return nil, handleError(err)
		}
		id, err := h.engine.GenerateID()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IDResponse `json:"body"`
		}{Body: idResponse(specid.MustParse(id))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "parse-id",
		Method:      http.MethodGet,
		Path:        "/ids/{id}",
		Summary:     "Parse a spec id",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body IDResponse `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermSpecRead); err != nil {
			return nil, handleError(err)
		}
		id, err := specid.Parse(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IDResponse `json:"body"`
		}{Body: idResponse(id)}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List journal events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SpecID string `query:"spec_id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := h.require(ctx, auth.PermEventsRead); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var after int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			after = parsed
		}
		items, err := events.Reader{DB: h.engine.DB}.List(ctx, events.Query{
			SpecID:   input.SpecID,
			Type:     input.Type,
			AfterSeq: after,
			Limit:    limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].Seq, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func (h handlers) registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(h.authz.Permissions(principal.Roles, principal.Permissions)),
			Source:      principal.Source,
		}}, nil
	})
}

func (h handlers) registerDevAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if h.authz.Require(input.Body.Roles, input.Body.Permissions, auth.PermSpecForce) == nil {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "dev login cannot grant "+auth.PermSpecForce,
				map[string]any{"permission": auth.PermSpecForce})
		}
		token, err := signDevToken(h.auth.JWTSecret, actor, input.Body.Roles, input.Body.Permissions, h.engine.App.Today())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
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
