package projectstore

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conneroisu/playpen/internal/auth"
	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/logging"
	"github.com/conneroisu/playpen/internal/metrics"
	"github.com/conneroisu/playpen/internal/ratelimit"
	"github.com/conneroisu/playpen/internal/version"
)

// MaxBodyBytes bounds request bodies of the API.
const MaxBodyBytes = 4 << 20

// APIOptions configures the project API router.
type APIOptions struct {
	Secret  []byte
	Logger  logging.Logger
	Metrics *metrics.Metrics
	Limiter *ratelimit.Limiter
}

type api struct {
	store  *SQLiteStore
	logger logging.Logger
}

// projectResponse is the GET /api/projects/{id} body the editor expects.
type projectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HTML      string    `json:"html"`
	CSS       string    `json:"css"`
	JS        string    `json:"js"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// sourcesRequest is the PUT body. Every field must be present: a project
// is only ever replaced wholesale.
type sourcesRequest struct {
	HTML *string `json:"html"`
	CSS  *string `json:"css"`
	JS   *string `json:"js"`
}

type nameRequest struct {
	Name string `json:"name"`
}

// NewRouter returns the HTTP API:
//
//	GET    /health
//	GET    /metrics
//	POST   /api/projects          create {name}
//	GET    /api/projects          list the caller's projects
//	GET    /api/projects/{id}     {name, html, css, js}
//	PUT    /api/projects/{id}     replace {html, css, js}
//	PATCH  /api/projects/{id}     rename {name}
//	DELETE /api/projects/{id}
func NewRouter(store *SQLiteStore, opts APIOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	a := &api{store: store, logger: opts.Logger.WithComponent("api")}

	r := chi.NewRouter()
	r.Use(opts.Metrics.Middleware(func(r *http.Request) string {
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			return rc.RoutePattern()
		}
		return "unmatched"
	}))
	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.GetShortVersion(),
		})
	})
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Route("/api/projects", func(r chi.Router) {
		r.Use(auth.Middleware(opts.Secret))
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
				next.ServeHTTP(w, r)
			})
		})

		r.Post("/", a.create)
		r.Get("/", a.list)
		r.Get("/{id}", a.get)
		r.Put("/{id}", a.replace)
		r.Patch("/{id}", a.rename)
		r.Delete("/{id}", a.remove)
	})

	return r
}

func owner(r *http.Request) string {
	return auth.GetClaims(r.Context()).UserID()
}

func (a *api) create(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, errors.NewValidationError(errors.ErrCodeInvalidProject, "invalid JSON body"))
		return
	}

	rec, err := a.store.Create(r.Context(), owner(r), req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info(r.Context(), "Project created", "project", rec.ID, "owner", rec.Owner)
	writeJSON(w, http.StatusCreated, toResponse(rec))
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	recs, err := a.store.List(r.Context(), owner(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *api) get(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.Get(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (a *api) replace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sourcesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, errors.NewValidationError(errors.ErrCodeInvalidProject, "invalid JSON body"))
		return
	}
	if req.HTML == nil || req.CSS == nil || req.JS == nil {
		a.writeError(w, r, errors.NewValidationError(errors.ErrCodeInvalidProject,
			"html, css and js are all required"))
		return
	}

	src := buffer.Sources{HTML: *req.HTML, CSS: *req.CSS, JS: *req.JS}
	updated, err := a.store.Update(r.Context(), owner(r), id, src)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "updatedAt": updated})
}

func (a *api) rename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, errors.NewValidationError(errors.ErrCodeInvalidProject, "invalid JSON body"))
		return
	}

	name, err := a.store.Rename(r.Context(), owner(r), id, req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "name": name})
}

func (a *api) remove(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Delete(r.Context(), owner(r), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toResponse(rec Record) projectResponse {
	return projectResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		HTML:      rec.Sources.HTML,
		CSS:       rec.Sources.CSS,
		JS:        rec.Sources.JS,
		UpdatedAt: rec.UpdatedAt,
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, "Project API request failed", "path", r.URL.Path)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": errors.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
