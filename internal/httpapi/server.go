package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/arawak/inkwell/internal/config"
	"github.com/arawak/inkwell/internal/store"
	"github.com/arawak/inkwell/internal/swaggerui"
	"github.com/arawak/inkwell/internal/tags"
)

type Server struct {
	cfg     *config.Config
	store   *store.Store
	apiKeys *APIKeyStore
	logger  *slog.Logger
}

var (
	openapiOnce sync.Once
	openapiData []byte
	openapiErr  error
)

func loadOpenAPI() ([]byte, error) {
	openapiOnce.Do(func() {
		path := filepath.Clean("openapi.yaml")
		openapiData, openapiErr = os.ReadFile(path)
	})
	return openapiData, openapiErr
}

func NewRouter(cfg *config.Config, st *store.Store, apiKeys *APIKeyStore, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	s := &Server{cfg: cfg, store: st, apiKeys: apiKeys, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(loggingMiddleware(logger))

	if len(cfg.CORSAllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"X-Api-Key", "Content-Type", "Accept"},
			AllowCredentials: true,
		})
		r.Use(c.Handler)
	}

	r.Get("/healthz", s.GetHealthz)
	r.Get("/readyz", s.GetReadyz)
	r.Get(cfg.OpenAPIPath, s.serveOpenAPI)
	r.Mount(cfg.SwaggerUIPath, swaggerui.Handler(cfg.OpenAPIPath))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware())

		r.With(s.requirePermissions(PermCanRead)).Get("/api/articles", s.ListArticles)
		r.With(s.requirePermissions(PermCanRead)).Get("/api/articles/{id}", s.GetArticle)
		r.With(s.requirePermissions(PermCanRead)).Get("/api/tags", s.ListTags)
		r.With(s.requirePermissions(PermCanRead)).Get("/api/tags/popular", s.PopularTags)

		r.With(s.requirePermissions(PermCanPublish)).Post("/api/articles", s.CreateArticle)
		r.With(s.requirePermissions(PermCanEdit)).Patch("/api/articles/{id}", s.UpdateArticle)
		r.With(s.requirePermissions(PermCanDelete)).Delete("/api/articles/{id}", s.DeleteArticle)
		r.With(s.requirePermissions(PermCanAdmin)).Delete("/api/tags/unreferenced", s.SweepTags)
	})

	return r
}

func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch s.cfg.AuthMode {
			case config.AuthNone:
				next.ServeHTTP(w, r)
				return
			case config.AuthAPIKey:
				key := r.Header.Get("X-Api-Key")
				if key == "" {
					writeError(w, http.StatusUnauthorized, "unauthorized", "missing api key", nil)
					return
				}
				entry, ok := s.apiKeys.Lookup(key)
				if !ok {
					writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key", nil)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), newPrincipalFromAPIKey(entry))))
				return
			case config.AuthOIDC:
				writeError(w, http.StatusNotImplemented, "not_implemented", "oidc auth mode is not implemented yet", nil)
				return
			default:
				writeError(w, http.StatusUnauthorized, "unauthorized", "auth mode not supported", nil)
				return
			}
		})
	}
}

func (s *Server) requirePermissions(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.AuthMode == config.AuthNone {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "no principal", nil)
				return
			}
			for _, perm := range perms {
				if !p.HasPermission(perm) {
					writeError(w, http.StatusForbidden, "forbidden", "missing permission: "+perm, nil)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	data, err := loadOpenAPI()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "unable to load openapi.yaml", map[string]any{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) GetHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Health{Status: "ok"})
}

func (s *Server) GetReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Health{Status: "ok"})
}

func (s *Server) CreateArticle(w http.ResponseWriter, r *http.Request) {
	var payload ArticleCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}
	if payload.Title == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "title is required", nil)
		return
	}

	article, err := s.store.CreateArticle(r.Context(), store.ArticleCreate{
		Title:       payload.Title,
		Description: payload.Description,
		Body:        payload.Body,
		Tags:        requestTags(payload.Tags, payload.TagList),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence", "failed to save article", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, toAPIArticle(article))
}

func (s *Server) GetArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	article, err := s.store.GetArticle(r.Context(), id, false)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, "not_found", "article not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAPIArticle(article))
}

func (s *Server) UpdateArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	var payload ArticleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}

	upd := store.ArticleUpdate{
		Title:       payload.Title,
		Description: payload.Description,
		Body:        payload.Body,
		Tags:        payload.Tags,
	}
	if upd.Tags == nil && payload.TagList != nil {
		split := []string(tags.ParseList(*payload.TagList))
		upd.Tags = &split
	}

	article, err := s.store.UpdateArticle(r.Context(), id, upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "article not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "persistence", "could not update article", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toAPIArticle(article))
}

func (s *Server) DeleteArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteArticle(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, "delete_failed", "could not delete article", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := store.ListParams{
		Tags:     q["tag"],
		Page:     queryInt(q.Get("page"), 1),
		PageSize: queryInt(q.Get("pageSize"), 30),
		Sort:     q.Get("sort"),
	}
	articles, total, err := s.store.ListArticles(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list articles", map[string]any{"error": err.Error()})
		return
	}
	resp := ArticleListResponse{Page: params.Page, PageSize: params.PageSize, Total: total}
	for i := range articles {
		resp.Items = append(resp.Items, toAPIArticle(&articles[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ListTags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	size := queryInt(q.Get("pageSize"), 100)
	list, total, err := s.store.ListTags(r.Context(), q.Get("prefix"), page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list tags", map[string]any{"error": err.Error()})
		return
	}
	resp := TagListResponse{Items: make([]Tag, 0, len(list)), Page: page, PageSize: size, Total: total}
	for _, t := range list {
		resp.Items = append(resp.Items, Tag{Id: t.ID, Name: t.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

// PopularTags recomputes the ranking on every call; nothing is cached
// between writes and reads.
func (s *Server) PopularTags(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 20)
	counts, err := s.store.PopularTags(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to rank tags", map[string]any{"error": err.Error()})
		return
	}
	resp := PopularTagsResponse{Items: make([]TagCount, 0, len(counts))}
	for _, c := range counts {
		resp.Items = append(resp.Items, TagCount{Name: c.Name, Count: c.Count})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) SweepTags(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteUnreferencedTags(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to sweep tags", map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Deleted: deleted})
}

// requestTags converges the two accepted input shapes on one ordered
// sequence of strings before anything downstream sees it. A present
// tags array takes precedence over the raw field, even when empty.
func requestTags(list *[]string, raw string) []string {
	if list != nil {
		return *list
	}
	return []string(tags.ParseList(raw))
}

func articleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid article id", nil)
		return 0, false
	}
	return id, true
}

func toAPIArticle(a *store.Article) Article {
	apiTags := a.Tags
	if apiTags == nil {
		apiTags = []string{}
	}
	return Article{
		Id:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		Body:        a.Body,
		Tags:        apiTags,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		DeletedAt:   a.DeletedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, Error{Code: code, Message: message, Details: details})
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
		})
	}
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
