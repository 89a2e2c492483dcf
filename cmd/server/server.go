package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/lexify/requestforms/category"
	"github.com/lexify/requestforms/form"
	"github.com/lexify/requestforms/internal/auth"
	"github.com/lexify/requestforms/internal/jobs"
	"github.com/lexify/requestforms/internal/logger"
	"github.com/lexify/requestforms/internal/storage"
)

// RoleAdmin may manage category rules.
const RoleAdmin = "admin"

// maxMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const maxMemory = 32 << 20

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators of a Server.
type Deps struct {
	DB        Pinger
	Registry  *category.Registry
	Users     storage.UserStore
	Requests  storage.RequestStore
	Files     *storage.FileStore
	Scheduler *jobs.Scheduler
	Issuer    *auth.Issuer
	Now       func() time.Time
}

// Server is the LEXIFY persistence boundary and form API.
type Server struct {
	Deps
	validate *validator.Validate
	router   *chi.Mux
}

// NewServer wires the routes over deps.
func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		Deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	authed := s.Issuer.Middleware(func(w http.ResponseWriter, err error) {
		respondError(w, http.StatusUnauthorized, "unauthorized", err)
	})

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/metrics", s.handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(authed)
		r.Get("/api/me", s.handleMe)
		r.Post("/api/requests", s.handleCreateRequest)
		r.Get("/api/requests/{requestId}", s.handleGetRequest)
	})

	r.Route("/api/v1/categories", func(r chi.Router) {
		r.Get("/", s.handleListCategories)

		r.Route("/{category}", func(r chi.Router) {
			r.Get("/", s.handleGetCategory)
			r.Post("/policy", s.handlePolicy)
			r.Post("/validate", s.handleValidate)
			r.With(authed).Post("/preview", s.handlePreview)
			r.Post("/evaluate", s.handleEvaluate)

			r.Group(func(r chi.Router) {
				r.Use(authed, requireRole(RoleAdmin))
				r.Get("/rules", s.handleListRules)
				r.Post("/rules", s.handleCreateRule)
				r.Get("/rules/{ruleId}", s.handleGetRule)
				r.Put("/rules/{ruleId}", s.handleUpdateRule)
				r.Delete("/rules/{ruleId}", s.handleDeleteRule)
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.FromContext(r.Context())
			if !ok || claims.Role != role {
				respondError(w, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		if err := s.DB.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"categoriesLoaded": len(s.Registry.List()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, logger.Counters())
}

// category resolves the {category} URL parameter.
func (s *Server) category(w http.ResponseWriter, r *http.Request) (*category.Category, bool) {
	cat, err := s.Registry.Get(chi.URLParam(r, "category"))
	if err != nil {
		respondError(w, http.StatusNotFound, "category not found", err)
		return nil, false
	}
	return cat, true
}

func (s *Server) engine(cat *category.Category) *form.Engine {
	return form.NewEngine(cat, form.WithClock(s.Now))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

// respondError writes {"error": message}. For 5xx the cause is logged and
// kept out of the response.
func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if status >= 500 {
		if err != nil {
			logger.Error(message, "error", err)
		}
	} else if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

// validationMessage turns validator output into one readable sentence.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "datetime":
		return fe.Field() + " must be a date in the format YYYY-MM-DD"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}
