package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/auth"
	"github.com/mathpath/mathexam/internal/exam"
	appI18n "github.com/mathpath/mathexam/internal/i18n"
	"github.com/mathpath/mathexam/internal/llm"
	"github.com/mathpath/mathexam/internal/metrics"
	"github.com/mathpath/mathexam/internal/model"
	"github.com/mathpath/mathexam/internal/storage"
	"github.com/mathpath/mathexam/internal/store"
)

// maxBodyBytes bounds JSON request bodies; OCR text is the largest.
const maxBodyBytes = 4 << 20

// AI is the stateless LLM surface behind the passthrough routes.
type AI interface {
	GenerateQuestions(ctx context.Context, req llm.GenerateQuestionsRequest) ([]llm.GeneratedQuestion, error)
	GenerateExam(ctx context.Context, req llm.GenerateExamRequest) (llm.GeneratedExam, error)
	AnalyzeResults(ctx context.Context, req llm.AnalyzeRequest) (model.Analysis, error)
}

// Config wires a Handler.
type Config struct {
	Store   *store.Store
	Exams   *exam.Service
	AI      AI
	Signer  *auth.Signer
	Files   storage.Provider
	Service model.ServiceConfig
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	exams    *exam.Service
	ai       AI
	signer   *auth.Signer
	files    storage.Provider
	config   model.ServiceConfig
	validate *validator.Validate
	limiter  *ipLimiter
}

// New creates a new Handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Store == nil || cfg.Exams == nil || cfg.Signer == nil {
		return nil, errors.New("handler: store, exam service and signer are required")
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    cfg.Store,
		exams:    cfg.Exams,
		ai:       cfg.AI,
		signer:   cfg.Signer,
		files:    cfg.Files,
		config:   cfg.Service,
		validate: v,
		limiter:  newIPLimiter(cfg.Service.RateLimit, time.Minute),
	}, nil
}

// Close stops background work.
func (h *Handler) Close() {
	h.limiter.Stop()
}

// Router builds the complete HTTP handler, mounted under the base path when
// one is configured.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(h.cors)
	r.Use(appI18n.Middleware)

	basePath := h.config.BasePath
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.basePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.basePathMiddleware)
		h.Routes(r)
	}
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)

	r.Get("/courses", h.handleListCourses)
	r.Get("/courses/{id}", h.handleGetCourse)
	r.Get("/real-exams", h.handleListExams)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get("/auth/me", h.handleMe)
		r.Post("/auth/change-password", h.handleChangePassword)

		r.Get("/real-exams/records", h.handleListRecords)
		r.Get("/real-exams/{id}", h.handleExamDetail)
		r.Get("/real-exams/{id}/questions", h.handleExamQuestions)
		r.Post("/real-exams/{id}/start", h.handleStartExam)
		r.Put("/real-exams/{id}/answers", h.handleSaveAnswers)
		r.Post("/real-exams/{id}/submit", h.handleSubmitExam)

		r.Get("/wrong-questions", h.handleListWrongQuestions)
		r.Post("/wrong-questions", h.handleAddWrongQuestion)
		r.Patch("/wrong-questions/{id}", h.handleUpdateWrongQuestion)
		r.Delete("/wrong-questions/{id}", h.handleDeleteWrongQuestion)

		r.Get("/notes", h.handleListNotes)
		r.Post("/notes", h.handleSaveNote)

		r.Get("/statistics", h.handleStatistics)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/generate-questions", h.handleGenerateQuestions)
			r.Post("/exam/generate", h.handleGenerateExam)
			r.Post("/analyze-results", h.handleAnalyzeResults)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)

			r.Get("/courses", h.handleAdminListCourses)
			r.Post("/courses", h.handleCreateCourse)
			r.Put("/courses/{id}", h.handleUpdateCourse)
			r.Delete("/courses/{id}", h.handleDeleteCourse)

			r.Post("/real-exams/upload", h.handleUploadPDF)
			r.Post("/real-exams/upload-ocr", h.handleUploadOCR)
			r.Get("/real-exams", h.handleAdminListExams)
			r.Patch("/real-exams/{id}", h.handleSetExamStatus)
			r.Delete("/real-exams/{id}", h.handleDeleteExam)
			r.Get("/real-exams/{id}/export", h.handleExportExam)

			r.Get("/users", h.handleListUsers)
			r.Get("/users/{id}", h.handleGetUser)
			r.Patch("/users/{id}", h.handleUpdateUser)
			r.Delete("/users/{id}", h.handleDeleteUser)
		})

		if local, ok := h.files.(*storage.Local); ok {
			prefix := strings.TrimSuffix(h.config.BasePath+storage.LocalURLPrefix, "/")
			r.With(requireAdmin).Handle(storage.LocalURLPrefix+"*", local.Handler(prefix))
		}
	})
}

func (h *Handler) basePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, r, fmt.Errorf("database unavailable: %w", err))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError reports err with the localized message for its code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.Code(err)
	writeErrorMessage(w, r, err, appI18n.T(r.Context(), code))
}

// writeErrorMessage reports err with a caller-chosen localized message.
func writeErrorMessage(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := apperr.HTTPStatus(err)
	body := envelope{Error: message, Code: apperr.Code(err)}

	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		body.Detail = describeValidation(verrs)
	case apperr.ExposeDetail(err):
		body.Detail = err.Error()
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", body.Code, "error", err)
	}
	writeJSON(w, status, body)
}

func describeValidation(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", apperr.ErrBadRequest, err)
	}
	return h.check(dst)
}

func (h *Handler) check(v any) error {
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", apperr.ErrValidation, verrs)
		}
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

// identity returns the caller; authenticate guarantees it is set.
func identity(r *http.Request) *model.Identity {
	return model.IdentityFromContext(r.Context())
}
