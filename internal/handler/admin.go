package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mathpath/mathexam/internal/apperr"
	appI18n "github.com/mathpath/mathexam/internal/i18n"
	"github.com/mathpath/mathexam/internal/llm"
	"github.com/mathpath/mathexam/internal/model"
	"github.com/mathpath/mathexam/internal/pdftext"
	"github.com/mathpath/mathexam/internal/store"
)

// maxUploadBytes bounds an uploaded paper PDF.
const maxUploadBytes = 32 << 20

type courseRequest struct {
	Title       string              `json:"title" validate:"required,max=200"`
	Description string              `json:"description" validate:"max=5000"`
	Grade       string              `json:"grade" validate:"max=20"`
	VideoURL    string              `json:"videoUrl" validate:"omitempty,url"`
	CoverURL    string              `json:"coverUrl" validate:"omitempty,url"`
	SortOrder   int                 `json:"sortOrder"`
	Status      model.AccountStatus `json:"status" validate:"omitempty,oneof=active disabled"`
}

func (c courseRequest) course(id string) model.Course {
	status := c.Status
	if status == "" {
		status = model.StatusActive
	}
	return model.Course{
		ID:          id,
		Title:       c.Title,
		Description: c.Description,
		Grade:       c.Grade,
		VideoURL:    c.VideoURL,
		CoverURL:    c.CoverURL,
		SortOrder:   c.SortOrder,
		Status:      status,
	}
}

type ocrUploadRequest struct {
	Title    string         `json:"title" validate:"required,max=200"`
	OCRText  string         `json:"ocrText" validate:"required"`
	Metadata *llm.PaperMeta `json:"metadata"`
}

type examStatusRequest struct {
	Status model.AccountStatus `json:"status" validate:"required,oneof=active disabled"`
}

type userPatchRequest struct {
	Role   *model.UserRole      `json:"role" validate:"omitempty,oneof=user admin"`
	Points *int                 `json:"points" validate:"omitempty,min=0"`
	Status *model.AccountStatus `json:"status" validate:"omitempty,oneof=active disabled"`
}

func (h *Handler) handleAdminListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.store.ListCourses(r.Context(), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, courses)
}

func (h *Handler) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.store.CreateCourse(r.Context(), req.course(""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("course created", "course_id", c.ID, "title", c.Title)
	writeData(w, http.StatusCreated, c)
}

func (h *Handler) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.store.UpdateCourse(r.Context(), req.course(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteCourse(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("course deleted", "course_id", id)
	writeData(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "Deleted")})
}

// handleUploadPDF imports a paper from a multipart upload with fields
// pdfFile, title and an optional metadata JSON object.
func (h *Handler) handleUploadPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err))
		return
	}
	file, header, err := r.FormFile("pdfFile")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: pdfFile is required", apperr.ErrValidation))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: read upload: %v", apperr.ErrBadRequest, err))
		return
	}

	var meta llm.PaperMeta
	if raw := strings.TrimSpace(r.FormValue("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			writeError(w, r, fmt.Errorf("%w: metadata: %v", apperr.ErrBadRequest, err))
			return
		}
	}
	title := r.FormValue("title")
	if strings.TrimSpace(title) == "" {
		title = strings.TrimSuffix(header.Filename, ".pdf")
	}

	e, err := h.exams.ImportPDF(r.Context(), title, data, meta)
	if err != nil {
		h.writeImportError(w, r, err)
		return
	}
	slog.Info("paper uploaded", "filename", header.Filename, "exam_id", e.ID)
	h.writeImported(w, r, e)
}

func (h *Handler) handleUploadOCR(w http.ResponseWriter, r *http.Request) {
	var req ocrUploadRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	var meta llm.PaperMeta
	if req.Metadata != nil {
		meta = *req.Metadata
	}
	e, err := h.exams.ImportOCR(r.Context(), req.Title, req.OCRText, meta)
	if err != nil {
		h.writeImportError(w, r, err)
		return
	}
	h.writeImported(w, r, e)
}

func (h *Handler) writeImportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pdftext.ErrNoText):
		writeErrorMessage(w, r, err, appI18n.T(r.Context(), "NoTextLayer"))
	case errors.Is(err, apperr.ErrConflict):
		writeErrorMessage(w, r, err, appI18n.T(r.Context(), "PaperAlreadyImported"))
	default:
		writeError(w, r, err)
	}
}

func (h *Handler) writeImported(w http.ResponseWriter, r *http.Request, e model.Exam) {
	writeData(w, http.StatusCreated, map[string]any{
		"exam":    e,
		"message": appI18n.Tp(r.Context(), "QuestionsImported", e.QuestionCount),
	})
}

func (h *Handler) handleAdminListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListAdminExams(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	base := model.BasePathFromContext(r.Context())
	for i := range exams {
		src := exams[i].SourceFile
		if h.files != nil && src != "" && !strings.HasPrefix(src, "ocr:") {
			exams[i].SourceURL = base + h.files.URL(src)
		}
	}
	writeData(w, http.StatusOK, exams)
}

func (h *Handler) handleSetExamStatus(w http.ResponseWriter, r *http.Request) {
	var req examStatusRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.store.SetExamStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.store.GetExam(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("exam status changed", "exam_id", id, "status", req.Status)
	writeData(w, http.StatusOK, e)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	if err := h.exams.DeleteExam(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "Deleted")})
}

func (h *Handler) handleExportExam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetExam(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	export, err := h.store.ExportRecords(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, export)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, users)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, u)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req userPatchRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	u, err := h.store.UpdateUser(r.Context(), id, store.UserPatch{
		Role:   req.Role,
		Points: req.Points,
		Status: req.Status,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user updated", "user_id", id, "by", identity(r).UserID)
	writeData(w, http.StatusOK, u)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == identity(r).UserID {
		writeErrorMessage(w, r, apperr.ErrForbidden, appI18n.T(r.Context(), "CannotDeleteSelf"))
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user deleted", "user_id", id, "by", identity(r).UserID)
	writeData(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "Deleted")})
}
