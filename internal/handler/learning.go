package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mathpath/mathexam/internal/apperr"
	appI18n "github.com/mathpath/mathexam/internal/i18n"
	"github.com/mathpath/mathexam/internal/model"
	"github.com/mathpath/mathexam/internal/store"
)

type wrongQuestionRequest struct {
	QuestionID      string   `json:"questionId" validate:"required,max=64"`
	Content         string   `json:"content" validate:"required,max=10000"`
	UserAnswer      string   `json:"userAnswer" validate:"max=5000"`
	CorrectAnswer   string   `json:"correctAnswer" validate:"max=5000"`
	Score           float64  `json:"score" validate:"min=0"`
	Source          string   `json:"source" validate:"max=200"`
	KnowledgePoints []string `json:"knowledgePoints" validate:"max=20,dive,max=100"`
}

type wrongQuestionPatch struct {
	Mastered *bool   `json:"mastered"`
	Note     *string `json:"note" validate:"omitempty,max=5000"`
}

type noteRequest struct {
	CourseID string `json:"courseId" validate:"required"`
	Content  string `json:"content" validate:"max=50000"`
}

func (h *Handler) handleListWrongQuestions(w http.ResponseWriter, r *http.Request) {
	var mastered *bool
	if m := r.URL.Query().Get("mastered"); m != "" {
		v, err := strconv.ParseBool(m)
		if err != nil {
			writeError(w, r, apperr.ErrBadRequest)
			return
		}
		mastered = &v
	}
	list, err := h.store.ListWrongQuestions(r.Context(), identity(r).UserID, mastered)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

// handleAddWrongQuestion records a miss from practice outside the exam flow.
func (h *Handler) handleAddWrongQuestion(w http.ResponseWriter, r *http.Request) {
	var req wrongQuestionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Source == "" {
		req.Source = "practice"
	}
	wq, err := h.store.RecordWrongQuestion(r.Context(), model.WrongQuestion{
		UserID:          identity(r).UserID,
		QuestionID:      req.QuestionID,
		Content:         req.Content,
		UserAnswer:      req.UserAnswer,
		CorrectAnswer:   req.CorrectAnswer,
		Score:           req.Score,
		Source:          req.Source,
		KnowledgePoints: req.KnowledgePoints,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, wq)
}

func (h *Handler) handleUpdateWrongQuestion(w http.ResponseWriter, r *http.Request) {
	var req wrongQuestionPatch
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wq, err := h.store.UpdateWrongQuestion(r.Context(), identity(r).UserID, chi.URLParam(r, "id"),
		store.WrongQuestionPatch{Mastered: req.Mastered, Note: req.Note})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, wq)
}

func (h *Handler) handleDeleteWrongQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteWrongQuestion(r.Context(), identity(r).UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "Deleted")})
}

func (h *Handler) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.store.ListNotes(r.Context(), identity(r).UserID, r.URL.Query().Get("courseId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, notes)
}

func (h *Handler) handleSaveNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.store.UpsertNote(r.Context(), identity(r).UserID, req.CourseID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, n)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Statistics(r.Context(), identity(r).UserID, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, st)
}

func (h *Handler) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.store.ListCourses(r.Context(), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, courses)
}

func (h *Handler) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCourse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if c.Status != model.StatusActive {
		writeError(w, r, apperr.ErrNotFound)
		return
	}
	writeData(w, http.StatusOK, c)
}
