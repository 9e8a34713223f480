package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mathpath/mathexam/internal/apperr"
	appI18n "github.com/mathpath/mathexam/internal/i18n"
	"github.com/mathpath/mathexam/internal/model"
)

type answersRequest struct {
	RecordID string            `json:"recordId" validate:"required"`
	Answers  map[string]string `json:"answers" validate:"max=500,dive,max=5000"`
}

func examFilter(r *http.Request) (model.ExamFilter, error) {
	q := r.URL.Query()
	f := model.ExamFilter{
		Grade:    q.Get("grade"),
		Region:   q.Get("region"),
		Semester: q.Get("semester"),
		ExamType: q.Get("examType"),
		Keyword:  q.Get("keyword"),
	}
	if y := q.Get("year"); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			return f, apperr.ErrBadRequest
		}
		f.Year = year
	}
	return f, nil
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	f, err := examFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	exams, err := h.store.ListExams(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, exams)
}

func (h *Handler) handleExamDetail(w http.ResponseWriter, r *http.Request) {
	d, err := h.exams.Detail(r.Context(), chi.URLParam(r, "id"), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (h *Handler) handleExamQuestions(w http.ResponseWriter, r *http.Request) {
	qs, visible, err := h.exams.Questions(r.Context(), chi.URLParam(r, "id"), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"questions":      qs,
		"answersVisible": visible,
	})
}

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	rec, err := h.exams.Start(r.Context(), chi.URLParam(r, "id"), identity(r).UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientPoints) {
			writeErrorMessage(w, r, err, appI18n.Td(r.Context(), "InsufficientPointsDetail",
				map[string]any{"Cost": h.exams.Cost()}))
			return
		}
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *Handler) handleSaveAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.store.GetRecord(r.Context(), req.RecordID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec.ExamID != chi.URLParam(r, "id") {
		writeError(w, r, apperr.ErrNotFound)
		return
	}
	rec, err = h.exams.SaveAnswers(r.Context(), req.RecordID, identity(r).UserID, req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *Handler) handleSubmitExam(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.exams.Submit(r.Context(), chi.URLParam(r, "id"), req.RecordID, identity(r).UserID, req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.exams.Records(r.Context(), identity(r).UserID, r.URL.Query().Get("examId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, recs)
}
