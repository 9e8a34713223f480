package handler

import (
	"errors"
	"net/http"

	"github.com/mathpath/mathexam/internal/llm"
)

var errNoAI = errors.New("LLM client not configured")

func (h *Handler) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	var req llm.GenerateQuestionsRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if h.ai == nil {
		writeError(w, r, errNoAI)
		return
	}
	qs, err := h.ai.GenerateQuestions(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"questions": qs})
}

func (h *Handler) handleGenerateExam(w http.ResponseWriter, r *http.Request) {
	var req llm.GenerateExamRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if h.ai == nil {
		writeError(w, r, errNoAI)
		return
	}
	e, err := h.ai.GenerateExam(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, e)
}

func (h *Handler) handleAnalyzeResults(w http.ResponseWriter, r *http.Request) {
	var req llm.AnalyzeRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if h.ai == nil {
		writeError(w, r, errNoAI)
		return
	}
	a, err := h.ai.AnalyzeResults(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, a)
}
