package authority

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dulceopicante/quiz-client/pkg/types"
)

// Handler builds the full route tree the client expects from the authority.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/users", s.handleGetUsers)
	r.Post("/api/users", s.handleRegister)
	r.Post("/api/users/{id}", s.handleSubmitAnswer)
	r.Get("/api/users/limit", s.handleGetLimit)
	r.Get("/api/round", s.handleGetRound)
	r.Get("/api/round/status", s.handleGetRoundStatus)
	r.Post("/api/round/start", s.handleStartRound)
	r.Post("/api/round/next", s.handleNextRound)
	r.Get("/api/answers", s.handleGetAnswers)
	r.Get("/api/answers/status", s.handleGetAnswerBankStatus)
	r.Post("/api/answers/status", s.handleSetAnswerBankStatus)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/ws", s.handleWebsocket)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGetUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.roster())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	p, ok := s.register(req.Name)
	if !ok {
		// The original authority reports a full session as an error payload,
		// not a status code; the client depends on that shape.
		writeJSON(w, http.StatusOK, types.RegisterResponse{Error: "limit of users reached"})
		return
	}
	writeJSON(w, http.StatusOK, types.RegisterResponse{ID: p.ID, Name: p.Name, Answers: p.Answers})
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad participant id", http.StatusBadRequest)
		return
	}

	var req types.SubmitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Round < 0 {
		http.Error(w, "bad answer payload", http.StatusBadRequest)
		return
	}

	if !s.submitAnswer(id, req.Round, req.Answer) {
		http.Error(w, "participant not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleGetLimit(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.capacityReached())
}

func (s *Server) handleGetRound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.currentRound())
}

func (s *Server) handleGetRoundStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.roundStatus())
}

func (s *Server) handleStartRound(w http.ResponseWriter, _ *http.Request) {
	s.startRound()
	writeJSON(w, http.StatusOK, s.roundStatus())
}

func (s *Server) handleNextRound(w http.ResponseWriter, _ *http.Request) {
	round := s.nextRound()
	writeJSON(w, http.StatusOK, round)
}

func (s *Server) handleGetAnswers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.answerPool())
}

func (s *Server) handleGetAnswerBankStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.revealBank())
}

func (s *Server) handleSetAnswerBankStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reveal bool `json:"reveal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	s.setRevealBank(req.Reveal)
	writeJSON(w, http.StatusOK, req.Reveal)
}
