package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/iden"
)

// statementProp is one entry of a problem-create request's
// problem_statement list, spec.md 6.
type statementProp struct {
	Iden        string `json:"iden"`
	Source      string `json:"source"`
	TimeLimit   int    `json:"time_limit"`
	MemoryLimit int    `json:"memory_limit"`
}

type createProblemRequest struct {
	ProblemIden      string          `json:"problem_iden"`
	ProblemName      string          `json:"problem_name"`
	ProblemStatement []statementProp `json:"problem_statement"`
	Tags             []string        `json:"tags"`
}

func (s *Server) CreateProblemAPI(w http.ResponseWriter, r *http.Request) {
	var req createProblemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProblemIden == "" {
		httpResponse(w, "problem_iden is required", http.StatusBadRequest)
		return
	}

	problem, err := entity.CreateProblem(r.Context(), s.st, req.ProblemName)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	if err := s.trie.Create(r.Context(), req.ProblemIden, []string{problem.ID}); err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	if userID := s.currentUser(r); userID != "" {
		caps := uint64(entity.CapRead | entity.CapWrite | entity.CapManage)
		if err := s.perms.Grant(r.Context(), graph.EdgePermProblem, userID, problem.ID, caps); err != nil {
			httpResponseError(w, err, http.StatusInternalServerError)
			return
		}
	}

	for _, desc := range req.Tags {
		tag, err := entity.CreateProblemTag(r.Context(), s.st, desc)
		if err != nil {
			httpResponseError(w, err, http.StatusInternalServerError)
			return
		}
		if err := problem.AddTag(r.Context(), tag.ID); err != nil {
			httpResponseError(w, err, http.StatusInternalServerError)
			return
		}
	}

	for _, st2 := range req.ProblemStatement {
		if _, err := entity.CreateStatement(r.Context(), s.st, problem.ID, st2.Iden, st2.Source, st2.TimeLimit, st2.MemoryLimit, false); err != nil {
			httpResponseError(w, err, http.StatusInternalServerError)
			return
		}
	}

	httpResponseJSON(w, map[string]any{
		"problem": map[string]any{"id": problem.ID, "name": problem.Name(), "iden": req.ProblemIden},
	}, http.StatusOK)
}

func (s *Server) ViewProblemAPI(w http.ResponseWriter, r *http.Request) {
	name := lastPathSegment(r.URL.Path)
	if name == "" {
		httpResponse(w, "missing problem identifier", http.StatusBadRequest)
		return
	}

	ids, err := s.trie.Resolve(r.Context(), name)
	if errors.Is(err, iden.ErrNotFound) {
		httpResponse(w, "problem not found", http.StatusNotFound)
		return
	} else if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}
	if len(ids) == 0 {
		httpResponse(w, "problem not found", http.StatusNotFound)
		return
	}

	problem, err := entity.GetProblem(r.Context(), s.st, ids[0])
	if err != nil {
		httpResponse(w, "problem not found", http.StatusNotFound)
		return
	}

	statements, err := entity.StatementsOf(r.Context(), s.st, problem.ID)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, len(statements))
	for i, st2 := range statements {
		out[i] = map[string]any{
			"iden": st2.Iden(), "source": st2.Source(),
			"time_limit": st2.TimeLimit(), "memory_limit": st2.MemoryLimit(),
		}
	}

	httpResponseJSON(w, map[string]any{
		"model":     map[string]any{"id": problem.ID, "name": problem.Name(), "tags": problem.Tags()},
		"statement": out,
	}, http.StatusOK)
}

func (s *Server) AddStatementAPI(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	var problemIden string
	for i, p := range parts {
		if p == "manage" && i+1 < len(parts) {
			problemIden = parts[i+1]
			break
		}
	}
	if problemIden == "" {
		httpResponse(w, "missing problem identifier", http.StatusBadRequest)
		return
	}

	ids, err := s.trie.Resolve(r.Context(), problemIden)
	if errors.Is(err, iden.ErrNotFound) || len(ids) == 0 {
		httpResponse(w, "problem not found", http.StatusNotFound)
		return
	} else if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}
	problemID := ids[0]

	userID := s.currentUser(r)
	if userID == "" || !s.perms.Verify(graph.EdgePermProblem, userID, problemID, entity.CapWrite) {
		httpResponse(w, "not permitted to manage this problem", http.StatusForbidden)
		return
	}

	var prop statementProp
	if err := json.NewDecoder(r.Body).Decode(&prop); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	st2, err := entity.CreateStatement(r.Context(), s.st, problemID, prop.Iden, prop.Source, prop.TimeLimit, prop.MemoryLimit, false)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, map[string]any{"result": map[string]any{"statement_id": st2.ID}}, http.StatusOK)
}

func lastPathSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 {
		return trimmed
	}
	return trimmed[idx+1:]
}
