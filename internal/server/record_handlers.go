package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/graph"
)

type createRecordRequest struct {
	Platform     string `json:"platform"`
	Code         string `json:"code"`
	CodeLanguage string `json:"code_language"`
	URL          string `json:"url"`
	PublicStatus string `json:"public_status"`
}

// CreateRecordAPI records a submission against a problem's main
// statement, spec.md 6's `POST /api/record/create/{problem_iden}`. The
// route names a problem, not a statement; this resolves the iden and
// records against the first statement StatementsOf returns, matching the
// common one-statement-per-problem case.
func (s *Server) CreateRecordAPI(w http.ResponseWriter, r *http.Request) {
	userID := s.currentUser(r)
	if userID == "" {
		httpResponse(w, "login required", http.StatusForbidden)
		return
	}

	problemIden := lastPathSegment(r.URL.Path)
	if problemIden == "" {
		httpResponse(w, "missing problem identifier", http.StatusBadRequest)
		return
	}
	ids, err := s.trie.Resolve(r.Context(), problemIden)
	if err != nil || len(ids) == 0 {
		httpResponse(w, "problem not found", http.StatusNotFound)
		return
	}

	statements, err := entity.StatementsOf(r.Context(), s.st, ids[0])
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}
	if len(statements) == 0 {
		httpResponse(w, "problem has no statement", http.StatusNotFound)
		return
	}

	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	record, err := entity.CreateRecord(r.Context(), s.st, userID, statements[0].ID,
		req.Platform, req.Code, req.CodeLanguage, req.URL, req.PublicStatus)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, map[string]any{"record": recordView(record)}, http.StatusOK)
}

func (s *Server) ViewRecordAPI(w http.ResponseWriter, r *http.Request) {
	recordID := lastPathSegment(r.URL.Path)
	if recordID == "" {
		httpResponse(w, "missing record id", http.StatusBadRequest)
		return
	}

	record, err := entity.GetRecord(r.Context(), s.st, recordID)
	if err != nil {
		httpResponse(w, "record not found", http.StatusNotFound)
		return
	}

	judgeData := map[string]any{}
	if stID, err := s.statementIDForRecord(r.Context(), recordID); err == nil && stID != "" {
		if statement, err := entity.GetStatement(r.Context(), s.st, stID); err == nil {
			if root, err := statement.EnsureRootSubtask(r.Context(), s.st); err == nil {
				if tuple, err := s.aggregator.Compute(r.Context(), root.ID, recordID); err == nil {
					judgeData = map[string]any{
						"score": tuple.Score, "time": tuple.Time,
						"memory": tuple.Memory, "status": tuple.Status,
					}
				}
			}
		}
	}

	httpResponseJSON(w, map[string]any{
		"record":     recordView(record),
		"judge_data": judgeData,
	}, http.StatusOK)
}

func recordView(r *entity.Record) map[string]any {
	return map[string]any{
		"id": r.ID, "status": r.Status(), "score": r.Score(),
		"platform": r.Platform(), "code_language": r.CodeLanguage(),
		"remote_url": r.RemoteURL(), "public_status": r.PublicStatus(),
	}
}

// statementIDForRecord recovers a record's owning statement by scanning
// EdgeRecord edges for the one whose record_node_id payload field matches
// recordID — the only place that link is stored (spec.md 3's Record
// index edge, entity.CreateRecord).
func (s *Server) statementIDForRecord(ctx context.Context, recordID string) (string, error) {
	edges, err := s.st.ListEdgesByType(ctx, graph.EdgeRecord)
	if err != nil {
		return "", err
	}
	for _, e := range edges {
		if e.PayloadString("record_node_id") == recordID {
			return e.V, nil
		}
	}
	return "", nil
}
