package server

import (
	"encoding/json"
	"net/http"

	"github.com/oj-federate/rmjac/internal/entity"
)

// registerRequest mirrors spec.md 6's register endpoint body. The verify
// challenge fields are accepted and ignored here — CAPTCHA verification is
// an external collaborator (SPEC_FULL.md 4.6), out of this core's scope.
type registerRequest struct {
	Iden     string `json:"iden"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
	Password string `json:"password"`
}

func (s *Server) RegisterAPI(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Iden == "" || req.Password == "" {
		httpResponse(w, "iden and password are required", http.StatusBadRequest)
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	user, err := entity.CreateUser(r.Context(), s.st, req.Iden, req.Name, req.Email, hash)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, map[string]any{
		"message": "registered",
		"user": map[string]any{
			"id": user.ID, "iden": user.Iden(), "name": user.DisplayName(), "email": user.Email(),
		},
	}, http.StatusOK)
}

type loginRequest struct {
	User      string `json:"user"`
	Password  string `json:"password"`
	LongToken bool   `json:"long_token"`
}

func (s *Server) LoginAPI(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tok, err := s.authSvc.Login(r.Context(), req.User, req.Password, req.LongToken, r.Header.Get("X-Device-Id"))
	if err != nil {
		httpResponse(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	userID, err := tok.OwnerID(r.Context())
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}
	user, err := entity.GetUser(r.Context(), s.st, userID)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, map[string]any{
		"user_id": user.ID,
		"user": map[string]any{
			"id": user.ID, "iden": user.Iden(), "name": user.DisplayName(), "email": user.Email(),
		},
		"token": tok.Value(),
	}, http.StatusOK)
}

func (s *Server) InfoAPI(w http.ResponseWriter, r *http.Request) {
	userID := s.currentUser(r)
	if userID == "" {
		httpResponseJSON(w, map[string]any{"is_login": false}, http.StatusOK)
		return
	}

	user, err := entity.GetUser(r.Context(), s.st, userID)
	if err != nil {
		httpResponseJSON(w, map[string]any{"is_login": false}, http.StatusOK)
		return
	}

	httpResponseJSON(w, map[string]any{
		"is_login": true,
		"user": map[string]any{
			"id": user.ID, "iden": user.Iden(), "name": user.DisplayName(), "email": user.Email(),
		},
	}, http.StatusOK)
}
