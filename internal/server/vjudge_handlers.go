package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/oj-federate/rmjac/internal/crypto"
	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/workflow"
)

type submitVjudgeRequest struct {
	StatementID string `json:"stmt_id"`
	VjudgeID    string `json:"vjudge_id"`
	Code        string `json:"code"`
	Language    string `json:"language"`
	JudgeOption string `json:"judge_option"`
	PublicView  bool   `json:"public_view"`
}

// SubmitVjudgeAPI dispatches a submission to a bound remote account.
// Dispatch itself is the remote_submit service's job (an EdgeBus
// remote-proxy service the registry only has once a worker registers
// one); this records the local Record immediately in Pending status, the
// shape submit_problem's workflow terminal also produces, so the caller
// gets a record handle back whether or not a worker is online yet.
func (s *Server) SubmitVjudgeAPI(w http.ResponseWriter, r *http.Request) {
	userID := s.currentUser(r)
	if userID == "" {
		httpResponse(w, "login required", http.StatusForbidden)
		return
	}

	var req submitVjudgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StatementID == "" || req.VjudgeID == "" {
		httpResponse(w, "stmt_id and vjudge_id are required", http.StatusBadRequest)
		return
	}

	vjudgeNode, err := entity.GetVjudgeNode(r.Context(), s.st, req.VjudgeID)
	if err != nil {
		httpResponse(w, "vjudge account not found", http.StatusNotFound)
		return
	}
	if !vjudgeNode.Verified() {
		httpResponse(w, "vjudge account not verified", http.StatusBadRequest)
		return
	}

	publicStatus := "Private"
	if req.PublicView {
		publicStatus = "Public"
	}

	record, err := entity.CreateRecord(r.Context(), s.st, userID, req.StatementID,
		vjudgeNode.Platform(), req.Code, req.Language, "", publicStatus)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	task, err := entity.CreateVjudgeTask(r.Context(), s.st, vjudgeNode.ID, "submit_problem")
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}
	_ = task.Advance(r.Context(), entity.TaskDispatched, "submission recorded as "+record.ID+" judge_option="+req.JudgeOption)

	httpResponseJSON(w, map[string]any{"record": recordView(record)}, http.StatusOK)
}

type bindVjudgeRequest struct {
	Platform     string `json:"platform"`
	Method       string `json:"method"`
	Iden         string `json:"iden"`
	Auth         string `json:"auth"`
	BypassCheck  bool   `json:"bypass_check"`
	WorkerSocket string `json:"ws_id"`
}

// BindVjudgeAPI creates the caller's VjudgeNode for a remote platform,
// spec.md 6's `POST /api/vjudge/bind/`. req.Auth is encrypted at rest with
// the server's configured key (a no-op when none is configured) before
// CreateVjudgeNode persists it; the register_account/verify_account
// handshake that flips Verified() is out of this handler's scope
// (SPEC_FULL.md 4.6's external collaborators). bypass_check records the
// node pre-verified for platforms that need no remote round trip.
func (s *Server) BindVjudgeAPI(w http.ResponseWriter, r *http.Request) {
	userID := s.currentUser(r)
	if userID == "" {
		httpResponse(w, "login required", http.StatusForbidden)
		return
	}

	var req bindVjudgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Platform == "" || req.Method == "" || req.Iden == "" {
		httpResponse(w, "platform, method and iden are required", http.StatusBadRequest)
		return
	}

	encryptedAuth, err := crypto.EncryptCredential(req.Auth, s.encKey)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	node, err := entity.CreateVjudgeNode(r.Context(), s.st, userID, req.Platform, req.Iden,
		entity.RemoteMode(req.Method), encryptedAuth)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}
	if req.BypassCheck {
		if err := node.SetVerified(r.Context(), true, ""); err != nil {
			httpResponseError(w, err, http.StatusInternalServerError)
			return
		}
	}

	httpResponseJSON(w, map[string]any{"data": map[string]any{
		"vjudge_id": node.ID, "verified": node.Verified(),
	}}, http.StatusOK)
}

type assignTaskRequest struct {
	VjudgeNodeID string `json:"vjudge_node_id"`
	Range        string `json:"range"`
	WorkerSocket string `json:"ws_id"`
}

// AssignTaskAPI creates a sync_problem VjudgeTaskNode against a bound
// account, spec.md 6's `POST /api/vjudge/assign_task/`. Range is recorded
// as the task's first log line; actual crawl scheduling belongs to an
// EdgeBus worker or the scheduler, not this handler.
func (s *Server) AssignTaskAPI(w http.ResponseWriter, r *http.Request) {
	userID := s.currentUser(r)
	if userID == "" {
		httpResponse(w, "login required", http.StatusForbidden)
		return
	}

	var req assignTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.VjudgeNodeID == "" {
		httpResponse(w, "vjudge_node_id is required", http.StatusBadRequest)
		return
	}

	if _, err := entity.GetVjudgeNode(r.Context(), s.st, req.VjudgeNodeID); err != nil {
		httpResponse(w, "vjudge account not found", http.StatusNotFound)
		return
	}

	task, err := entity.CreateVjudgeTask(r.Context(), s.st, req.VjudgeNodeID, "sync_problem")
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}
	if err := task.Advance(r.Context(), entity.TaskDispatched, "range="+req.Range); err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, map[string]any{"data": map[string]any{"task_id": task.ID}}, http.StatusOK)
}

// ListTasksAPI paginates VjudgeTaskNodes by open/closed status, spec.md
// 6's `GET /api/vjudge/tasks/list?status=open|closed&page=&limit=`. open
// covers every non-terminal status (pending/dispatched/running plus the
// ever-running cron_online); closed covers completed/failed.
func (s *Server) ListTasksAPI(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}

	tasks, err := entity.ListVjudgeTasks(r.Context(), s.st)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	var filtered []*entity.VjudgeTaskNode
	for _, t := range tasks {
		if status == "" || taskIsOpen(t.Status()) == (status == "open") {
			filtered = append(filtered, t)
		}
	}

	total := len(filtered)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]map[string]any, 0, end-start)
	for _, t := range filtered[start:end] {
		out = append(out, map[string]any{
			"id": t.ID, "status": t.Status(), "service": t.ServiceName(),
		})
	}

	httpResponseJSON(w, map[string]any{"data": map[string]any{"data": out, "total": total}}, http.StatusOK)
}

func taskIsOpen(status entity.VjudgeTaskStatus) bool {
	switch status {
	case entity.TaskCompleted, entity.TaskFailed:
		return false
	default:
		return true
	}
}

type executeWorkflowRequest struct {
	TargetService string                    `json:"target_service"`
	InitialValues map[string]valuePropInput `json:"initial_values"`
	VjudgeID      string                    `json:"vjudge_id"`
}

type valuePropInput struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// ExecuteWorkflowAPI runs a workflow toward target_service and returns its
// task_id. The run advances synchronously within this call, so by the time
// task_id is returned the task has reached a terminal status (or failed
// with an error response). When vjudge_id names a bound account, its
// credential is decrypted server-side and added to the run's trusted
// initial values (never echoed back in the response), together with the
// platform:{name} key remote-proxy services require, so a remote-proxy
// service further down the plan (e.g. verify_account) can use it without
// the caller ever handling the decrypted secret.
func (s *Server) ExecuteWorkflowAPI(w http.ResponseWriter, r *http.Request) {
	userID := s.currentUser(r)
	if userID == "" {
		httpResponse(w, "login required", http.StatusForbidden)
		return
	}

	var req executeWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TargetService == "" {
		httpResponse(w, "target_service is required", http.StatusBadRequest)
		return
	}

	values := workflow.NewValues(nil)
	for key, prop := range req.InitialValues {
		values.AddTrusted(key, baseValueOf(prop), "http_request")
	}
	values.AddTrusted("user_id", workflow.StringValue(userID), "http_request")

	if req.VjudgeID != "" {
		vjudgeNode, err := entity.GetVjudgeNode(r.Context(), s.st, req.VjudgeID)
		if err != nil {
			httpResponse(w, "vjudge account not found", http.StatusNotFound)
			return
		}
		cred, err := vjudgeNode.CredentialPayload(s.encKey)
		if err != nil {
			httpResponseError(w, err, http.StatusInternalServerError)
			return
		}
		for key, v := range cred {
			values.AddTrusted(key, workflow.BaseValueFromJSON(v), "vjudge_credential")
		}
		values.AddTrusted("platform", workflow.StringValue(vjudgeNode.Platform()), "vjudge_credential")
		values.AddTrusted("platform:"+vjudgeNode.Platform(), workflow.BoolValue(true), "vjudge_credential")
	}

	task, err := entity.CreateWorkflowTask(r.Context(), s.st, userID, req.TargetService)
	if err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	executor := workflow.NewExecutor(s.registry.All(), req.TargetService, s.taskSt)
	status := workflow.NewNowStatus(task.ID, values)
	if _, _, err := executor.Advance(r.Context(), status); err != nil {
		httpResponseError(w, err, http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, map[string]any{"task_id": task.ID}, http.StatusOK)
}

func baseValueOf(prop valuePropInput) workflow.BaseValue {
	switch prop.Type {
	case "bool":
		b, _ := prop.Value.(bool)
		return workflow.BoolValue(b)
	case "int":
		switch v := prop.Value.(type) {
		case float64:
			return workflow.IntValue(int64(v))
		case int:
			return workflow.IntValue(int64(v))
		}
		return workflow.IntValue(0)
	case "number":
		f, _ := prop.Value.(float64)
		return workflow.NumberValue(f)
	case "string":
		str, _ := prop.Value.(string)
		return workflow.StringValue(str)
	default:
		return workflow.BaseValueFromJSON(prop.Value)
	}
}

// WorkflowStatusAPI reports a task's durable status, spec.md 6's
// `GET /api/vjudge/workflow/status/{task_id}`.
func (s *Server) WorkflowStatusAPI(w http.ResponseWriter, r *http.Request) {
	taskID := lastPathSegment(r.URL.Path)
	if taskID == "" {
		httpResponse(w, "missing task id", http.StatusBadRequest)
		return
	}

	task, err := entity.GetVjudgeTask(r.Context(), s.st, taskID)
	if err != nil {
		httpResponse(w, "task not found", http.StatusNotFound)
		return
	}

	resp := map[string]any{
		"db_status": task.Status(),
		"log":       task.Log(),
	}
	if snap := task.Snapshot(); snap != "" {
		var parsed any
		if err := json.Unmarshal([]byte(snap), &parsed); err == nil {
			resp["workflow_status"] = parsed
		}
	}

	httpResponseJSON(w, resp, http.StatusOK)
}

type rotateKeyRequest struct {
	PublicKey string `json:"public_key"`
}

// RotateKeyAPI is the settings-group key-rotation operation an admin token
// protects. It checks that the body carries a non-empty public_key and
// replies "key rotation accepted"; it does not store the key, and the key
// EdgeBus verifies workers against stays the one loaded at startup.
func (s *Server) RotateKeyAPI(w http.ResponseWriter, r *http.Request) {
	var req rotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PublicKey == "" {
		httpResponse(w, "public_key is required", http.StatusBadRequest)
		return
	}

	httpResponseJSON(w, map[string]any{"message": "key rotation accepted"}, http.StatusOK)
}
