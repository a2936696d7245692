package vjudge

import (
	"context"

	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/store"
	"github.com/oj-federate/rmjac/internal/workflow"
)

// RegisterLocalServices installs the built-in flow terminals and
// durable-update services spec.md 4.4 names onto reg: register_account,
// submit_problem, sync_problem (terminals), update_problem and
// update_verified (durable-update services).
func RegisterLocalServices(reg *Registry, st store.Store, batch *Batch) {
	reg.Register(&registerAccountService{st: st})
	reg.Register(&updateVerifiedService{st: st})
	reg.Register(&submitProblemService{st: st})
	reg.Register(&syncProblemService{st: st, batch: batch})
	reg.Register(&updateProblemService{st: st})
}

// registerAccountService is the flow terminal that finalizes account
// binding once an earlier remote verify_account step has produced a
// "verified" (bool) and "verification_code" (string) under "vjudge_id".
type registerAccountService struct{ st store.Store }

func (s *registerAccountService) Info() workflow.ServiceInfo {
	return workflow.ServiceInfo{Name: "register_account", Description: "finalize vjudge account binding"}
}
func (s *registerAccountService) IsEnd() bool          { return true }
func (s *registerAccountService) Cost() int            { return 1 }
func (s *registerAccountService) InheritStatus() bool  { return true }
func (s *registerAccountService) ImportRequire() workflow.StatusRequire {
	return workflow.StatusRequire{Keys: []workflow.KeyRequirement{
		{Key: "vjudge_id", RequireTrusted: true},
		{Key: "verified", RequireTrusted: true},
	}}
}
func (s *registerAccountService) ExportDescribe() []workflow.StatusDescribe {
	return []workflow.StatusDescribe{{ProducesKeys: []string{"registered"}, TrustedKeys: []string{"registered"}}}
}
func (s *registerAccountService) Verify(ctx context.Context, values workflow.WorkflowValues) (bool, error) {
	_, err := values.RequireTrusted("vjudge_id")
	return err == nil, nil
}
func (s *registerAccountService) Execute(ctx context.Context, values workflow.WorkflowValues) (workflow.WorkflowValues, error) {
	vjudgeID, err := values.RequireTrusted("vjudge_id")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	verified, err := values.RequireTrusted("verified")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}

	node, err := entity.GetVjudgeNode(ctx, s.st, vjudgeID.Value.Str)
	if err != nil {
		return workflow.WorkflowValues{}, err
	}

	code := node.VerificationCode()
	if c, ok := values.GetTrusted("verification_code"); ok {
		code = c.Value.Str
	}
	if err := node.SetVerified(ctx, verified.Value.Bool, code); err != nil {
		return workflow.WorkflowValues{}, err
	}

	out := values.Clone()
	out.AddTrusted("registered", workflow.BoolValue(true), "register_account")
	return out, nil
}

// updateVerifiedService persists a verified-flag update for an existing
// VjudgeNode (spec.md 4.4's durable-update service of the same name).
type updateVerifiedService struct{ st store.Store }

func (s *updateVerifiedService) Info() workflow.ServiceInfo {
	return workflow.ServiceInfo{Name: "update_verified", Description: "persist vjudge account verification state"}
}
func (s *updateVerifiedService) IsEnd() bool         { return false }
func (s *updateVerifiedService) Cost() int           { return 1 }
func (s *updateVerifiedService) InheritStatus() bool { return true }
func (s *updateVerifiedService) ImportRequire() workflow.StatusRequire {
	return workflow.StatusRequire{Keys: []workflow.KeyRequirement{
		{Key: "vjudge_id", RequireTrusted: true},
		{Key: "verified", RequireTrusted: true},
	}}
}
func (s *updateVerifiedService) ExportDescribe() []workflow.StatusDescribe {
	return []workflow.StatusDescribe{{ProducesKeys: []string{"verified_persisted"}, TrustedKeys: []string{"verified_persisted"}}}
}
func (s *updateVerifiedService) Verify(ctx context.Context, values workflow.WorkflowValues) (bool, error) {
	return true, nil
}
func (s *updateVerifiedService) Execute(ctx context.Context, values workflow.WorkflowValues) (workflow.WorkflowValues, error) {
	vjudgeID, err := values.RequireTrusted("vjudge_id")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	verified, err := values.RequireTrusted("verified")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}

	node, err := entity.GetVjudgeNode(ctx, s.st, vjudgeID.Value.Str)
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	if err := node.SetVerified(ctx, verified.Value.Bool, node.VerificationCode()); err != nil {
		return workflow.WorkflowValues{}, err
	}

	out := values.Clone()
	out.AddTrusted("verified_persisted", workflow.BoolValue(true), "update_verified")
	return out, nil
}

// submitProblemService is the flow terminal that materializes a local
// Record once an earlier remote submit step has produced a trusted
// "remote_url" under "statement_id"/"vjudge_id".
type submitProblemService struct{ st store.Store }

func (s *submitProblemService) Info() workflow.ServiceInfo {
	return workflow.ServiceInfo{Name: "submit_problem", Description: "record a dispatched remote submission locally"}
}
func (s *submitProblemService) IsEnd() bool         { return true }
func (s *submitProblemService) Cost() int           { return 1 }
func (s *submitProblemService) InheritStatus() bool { return true }
func (s *submitProblemService) ImportRequire() workflow.StatusRequire {
	return workflow.StatusRequire{Keys: []workflow.KeyRequirement{
		{Key: "statement_id", RequireTrusted: true},
		{Key: "remote_url", RequireTrusted: true},
		{Key: "user_id", RequireTrusted: true},
		{Key: "platform", RequireTrusted: true},
		{Key: "code", RequireTrusted: true},
		{Key: "code_language", RequireTrusted: true},
	}}
}
func (s *submitProblemService) ExportDescribe() []workflow.StatusDescribe {
	return []workflow.StatusDescribe{{ProducesKeys: []string{"record_id"}, TrustedKeys: []string{"record_id"}}}
}
func (s *submitProblemService) Verify(ctx context.Context, values workflow.WorkflowValues) (bool, error) {
	return true, nil
}
func (s *submitProblemService) Execute(ctx context.Context, values workflow.WorkflowValues) (workflow.WorkflowValues, error) {
	statementID, err := values.RequireTrusted("statement_id")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	remoteURL, err := values.RequireTrusted("remote_url")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	userID, err := values.RequireTrusted("user_id")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	platform, err := values.RequireTrusted("platform")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	code, err := values.RequireTrusted("code")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	lang, err := values.RequireTrusted("code_language")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	publicStatus := "Private"
	if v, ok := values.GetTrusted("public_status"); ok {
		publicStatus = v.Value.Str
	}

	record, err := entity.CreateRecord(ctx, s.st, userID.Value.Str, statementID.Value.Str,
		platform.Value.Str, code.Value.Str, lang.Value.Str, remoteURL.Value.Str, publicStatus)
	if err != nil {
		return workflow.WorkflowValues{}, err
	}

	out := values.Clone()
	out.AddTrusted("record_id", workflow.StringValue(record.ID), "submit_problem")
	return out, nil
}

// syncProblemService is the flow terminal that takes a remote worker's
// batch of submission reports and runs them through the update_batch
// pipeline (spec.md 4.4 "Submission upsert").
type syncProblemService struct {
	st    store.Store
	batch *Batch
}

func (s *syncProblemService) Info() workflow.ServiceInfo {
	return workflow.ServiceInfo{Name: "sync_problem", Description: "upsert a batch of remote submission reports"}
}
func (s *syncProblemService) IsEnd() bool         { return true }
func (s *syncProblemService) Cost() int           { return 1 }
func (s *syncProblemService) InheritStatus() bool { return true }
func (s *syncProblemService) ImportRequire() workflow.StatusRequire {
	return workflow.StatusRequire{Keys: []workflow.KeyRequirement{{Key: "submissions", RequireTrusted: true}}}
}
func (s *syncProblemService) ExportDescribe() []workflow.StatusDescribe {
	return []workflow.StatusDescribe{{ProducesKeys: []string{"synced_count"}, TrustedKeys: []string{"synced_count"}}}
}
func (s *syncProblemService) Verify(ctx context.Context, values workflow.WorkflowValues) (bool, error) {
	return true, nil
}
func (s *syncProblemService) Execute(ctx context.Context, values workflow.WorkflowValues) (workflow.WorkflowValues, error) {
	submissionsValue, err := values.RequireTrusted("submissions")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}

	subs := decodeSubmissions(submissionsValue)
	if err := s.batch.UpdateBatch(ctx, subs); err != nil {
		return workflow.WorkflowValues{}, err
	}

	out := values.Clone()
	out.AddTrusted("synced_count", workflow.IntValue(int64(len(subs))), "sync_problem")
	return out, nil
}

// decodeSubmissions translates a workflow.BaseValue list-of-objects (the
// JSON bridge's shape for a remote worker's submission batch) into
// UserSubmissionProp values.
func decodeSubmissions(v workflow.WorkflowValue) []UserSubmissionProp {
	if v.Value.Kind != workflow.KindList {
		return nil
	}
	out := make([]UserSubmissionProp, 0, len(v.Value.List))
	for _, item := range v.Value.List {
		if item.Kind != workflow.KindObject {
			continue
		}
		out = append(out, submissionFromObject(item.Object))
	}
	return out
}

func submissionFromObject(m map[string]any) UserSubmissionProp {
	sub := UserSubmissionProp{
		UserID:          stringField(m, "user_id"),
		Platform:        stringField(m, "platform"),
		RemoteProblemID: stringField(m, "remote_problem_id"),
		RemoteURL:       stringField(m, "remote_url"),
		Code:            stringField(m, "code"),
		CodeLanguage:    stringField(m, "code_language"),
		PublicStatus:    stringField(m, "public_status"),
	}
	if rawTCs, ok := m["testcases"].([]any); ok {
		for _, rawTC := range rawTCs {
			tcMap, ok := rawTC.(map[string]any)
			if !ok {
				continue
			}
			sub.Testcases = append(sub.Testcases, TestcaseResult{
				TestcaseName: stringField(tcMap, "testcase_name"),
				Status:       stringField(tcMap, "status"),
				Score:        intField(tcMap, "score"),
				TimeMS:       intField(tcMap, "time"),
				MemoryKB:     intField(tcMap, "memory"),
			})
		}
	}
	return sub
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// updateProblemService is the durable-update service that persists a
// remote crawl's statement fields onto an existing (or placeholder)
// Statement node.
type updateProblemService struct{ st store.Store }

func (s *updateProblemService) Info() workflow.ServiceInfo {
	return workflow.ServiceInfo{Name: "update_problem", Description: "persist a crawled statement's fields"}
}
func (s *updateProblemService) IsEnd() bool         { return false }
func (s *updateProblemService) Cost() int           { return 1 }
func (s *updateProblemService) InheritStatus() bool { return true }
func (s *updateProblemService) ImportRequire() workflow.StatusRequire {
	return workflow.StatusRequire{Keys: []workflow.KeyRequirement{
		{Key: "statement_id", RequireTrusted: true},
		{Key: "source", RequireTrusted: true},
	}}
}
func (s *updateProblemService) ExportDescribe() []workflow.StatusDescribe {
	return []workflow.StatusDescribe{{ProducesKeys: []string{"problem_updated"}, TrustedKeys: []string{"problem_updated"}}}
}
func (s *updateProblemService) Verify(ctx context.Context, values workflow.WorkflowValues) (bool, error) {
	return true, nil
}
func (s *updateProblemService) Execute(ctx context.Context, values workflow.WorkflowValues) (workflow.WorkflowValues, error) {
	statementID, err := values.RequireTrusted("statement_id")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	source, err := values.RequireTrusted("source")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}

	node, err := s.st.GetNode(ctx, statementID.Value.Str)
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	payload := make(map[string]any, len(node.Payload)+2)
	for k, v := range node.Payload {
		payload[k] = v
	}
	payload["source"] = source.Value.Str
	if v, ok := values.GetTrusted("time_limit"); ok {
		payload["time_limit"] = float64(v.Value.Int)
	}
	if v, ok := values.GetTrusted("memory_limit"); ok {
		payload["memory_limit"] = float64(v.Value.Int)
	}

	if err := s.st.UpdateNode(ctx, statementID.Value.Str, payload); err != nil {
		return workflow.WorkflowValues{}, err
	}

	out := values.Clone()
	out.AddTrusted("problem_updated", workflow.BoolValue(true), "update_problem")
	return out, nil
}
