package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oj-federate/rmjac/internal/crypto"
	"github.com/oj-federate/rmjac/internal/workflow"
)

// capturingService records whatever token value it received in a trusted
// "token" key, standing in for a real remote-proxy service so the test
// can assert the credential actually arrived decrypted.
type capturingService struct {
	gotToken string
}

func (c *capturingService) Info() workflow.ServiceInfo {
	return workflow.ServiceInfo{Name: "capture"}
}
func (c *capturingService) IsEnd() bool { return true }
func (c *capturingService) Cost() int   { return 1 }
func (c *capturingService) ImportRequire() workflow.StatusRequire {
	return workflow.StatusRequire{Keys: []workflow.KeyRequirement{{Key: "token", RequireTrusted: true}}}
}
func (c *capturingService) ExportDescribe() []workflow.StatusDescribe { return nil }
func (c *capturingService) InheritStatus() bool                       { return true }
func (c *capturingService) Verify(ctx context.Context, values workflow.WorkflowValues) (bool, error) {
	return true, nil
}
func (c *capturingService) Execute(ctx context.Context, values workflow.WorkflowValues) (workflow.WorkflowValues, error) {
	v, err := values.RequireTrusted("token")
	if err != nil {
		return workflow.WorkflowValues{}, err
	}
	c.gotToken = v.Value.Str
	return values, nil
}

// TestBindThenExecuteRoundTripsEncryptedCredential exercises the
// maintainer-flagged gap directly: BindVjudgeAPI must encrypt the auth
// payload at rest, and ExecuteWorkflowAPI (via VjudgeNode.CredentialPayload)
// must decrypt it again before handing it to a workflow service — the
// plaintext credential should never be visible anywhere except inside the
// service's Execute call.
func TestBindThenExecuteRoundTripsEncryptedCredential(t *testing.T) {
	s := newTestServer(t)
	key, err := crypto.DeriveKey("unit-test-passphrase")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	s.encKey = key

	capture := &capturingService{}
	s.registry.Register(capture)

	doJSON(t, s, http.MethodPost, "/api/user/auth/register", registerRequest{Iden: "bob", Password: "pw"})
	loginRec := doJSON(t, s, http.MethodPost, "/api/user/auth/login", loginRequest{User: "bob", Password: "pw"})
	env := decodeEnvelope(t, loginRec)
	data, _ := env["data"].(map[string]any)
	token, _ := data["token"].(string)

	bindReq := httptest.NewRequest(http.MethodPost, "/api/vjudge/bind/", bytes.NewBufferString(
		`{"platform":"codeforces","method":"Token","iden":"bob","auth":"super-secret-token"}`))
	bindReq.Header.Set("Authorization", "Bearer "+token)
	bindRec := httptest.NewRecorder()
	s.server.ServeHTTP(bindRec, bindReq)
	if bindRec.Code != http.StatusOK {
		t.Fatalf("bind: got status %d body %s", bindRec.Code, bindRec.Body.String())
	}
	bindEnv := decodeEnvelope(t, bindRec)
	bindData, _ := bindEnv["data"].(map[string]any)
	bindInner, _ := bindData["data"].(map[string]any)
	vjudgeID, _ := bindInner["vjudge_id"].(string)
	if vjudgeID == "" {
		t.Fatalf("bind response carried no vjudge_id: %v", bindEnv)
	}

	node, err := s.st.GetNode(context.Background(), vjudgeID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	stored, _ := node.Payload["auth_payload"].(string)
	if stored == "super-secret-token" {
		t.Fatalf("expected auth_payload to be encrypted at rest, got plaintext")
	}
	if !crypto.IsEncrypted(stored) {
		t.Fatalf("expected auth_payload to carry the enc: prefix, got %q", stored)
	}

	execReq := httptest.NewRequest(http.MethodPost, "/api/vjudge/workflow/execute", bytes.NewBufferString(
		`{"target_service":"capture","vjudge_id":"`+vjudgeID+`"}`))
	execReq.Header.Set("Authorization", "Bearer "+token)
	execRec := httptest.NewRecorder()
	s.server.ServeHTTP(execRec, execReq)
	if execRec.Code != http.StatusOK {
		t.Fatalf("execute: got status %d body %s", execRec.Code, execRec.Body.String())
	}

	if capture.gotToken != "super-secret-token" {
		t.Fatalf("expected capturing service to receive the decrypted token, got %q", capture.gotToken)
	}
}
