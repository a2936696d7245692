package workflow

import (
	"context"
	"errors"
	"testing"
)

// fakeService is a minimal Service for planner/executor tests: it
// requires a fixed key set and always produces a fixed key set.
type fakeService struct {
	name      string
	requires  []KeyRequirement
	produces  []string
	trusted   []string
	cost      int
	isEnd     bool
	inherit   bool
	verifyErr error
	verifyOK  bool
	verifySeq []bool // when set, Verify returns verifySeq[calls] (clamped to the last entry), counting calls
	verifyN   int
	execFn    func(values WorkflowValues) (WorkflowValues, error)
}

func (f *fakeService) Info() ServiceInfo { return ServiceInfo{Name: f.name} }
func (f *fakeService) IsEnd() bool       { return f.isEnd }
func (f *fakeService) Cost() int {
	if f.cost == 0 {
		return 1
	}
	return f.cost
}
func (f *fakeService) ImportRequire() StatusRequire { return StatusRequire{Keys: f.requires} }
func (f *fakeService) ExportDescribe() []StatusDescribe {
	return []StatusDescribe{{ProducesKeys: f.produces, TrustedKeys: f.trusted}}
}
func (f *fakeService) InheritStatus() bool { return f.inherit }
func (f *fakeService) Verify(ctx context.Context, values WorkflowValues) (bool, error) {
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	if len(f.verifySeq) > 0 {
		idx := f.verifyN
		if idx >= len(f.verifySeq) {
			idx = len(f.verifySeq) - 1
		}
		f.verifyN++
		return f.verifySeq[idx], nil
	}
	return f.verifyOK, nil
}
func (f *fakeService) Execute(ctx context.Context, values WorkflowValues) (WorkflowValues, error) {
	if f.execFn != nil {
		return f.execFn(values)
	}
	out := values.Clone()
	for _, k := range f.produces {
		trusted := false
		for _, tk := range f.trusted {
			if tk == k {
				trusted = true
			}
		}
		if trusted {
			out.AddTrusted(k, StringValue("v:"+k), f.name)
		} else {
			out.AddUntrusted(k, StringValue("v:"+k))
		}
	}
	return out, nil
}

func TestPlanFindsShortestChain(t *testing.T) {
	fetch := &fakeService{name: "fetch", produces: []string{"raw"}, verifyOK: true}
	parse := &fakeService{
		name:     "parse",
		requires: []KeyRequirement{{Key: "raw"}},
		produces: []string{"parsed"},
		trusted:  []string{"parsed"},
		verifyOK: true,
	}

	plan, err := Plan(NewValues(nil), []Service{fetch, parse}, "parse")
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("expected a 2-step plan, got %d: %+v", len(plan), plan)
	}
	if plan[0].Info().Name != "fetch" || plan[1].Info().Name != "parse" {
		t.Fatalf("unexpected plan order: %v, %v", plan[0].Info().Name, plan[1].Info().Name)
	}
}

func TestPlanNoPathReturnsErrNoPlan(t *testing.T) {
	parse := &fakeService{
		name:     "parse",
		requires: []KeyRequirement{{Key: "raw"}},
		produces: []string{"parsed"},
		verifyOK: true,
	}
	_, err := Plan(NewValues(nil), []Service{parse}, "parse")
	if !errors.Is(err, ErrNoPlan) {
		t.Fatalf("expected ErrNoPlan, got %v", err)
	}
}

func TestPlanRequiresTrustedKey(t *testing.T) {
	fetch := &fakeService{name: "fetch", produces: []string{"raw"}, verifyOK: true} // untrusted
	consume := &fakeService{
		name:     "consume",
		requires: []KeyRequirement{{Key: "raw", RequireTrusted: true}},
		verifyOK: true,
	}
	_, err := Plan(NewValues(nil), []Service{fetch, consume}, "consume")
	if !errors.Is(err, ErrNoPlan) {
		t.Fatalf("expected ErrNoPlan since raw is never trusted, got %v", err)
	}
}

func TestPlanTieBrokenLexicographically(t *testing.T) {
	// Both candidates satisfy the empty requirement and cost the same;
	// the cheaper lexicographic name should be preferred when it is
	// itself the target.
	zAlpha := &fakeService{name: "zzz", cost: 1, verifyOK: true, isEnd: true}
	aAlpha := &fakeService{name: "aaa", cost: 1, verifyOK: true, isEnd: true}

	plan, err := Plan(NewValues(nil), []Service{zAlpha, aAlpha}, "aaa")
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan) != 1 || plan[0].Info().Name != "aaa" {
		t.Fatalf("expected plan [aaa], got %+v", plan)
	}
}

func TestExecutorRunsPlanToCompletion(t *testing.T) {
	fetch := &fakeService{name: "fetch", produces: []string{"raw"}, verifyOK: true}
	parse := &fakeService{
		name:     "parse",
		requires: []KeyRequirement{{Key: "raw"}},
		produces: []string{"parsed"},
		trusted:  []string{"parsed"},
		verifyOK: true,
		isEnd:    true,
		inherit:  true,
	}

	e := NewExecutor([]Service{fetch, parse}, "parse", nil)
	_, final, err := e.Advance(context.Background(), NewNowStatus("t1", NewValues(nil)))
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if !final.IsFinal {
		t.Fatalf("expected a Final WorkflowValues, got %+v", final)
	}
	if final.Status.Kind != StatusCompleted {
		t.Fatalf("expected StatusCompleted, got %v (%v)", final.Status.Kind, final.Status.Err)
	}
}

func TestExecutorReplansOnVerifyFailure(t *testing.T) {
	broken := &fakeService{name: "broken", produces: []string{"x"}, verifySeq: []bool{false, true}}
	working := &fakeService{name: "working", requires: []KeyRequirement{{Key: "x"}}, produces: []string{"x"}, verifyOK: true, isEnd: true, inherit: true}

	e := NewExecutor([]Service{broken, working}, "working", nil)
	status, final, err := e.Advance(context.Background(), NewNowStatus("t2", NewValues(nil)))
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if !final.IsFinal || final.Status.Kind != StatusCompleted {
		t.Fatalf("expected run to recover via replanning and complete, got %+v", final)
	}
	if status.VerifyFailures != 1 {
		t.Fatalf("expected exactly 1 verify failure recorded, got %d", status.VerifyFailures)
	}
}

// TestExecutorRetriesTargetAfterVerifyFailure exercises the case the
// eviction-on-verify-failure bug broke: the target service itself (b,
// reachable only after a's output exists) fails Verify once and must be
// retried rather than dropped from the candidate set, since dropping it
// leaves no path to the target at all.
func TestExecutorRetriesTargetAfterVerifyFailure(t *testing.T) {
	a := &fakeService{name: "a", produces: []string{"x"}, trusted: []string{"x"}, verifyOK: true}
	b := &fakeService{
		name:      "b",
		requires:  []KeyRequirement{{Key: "x"}},
		produces:  []string{"y"},
		trusted:   []string{"y"},
		verifySeq: []bool{false, true},
		isEnd:     true,
		inherit:   true,
	}

	e := NewExecutor([]Service{a, b}, "b", nil)
	status, final, err := e.Advance(context.Background(), NewNowStatus("t5", NewValues(nil)))
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if !final.IsFinal || final.Status.Kind != StatusCompleted {
		t.Fatalf("expected run to recover from b's verify failure and complete, got %+v", final)
	}
	if got := status.History; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected history [a b], got %v", got)
	}
	if status.VerifyFailures != 1 {
		t.Fatalf("expected exactly 1 verify failure recorded, got %d", status.VerifyFailures)
	}
}

func TestExecutorMaxStepsFailsRun(t *testing.T) {
	// The target service has no requirements but never ends (IsEnd is
	// false), so every pass replans the one-step plan [spin], executes it
	// and goes round again until the executor passes MaxSteps.
	spin := &fakeService{name: "spin", produces: []string{"tick"}, verifyOK: true, inherit: true}

	e := NewExecutor([]Service{spin}, "spin", nil)
	e.MaxSteps = 3
	_, final, err := e.Advance(context.Background(), NewNowStatus("t3", NewValues(nil)))
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if !final.IsFinal || final.Status.Kind != StatusFailed {
		t.Fatalf("expected StatusFailed after exceeding MaxSteps, got %+v", final)
	}
	if final.Status.Err != "max steps" {
		t.Fatalf("expected 'max steps' failure message, got %q", final.Status.Err)
	}
}

func TestExecutorServiceExecuteErrorFailsRun(t *testing.T) {
	boom := &fakeService{
		name:     "boom",
		verifyOK: true,
		execFn: func(values WorkflowValues) (WorkflowValues, error) {
			return WorkflowValues{}, errors.New("remote dispatch failed")
		},
		isEnd: true,
	}
	e := NewExecutor([]Service{boom}, "boom", nil)
	_, final, err := e.Advance(context.Background(), NewNowStatus("t4", NewValues(nil)))
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if !final.IsFinal || final.Status.Kind != StatusFailed {
		t.Fatalf("expected StatusFailed, got %+v", final)
	}
}

type memTaskStore struct {
	saved map[string]NowStatus
}

func newMemTaskStore() *memTaskStore { return &memTaskStore{saved: map[string]NowStatus{}} }

func (m *memTaskStore) Save(ctx context.Context, status NowStatus) error {
	m.saved[status.TaskID] = status
	return nil
}

func (m *memTaskStore) Load(ctx context.Context, taskID string) (NowStatus, error) {
	s, ok := m.saved[taskID]
	if !ok {
		return NowStatus{}, errors.New("not found")
	}
	return s, nil
}

func TestExecutorPersistsStatusAcrossSteps(t *testing.T) {
	fetch := &fakeService{name: "fetch", produces: []string{"raw"}, verifyOK: true, isEnd: true, inherit: true}
	store := newMemTaskStore()
	e := NewExecutor([]Service{fetch}, "fetch", store)

	_, final, err := e.Advance(context.Background(), NewNowStatus("persisted", NewValues(nil)))
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if !final.IsFinal {
		t.Fatalf("expected final values")
	}
	saved, ok := store.saved["persisted"]
	if !ok {
		t.Fatalf("expected status to be persisted under task id")
	}
	if !saved.Done {
		t.Fatalf("expected persisted status to be marked Done")
	}
}

func TestWorkflowValueTrustPromotion(t *testing.T) {
	v := NewUntrusted(StringValue("x"))
	if v.IsTrusted() {
		t.Fatalf("expected fresh value to be untrusted")
	}
	p := v.Promote("svc")
	if !p.IsTrusted() || p.Source != "svc" {
		t.Fatalf("expected promoted value to be trusted with source recorded, got %+v", p)
	}
}

func TestRequireInnerPrefixNeedsTrust(t *testing.T) {
	values := NewValues(map[string]WorkflowValue{
		"raw": NewUntrusted(StringValue("x")),
	})
	if _, err := values.Require("inner:raw"); !errors.Is(err, ErrUntrustedValue) {
		t.Fatalf("expected ErrUntrustedValue for inner:raw on an untrusted value, got %v", err)
	}
	if _, err := values.Require("raw"); err != nil {
		t.Fatalf("expected bare key to succeed regardless of trust, got %v", err)
	}
}
