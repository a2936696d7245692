package vjudge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/iden"
	"github.com/oj-federate/rmjac/internal/kv"
	"github.com/oj-federate/rmjac/internal/store/memory"
)

func newTestDeps(t *testing.T) (*memory.Memory, *kv.Cache, *iden.Trie) {
	t.Helper()
	st := memory.New()
	cache := kv.New(st, time.Minute, time.Minute)
	trie := iden.New(st, cache, nil)
	if err := trie.EnsureRoot(context.Background()); err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}
	return st, cache, trie
}

// TestAggregationSum is spec.md section 8 scenario 6, literally:
// root subtask r with children [t1, t2], judges
// {t1:(30,10,100,AC), t2:(70,20,200,WA)}, method SUM => (100,30,300,WA).
func TestAggregationSum(t *testing.T) {
	st, cache, _ := newTestDeps(t)
	ctx := context.Background()

	root, err := entity.CreateSubtask(ctx, st, "", entity.AggSum, "", 0)
	if err != nil {
		t.Fatalf("CreateSubtask: %v", err)
	}
	t1, err := entity.CreateTestcase(ctx, st, root.ID, 1000, 256, "standard", "exact", 0)
	if err != nil {
		t.Fatalf("CreateTestcase t1: %v", err)
	}
	t2, err := entity.CreateTestcase(ctx, st, root.ID, 1000, 256, "standard", "exact", 1)
	if err != nil {
		t.Fatalf("CreateTestcase t2: %v", err)
	}

	record, err := entity.CreateRecord(ctx, st, "user-1", "stmt-1", "cf", "code", "cpp", "http://x", "Private")
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	if _, err := entity.UpsertJudge(ctx, st, t1.ID, record.ID, 10, 100, 30, "Accepted"); err != nil {
		t.Fatalf("UpsertJudge t1: %v", err)
	}
	if _, err := entity.UpsertJudge(ctx, st, t2.ID, record.ID, 20, 200, 70, "WA"); err != nil {
		t.Fatalf("UpsertJudge t2: %v", err)
	}

	agg := NewAggregator(st, cache)
	tuple, err := agg.Compute(ctx, root.ID, record.ID)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	want := Tuple{Score: 100, Time: 30, Memory: 300, Status: "WA"}
	if tuple != want {
		t.Fatalf("Compute = %+v, want %+v", tuple, want)
	}
}

func TestAggregationDeterministicAcrossRecomputation(t *testing.T) {
	st, cache, _ := newTestDeps(t)
	ctx := context.Background()

	root, _ := entity.CreateSubtask(ctx, st, "", entity.AggMax, "", 0)
	tc, _ := entity.CreateTestcase(ctx, st, root.ID, 1000, 256, "standard", "exact", 0)
	record, _ := entity.CreateRecord(ctx, st, "user-1", "stmt-1", "cf", "code", "cpp", "http://x", "Private")
	_, _ = entity.UpsertJudge(ctx, st, tc.ID, record.ID, 5, 50, 100, "Accepted")

	agg := NewAggregator(st, cache)
	first, err := agg.Compute(ctx, root.ID, record.ID)
	if err != nil {
		t.Fatalf("Compute first: %v", err)
	}
	second, err := agg.Compute(ctx, root.ID, record.ID)
	if err != nil {
		t.Fatalf("Compute second: %v", err)
	}
	if first != second {
		t.Fatalf("aggregation not deterministic: %+v vs %+v", first, second)
	}
}

func TestMinIgnoresSentinelLimits(t *testing.T) {
	st, cache, _ := newTestDeps(t)
	ctx := context.Background()

	root, _ := entity.CreateSubtask(ctx, st, "", entity.AggMin, "", 0)
	tc1, _ := entity.CreateTestcase(ctx, st, root.ID, entity.SentinelLimit, entity.SentinelLimit, "RemoteJudge", "RemoteJudge", 0)
	tc2, _ := entity.CreateTestcase(ctx, st, root.ID, 1000, 256, "standard", "exact", 1)
	record, _ := entity.CreateRecord(ctx, st, "user-1", "stmt-1", "cf", "code", "cpp", "http://x", "Private")

	_, _ = entity.UpsertJudge(ctx, st, tc1.ID, record.ID, entity.SentinelLimit, entity.SentinelLimit, 50, "Accepted")
	_, _ = entity.UpsertJudge(ctx, st, tc2.ID, record.ID, 15, 150, 20, "Accepted")

	agg := NewAggregator(st, cache)
	tuple, err := agg.Compute(ctx, root.ID, record.ID)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if tuple.Time != 15 || tuple.Memory != 150 {
		t.Fatalf("expected MIN to skip sentinel values, got %+v", tuple)
	}
}

func TestFunctionAggregationRunsUserScript(t *testing.T) {
	st, cache, _ := newTestDeps(t)
	ctx := context.Background()

	script := `
		var total = 0, maxTime = 0, maxMem = 0, status = "Accepted";
		for (var i = 0; i < inputs.length; i++) {
			total += inputs[i].score;
			if (inputs[i].time > maxTime) maxTime = inputs[i].time;
			if (inputs[i].memory > maxMem) maxMem = inputs[i].memory;
			if (inputs[i].status !== "Accepted") status = inputs[i].status;
		}
		return {score: total, time: maxTime, memory: maxMem, status: status};
	`
	root, _ := entity.CreateSubtask(ctx, st, "", entity.AggFunction, script, 0)
	tc, _ := entity.CreateTestcase(ctx, st, root.ID, 1000, 256, "standard", "exact", 0)
	record, _ := entity.CreateRecord(ctx, st, "user-1", "stmt-1", "cf", "code", "cpp", "http://x", "Private")
	_, _ = entity.UpsertJudge(ctx, st, tc.ID, record.ID, 5, 50, 42, "Accepted")

	agg := NewAggregator(st, cache)
	tuple, err := agg.Compute(ctx, root.ID, record.ID)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if tuple.Score != 42 || tuple.Status != "Accepted" {
		t.Fatalf("expected script result to flow through, got %+v", tuple)
	}
}

func TestFunctionAggregationBadScriptYieldsUnknownError(t *testing.T) {
	st, cache, _ := newTestDeps(t)
	ctx := context.Background()

	root, _ := entity.CreateSubtask(ctx, st, "", entity.AggFunction, "this is not valid javascript (((", 0)
	tc, _ := entity.CreateTestcase(ctx, st, root.ID, 1000, 256, "standard", "exact", 0)
	record, _ := entity.CreateRecord(ctx, st, "user-1", "stmt-1", "cf", "code", "cpp", "http://x", "Private")
	_, _ = entity.UpsertJudge(ctx, st, tc.ID, record.ID, 5, 50, 42, "Accepted")

	agg := NewAggregator(st, cache)
	tuple, err := agg.Compute(ctx, root.ID, record.ID)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if tuple.Status != StatusUnknownError {
		t.Fatalf("expected UnknownError status for a broken script, got %+v", tuple)
	}
}

// TestPlaceholderProblemIsIdempotent is spec.md section 8 scenario 4:
// 16 concurrent update_batch calls mentioning the same remote_problem_id
// must leave exactly one ProblemNode, one Statement, and 16 records.
func TestPlaceholderProblemIsIdempotent(t *testing.T) {
	st, cache, trie := newTestDeps(t)
	agg := NewAggregator(st, cache)
	batch := NewBatch(st, trie, agg, "system-user")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = batch.UpdateBatch(context.Background(), []UserSubmissionProp{{
				UserID:          fmt.Sprintf("user-%d", i),
				Platform:        "cf",
				RemoteProblemID: "CF9999A",
				RemoteURL:       fmt.Sprintf("http://codeforces.example/%d", i),
				Code:            "int main(){}",
				CodeLanguage:    "cpp",
				PublicStatus:    "Private",
			}})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("UpdateBatch[%d] returned error: %v", i, err)
		}
	}

	problems, err := st.ListNodesByType(context.Background(), graph.NodeProblem)
	if err != nil {
		t.Fatalf("ListNodesByType problems: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected exactly 1 placeholder problem, got %d", len(problems))
	}

	tags := problems[0].Payload["tags"]
	tagList, _ := tags.([]any)
	if len(tagList) != 1 {
		t.Fatalf("expected exactly 1 tag on the placeholder problem, got %v", tags)
	}

	statements, err := st.ListNodesByType(context.Background(), graph.NodeProblemStatement)
	if err != nil {
		t.Fatalf("ListNodesByType statements: %v", err)
	}
	if len(statements) != 1 {
		t.Fatalf("expected exactly 1 statement, got %d", len(statements))
	}

	records, err := st.ListNodesByType(context.Background(), graph.NodeRecord)
	if err != nil {
		t.Fatalf("ListNodesByType records: %v", err)
	}
	if len(records) != n {
		t.Fatalf("expected %d records, got %d", n, len(records))
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km keyedMutex
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("k")
			defer km.Unlock("k")
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected all 50 critical sections to run, counter=%d", counter)
	}
}
