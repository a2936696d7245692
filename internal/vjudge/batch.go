package vjudge

import (
	"context"

	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/iden"
	"github.com/oj-federate/rmjac/internal/store"
)

// TestcaseResult is one (testcase_name, status, score, time, memory)
// tuple of a remote submission's testcase-level report.
type TestcaseResult struct {
	TestcaseName string
	Status       string
	Score        int
	TimeMS       int
	MemoryKB     int
}

// UserSubmissionProp is one remote submission to upsert, the payload
// spec.md 4.4's update_batch iterates over.
type UserSubmissionProp struct {
	UserID          string
	Platform        string
	RemoteProblemID string
	RemoteURL       string
	Code            string
	CodeLanguage    string
	PublicStatus    string
	Testcases       []TestcaseResult
}

// DiffMethodRemoteJudge marks a testcase created on the fly from a remote
// report, per spec.md 4.4 step 3.
const DiffMethodRemoteJudge = "RemoteJudge"

// UncrawlTag is the placeholder-problem tag spec.md 4.4 step 1 names.
const UncrawlTag = "un_crawl"

// Batch drives the submission-upsert pipeline (spec.md 4.4
// "Submission upsert"): per-remote-problem serialized placeholder
// creation, record upsert by remote URL, on-the-fly testcase creation,
// and aggregate recomputation.
type Batch struct {
	st         store.Store
	trie       *iden.Trie
	aggregator *Aggregator
	keyed      keyedMutex
	systemUser string
}

// NewBatch wires the update_batch dependencies. systemUserID is the user
// recorded on new records whose submission carries no user_id; placeholder
// problems carry no owner at all.
func NewBatch(st store.Store, trie *iden.Trie, aggregator *Aggregator, systemUserID string) *Batch {
	return &Batch{st: st, trie: trie, aggregator: aggregator, systemUser: systemUserID}
}

func problemIdenName(platform, remoteProblemID string) string {
	return "problem/" + platform + remoteProblemID
}

// UpdateBatch processes every submission in subs, each independently
// serialized by remote_problem_id so concurrent calls mentioning the same
// remote problem cannot both create its placeholder (spec.md section 5).
func (b *Batch) UpdateBatch(ctx context.Context, subs []UserSubmissionProp) error {
	for _, sub := range subs {
		if err := b.upsertOne(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) upsertOne(ctx context.Context, sub UserSubmissionProp) error {
	key := sub.Platform + ":" + sub.RemoteProblemID
	b.keyed.Lock(key)
	defer b.keyed.Unlock(key)

	statement, err := b.resolveOrPlaceholder(ctx, sub.Platform, sub.RemoteProblemID)
	if err != nil {
		return err
	}

	record, err := b.findOrCreateRecord(ctx, statement.ID, sub)
	if err != nil {
		return err
	}

	root, err := statement.EnsureRootSubtask(ctx, b.st)
	if err != nil {
		return err
	}

	for _, tc := range sub.Testcases {
		testcaseID, err := b.resolveOrCreateTestcase(ctx, root.ID, tc.TestcaseName)
		if err != nil {
			return err
		}
		if _, err := entity.UpsertJudge(ctx, b.st, testcaseID, record.ID, tc.TimeMS, tc.MemoryKB, tc.Score, tc.Status); err != nil {
			return err
		}
	}

	tuple, err := b.aggregator.Compute(ctx, root.ID, record.ID)
	if err != nil {
		return err
	}
	return record.SetAggregate(ctx, entity.RecordStatus(tuple.Status), tuple.Score)
}

// resolveOrPlaceholder implements step 1: resolve remote_problem_id
// through the identifier trie (component D); on a miss, create a
// placeholder problem with a single "Not yet crawled" statement tagged
// un_crawl, then register it in the trie. The placeholder records no
// owner; the system user is not attached to it.
func (b *Batch) resolveOrPlaceholder(ctx context.Context, platform, remoteProblemID string) (*entity.Statement, error) {
	name := problemIdenName(platform, remoteProblemID)

	ids, err := b.trie.Resolve(ctx, name)
	if err == nil && len(ids) > 0 {
		return entity.GetStatement(ctx, b.st, ids[0])
	}
	if err != nil && err != iden.ErrNotFound {
		return nil, err
	}

	problem, err := entity.CreateProblem(ctx, b.st, remoteProblemID)
	if err != nil {
		return nil, err
	}

	tag, err := entity.CreateProblemTag(ctx, b.st, UncrawlTag)
	if err != nil {
		return nil, err
	}
	if err := problem.AddTag(ctx, tag.ID); err != nil {
		return nil, err
	}

	statement, err := entity.CreateStatement(ctx, b.st, problem.ID, remoteProblemID, "Not yet crawled", 0, 0, false)
	if err != nil {
		return nil, err
	}

	if err := b.trie.Create(ctx, name, []string{statement.ID}); err != nil {
		return nil, err
	}
	return statement, nil
}

// findOrCreateRecord implements step 2.
func (b *Batch) findOrCreateRecord(ctx context.Context, statementID string, sub UserSubmissionProp) (*entity.Record, error) {
	if existing, found, err := entity.FindRecordByRemoteURL(ctx, b.st, sub.RemoteURL); err != nil {
		return nil, err
	} else if found {
		return existing, nil
	}

	userID := sub.UserID
	if userID == "" {
		userID = b.systemUser
	}
	return entity.CreateRecord(ctx, b.st, userID, statementID, sub.Platform, sub.Code, sub.CodeLanguage, sub.RemoteURL, sub.PublicStatus)
}

// resolveOrCreateTestcase implements step 3's on-the-fly testcase
// creation: scan rootID's children for a matching name, creating a
// sentinel-limits leaf and invalidating the parent's cached child list
// when absent. Testcase nodes don't carry a name field in the entity
// layer proper, so the match is tracked via the edge payload's
// "testcase_name" key, set only by this on-the-fly path.
func (b *Batch) resolveOrCreateTestcase(ctx context.Context, rootID, name string) (string, error) {
	edges, err := entity.Children(ctx, b.st, rootID)
	if err != nil {
		return "", err
	}
	for _, e := range edges {
		if e.PayloadString("testcase_name") == name {
			return e.V, nil
		}
	}

	tc, err := entity.CreateTestcase(ctx, b.st, rootID, entity.SentinelLimit, entity.SentinelLimit, DiffMethodRemoteJudge, DiffMethodRemoteJudge, len(edges))
	if err != nil {
		return "", err
	}
	if err := b.tagTestcaseName(ctx, rootID, tc.ID, name); err != nil {
		return "", err
	}
	if err := b.aggregator.InvalidateChildren(ctx, rootID); err != nil {
		return "", err
	}
	return tc.ID, nil
}

// tagTestcaseName sets the testcase_name field on the ordering edge
// CreateTestcase just made, since entity.CreateTestcase's signature
// doesn't accept a name (spec.md 3 doesn't name one for locally-defined
// testcases; only the on-the-fly remote path needs to match by name).
func (b *Batch) tagTestcaseName(ctx context.Context, rootID, testcaseID, name string) error {
	edges, err := entity.Children(ctx, b.st, rootID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.V == testcaseID {
			payload := make(map[string]any, len(e.Payload)+1)
			for k, v := range e.Payload {
				payload[k] = v
			}
			payload["testcase_name"] = name
			return b.st.UpdateEdge(ctx, e.ID, payload)
		}
	}
	return nil
}
