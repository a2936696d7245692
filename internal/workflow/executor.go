package workflow

import (
	"context"
	"fmt"
	"time"
)

// DefaultMaxSteps bounds how many service executions a single workflow
// run may take before it is force-failed (spec.md 4.3).
const DefaultMaxSteps = 20

// NowStatus is the executor's externally-visible run state, the shape a
// task store persists between advances.
type NowStatus struct {
	Done           bool
	InitValue      WorkflowValues
	IsLazy         bool // true once a plan has been computed and is being replayed
	TaskID         string
	History        []string // service names successfully executed, in order
	VerifyFailures int      // count of Verify failures replanned around so far
}

// NewNowStatus starts a fresh, not-yet-planned run.
func NewNowStatus(taskID string, init WorkflowValues) NowStatus {
	return NowStatus{InitValue: init, TaskID: taskID}
}

// TaskStore persists a NowStatus between Advance calls; the executor
// never assumes it runs to completion in one process lifetime.
type TaskStore interface {
	Save(ctx context.Context, status NowStatus) error
	Load(ctx context.Context, taskID string) (NowStatus, error)
}

// Executor drives a workflow run to completion across one or more Advance
// calls, replanning whenever a step's Verify fails.
type Executor struct {
	Candidates []Service
	Target     string
	MaxSteps   int
	Store      TaskStore
}

// NewExecutor wires a candidate service set and terminal target name
// into a ready-to-run Executor, defaulting MaxSteps per spec.md 4.3.
func NewExecutor(candidates []Service, target string, store TaskStore) *Executor {
	return &Executor{Candidates: candidates, Target: target, MaxSteps: DefaultMaxSteps, Store: store}
}

// Advance runs the six-step algorithm spec.md 4.3 names: check done, plan,
// verify-or-replan, execute-and-merge, persist, loop-or-stop. It returns
// the final WorkflowValues once the run reaches a terminal status, and an
// error only for executor-internal failures (planning/store errors); a
// service-level failure is surfaced as a Failed WorkflowStatus, not a Go
// error.
func (e *Executor) Advance(ctx context.Context, status NowStatus) (NowStatus, WorkflowValues, error) {
	values := status.InitValue

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			final := FinalValues(Failed("deadline exceeded", map[string]any{"history": status.History}))
			return status, final, nil
		default:
		}

		if values.IsFinal {
			status.Done = true
			if e.Store != nil {
				if err := e.Store.Save(ctx, status); err != nil {
					return status, values, fmt.Errorf("workflow: persist final status: %w", err)
				}
			}
			return status, values, nil
		}

		if step >= e.MaxSteps {
			final := FinalValues(Failed("max steps", map[string]any{"history": status.History, "max_steps": e.MaxSteps}))
			status.Done = true
			status.InitValue = final
			if e.Store != nil {
				if err := e.Store.Save(ctx, status); err != nil {
					return status, final, fmt.Errorf("workflow: persist max-steps failure: %w", err)
				}
			}
			return status, final, nil
		}

		plan, err := Plan(values, e.Candidates, e.Target)
		if err != nil {
			final := FinalValues(Failed(err.Error(), map[string]any{"history": status.History}))
			status.Done = true
			status.InitValue = final
			if e.Store != nil {
				_ = e.Store.Save(ctx, status)
			}
			return status, final, nil
		}
		if len(plan) == 0 {
			final := FinalValues(Failed("empty plan", map[string]any{"history": status.History}))
			status.Done = true
			status.InitValue = final
			if e.Store != nil {
				_ = e.Store.Save(ctx, status)
			}
			return status, final, nil
		}

		next := plan[0]
		status.IsLazy = true

		ok, err := next.Verify(ctx, values)
		if err != nil || !ok {
			// Replan: a failed Verify is treated as transient, so next is
			// left in the candidate set and may be selected again on a
			// later pass once its preconditions change (or simply retried,
			// for services like remote-proxy ones whose Verify just checks
			// whether a worker is online right now). The step counter
			// above, not exclusion, is what bounds a persistently-failing
			// service from looping forever.
			status.VerifyFailures++
			continue
		}

		result, err := next.Execute(ctx, values)
		if err != nil {
			final := FinalValues(Failed(err.Error(), map[string]any{"history": status.History, "service": next.Info().Name}))
			status.Done = true
			status.InitValue = final
			if e.Store != nil {
				_ = e.Store.Save(ctx, status)
			}
			return status, final, nil
		}

		values = merge(values, result, next.InheritStatus())
		status.History = append(status.History, next.Info().Name)
		status.InitValue = values

		if e.Store != nil {
			if err := e.Store.Save(ctx, status); err != nil {
				return status, values, fmt.Errorf("workflow: persist step %d: %w", step, err)
			}
		}

		if next.IsEnd() {
			if !values.IsFinal {
				values = FinalValues(Completed(toValueMap(values), "reached end service"))
			}
		}
	}
}

// merge combines a step's result into the running value set. When
// inherit is true, result's keys are overlaid onto prev (prev survives
// where result is silent); when false, result replaces prev outright
// except when result itself is Final, which always wins.
func merge(prev, result WorkflowValues, inherit bool) WorkflowValues {
	if result.IsFinal {
		return result
	}
	if !inherit {
		return result
	}
	out := prev.Clone()
	if out.IsFinal {
		return result
	}
	for k, v := range result.Values {
		out.Values[k] = v
	}
	return out
}

func toValueMap(wv WorkflowValues) map[string]WorkflowValue {
	if wv.IsFinal {
		return nil
	}
	return wv.Values
}

// RunToCompletion is a convenience wrapper for callers that don't need to
// persist intermediate state (e.g. short-lived local services); it calls
// Advance once with no TaskStore, and Advance itself loops until a
// terminal status or the ctx deadline.
func RunToCompletion(ctx context.Context, candidates []Service, target string, init WorkflowValues, timeout time.Duration) (WorkflowValues, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	e := NewExecutor(candidates, target, nil)
	_, final, err := e.Advance(runCtx, NewNowStatus("", init))
	return final, err
}
