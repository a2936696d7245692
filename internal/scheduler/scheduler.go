// Package scheduler implements the cooperative cron runner (component J):
// at boot it enumerates every VjudgeTaskNode left in status cron_online,
// recovers its cron expression and payload from the task's own log, and
// re-registers it with a hardloop cron runner. Unlike the teacher's
// scheduler.go, there is no cluster leader lock — spec.md's single-writer
// core rules out multi-instance deployment, so the scheduler always runs.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/worldline-go/hardloop"

	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/store"
)

// infoMarker/doneMarker delimit the JSON payload embedded in a cron task's
// log, per spec.md 4.7: "the JSON block between [TASK_INFO] and [TASK_DONE]".
const (
	cronPrefix = "cron:"
	infoMarker = "[TASK_INFO]"
	doneMarker = "[TASK_DONE]"
)

// cronRunner is satisfied by hardloop's unexported cron job type, named here
// so Scheduler doesn't reference it directly (same seam the teacher uses).
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// TaskRunner executes one named internal task (e.g. "upload_recent") with
// its decoded cron payload. Scheduler doesn't know what a task does; that's
// supplied by whichever package registers service names (internal/vjudge).
type TaskRunner func(ctx context.Context, taskName string, payload map[string]any) error

// Scheduler drives every cron_online VjudgeTaskNode found at boot.
type Scheduler struct {
	st     store.Store
	runner TaskRunner

	mu     sync.Mutex
	cron   cronRunner
	cancel context.CancelFunc
}

func New(st store.Store, runner TaskRunner) *Scheduler {
	return &Scheduler{st: st, runner: runner}
}

// Start loads every cron_online task, parses its schedule and payload, and
// registers it with a fresh hardloop cron runner. Call once at boot.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := entity.ListCronOnlineTasks(ctx, s.st)
	if err != nil {
		return fmt.Errorf("scheduler: list cron_online tasks: %w", err)
	}

	crons := make([]hardloop.Cron, 0, len(tasks))
	for _, task := range tasks {
		spec, payload, name, ok := parseCronLog(task.Log())
		if !ok {
			continue
		}
		t := task
		crons = append(crons, hardloop.Cron{
			Name:  "vjudge-task-" + t.ID,
			Specs: []string{spec},
			Func:  s.makeCronFunc(t, name, payload),
		})
	}

	if len(crons) == 0 {
		return nil
	}

	cronJob, err := hardloop.NewCron(crons...)
	if err != nil {
		return fmt.Errorf("scheduler: create cron runner: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cron = cronJob

	if err := cronJob.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("scheduler: start cron runner: %w", err)
	}
	return nil
}

// Stop halts the cron runner. Safe to call multiple times, including before
// Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

func (s *Scheduler) makeCronFunc(task *entity.VjudgeTaskNode, taskName string, payload map[string]any) func(context.Context) error {
	return func(ctx context.Context) error {
		err := s.runner(ctx, taskName, payload)

		outcome := "ok"
		if err != nil {
			outcome = "error: " + err.Error()
		}
		// cron_online tasks stay cron_online across runs; only the log grows.
		_ = task.Advance(ctx, entity.TaskCronOnline, fmt.Sprintf("cron fire %s: %s", taskName, outcome))

		// Never propagate the error to hardloop: one bad fire must not stop
		// the rest of this task's future schedule.
		return nil
	}
}

// parseCronLog recovers (cron expression, decoded payload, task name) from
// a VjudgeTaskNode's log, per spec.md 4.7. The task name is read from the
// payload's own "task" key, the name of the internal service to invoke
// (e.g. "upload_recent"); ok is false if either the cron: line or a well-
// formed TASK_INFO/TASK_DONE block is missing.
func parseCronLog(log string) (spec string, payload map[string]any, taskName string, ok bool) {
	for _, line := range strings.Split(log, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, cronPrefix)
		if idx == -1 {
			continue
		}
		spec = strings.TrimSpace(line[idx+len(cronPrefix):])
		break
	}
	if spec == "" {
		return "", nil, "", false
	}

	start := strings.Index(log, infoMarker)
	end := strings.Index(log, doneMarker)
	if start == -1 || end == -1 || end < start {
		return "", nil, "", false
	}

	raw := strings.TrimSpace(log[start+len(infoMarker) : end])
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return "", nil, "", false
	}

	name, _ := decoded["task"].(string)
	if name == "" {
		return "", nil, "", false
	}

	return spec, decoded, name, true
}

// EncodeCronLog builds the log fragment a cron_online task's log should
// contain, the inverse of parseCronLog — used when registering a new
// scheduled task (e.g. from an HTTP handler) so its log is readable by a
// subsequent scheduler boot.
func EncodeCronLog(cronExpr, taskName string, payload map[string]any) (string, error) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["task"] = taskName

	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s %s %s\n%s %s %s\n",
		time.Now().UTC().Format(time.RFC3339), cronPrefix, cronExpr,
		infoMarker, string(raw), doneMarker), nil
}
