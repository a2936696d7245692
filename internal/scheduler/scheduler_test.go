package scheduler

import (
	"reflect"
	"testing"
)

func TestParseCronLogRoundTrip(t *testing.T) {
	log, err := EncodeCronLog("*/5 * * * *", "upload_recent", map[string]any{"platform": "cf"})
	if err != nil {
		t.Fatalf("EncodeCronLog: %v", err)
	}

	spec, payload, name, ok := parseCronLog(log)
	if !ok {
		t.Fatalf("parseCronLog did not recognize its own encoding: %q", log)
	}
	if spec != "*/5 * * * *" {
		t.Fatalf("spec = %q, want */5 * * * *", spec)
	}
	if name != "upload_recent" {
		t.Fatalf("taskName = %q, want upload_recent", name)
	}
	want := map[string]any{"platform": "cf", "task": "upload_recent"}
	if !reflect.DeepEqual(payload, want) {
		t.Fatalf("payload = %v, want %v", payload, want)
	}
}

func TestParseCronLogMissingInfoBlock(t *testing.T) {
	_, _, _, ok := parseCronLog("2026-01-01T00:00:00Z cron: * * * * *\nno info block here\n")
	if ok {
		t.Fatalf("expected parseCronLog to fail without a TASK_INFO/TASK_DONE block")
	}
}

func TestParseCronLogMissingCronLine(t *testing.T) {
	log := "[TASK_INFO]{\"task\":\"upload_recent\"}[TASK_DONE]\n"
	_, _, _, ok := parseCronLog(log)
	if ok {
		t.Fatalf("expected parseCronLog to fail without a cron: line")
	}
}

func TestParseCronLogIgnoresOtherLogLines(t *testing.T) {
	log := "2026-01-01T00:00:00Z dispatched\n" +
		"2026-01-01T00:00:01Z cron: 0 * * * *\n" +
		"2026-01-01T00:00:02Z [TASK_INFO]{\"task\":\"sync_recent\",\"n\":3}[TASK_DONE]\n"

	spec, payload, name, ok := parseCronLog(log)
	if !ok {
		t.Fatalf("expected parseCronLog to succeed, log=%q", log)
	}
	if spec != "0 * * * *" || name != "sync_recent" {
		t.Fatalf("spec/name = %q/%q, want 0 * * * */sync_recent", spec, name)
	}
	if payload["n"] != float64(3) {
		t.Fatalf("payload[n] = %v, want 3", payload["n"])
	}
}
