package action

import (
	"context"
	"path/filepath"
	"testing"

	"vigil/internal/journal"
)

func TestKindValid(t *testing.T) {
	for _, k := range []Kind{
		KindSpawnAgent, KindNotify, KindCreateTask, KindTriggerWorkflow,
		KindRunBenchmark, KindExtractLearning, KindEvolveConfig,
		KindEscalate, KindLog,
	} {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if Kind("launch-missiles").Valid() {
		t.Error("unknown kind passed validation")
	}
	if Kind("").Valid() {
		t.Error("empty kind passed validation")
	}
}

func TestNewRequestStamps(t *testing.T) {
	req := NewRequest(KindNotify, "test", "because", map[string]any{"k": "v"})
	if req.ID == "" {
		t.Error("request missing ID")
	}
	if req.At.IsZero() {
		t.Error("request missing timestamp")
	}
	if req.Kind != KindNotify || req.Origin != "test" {
		t.Errorf("req = %+v", req)
	}
}

func TestJournalExecutorRecords(t *testing.T) {
	jl, err := journal.OpenLog(filepath.Join(t.TempDir(), "actions.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	e := NewJournalExecutor(jl)

	res, err := e.Execute(context.Background(), NewRequest(KindCreateTask, "trigger:t1", "fired", nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "ok" {
		t.Errorf("status = %q, want ok", res.Status)
	}

	recorded, err := journal.ReadAll[Request](jl.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(recorded) != 1 {
		t.Fatalf("journal has %d entries, want 1", len(recorded))
	}
	if recorded[0].Kind != KindCreateTask || recorded[0].Origin != "trigger:t1" {
		t.Errorf("recorded = %+v", recorded[0])
	}
}

func TestJournalExecutorRejectsUnknownKind(t *testing.T) {
	e := NewJournalExecutor(nil)
	res, err := e.Execute(context.Background(), NewRequest(Kind("bogus"), "test", "", nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "error" {
		t.Errorf("status = %q, want error for unknown kind", res.Status)
	}
}

func TestFuncAdapter(t *testing.T) {
	var seen Request
	f := Func(func(ctx context.Context, req Request) (Result, error) {
		seen = req
		return Result{Status: "ok"}, nil
	})
	req := NewRequest(KindLog, "test", "", nil)
	if _, err := f.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if seen.ID != req.ID {
		t.Error("adapter did not forward the request")
	}
}
