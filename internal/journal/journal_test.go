package journal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type entry struct {
	Seq  int    `json:"seq"`
	Note string `json:"note"`
}

func TestAppendReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	l, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := l.Append(entry{Seq: i, Note: "n"}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, err := ReadAll[entry](path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, e := range got {
		if e.Seq != i {
			t.Errorf("entry %d has seq %d, order not preserved", i, e.Seq)
		}
	}
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	raw := `{"seq":0,"note":"ok"}
{this is not json
{"seq":2,"note":"ok"}
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadAll[entry](path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (malformed line skipped)", len(got))
	}
	if got[0].Seq != 0 || got[1].Seq != 2 {
		t.Errorf("got seqs %d,%d; want 0,2", got[0].Seq, got[1].Seq)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	got, err := ReadAll[entry](filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil for missing file", got)
	}
}

func TestAppendConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	l, err := OpenLog(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = l.Append(entry{Seq: n})
		}(i)
	}
	wg.Wait()

	got, err := ReadAll[entry](path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("len = %d, want 20 (no interleaved writes)", len(got))
	}
}

func TestSaveLoadDoc(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	in := map[string]int{"a": 1, "b": 2}
	if err := SaveDoc(path, in); err != nil {
		t.Fatalf("SaveDoc: %v", err)
	}

	var out map[string]int
	if err := LoadDoc(path, &out); err != nil {
		t.Fatalf("LoadDoc: %v", err)
	}
	if out["a"] != 1 || out["b"] != 2 {
		t.Errorf("LoadDoc = %v, want %v", out, in)
	}

	// Overwrite must fully replace, never merge.
	if err := SaveDoc(path, map[string]int{"c": 3}); err != nil {
		t.Fatalf("SaveDoc overwrite: %v", err)
	}
	out = nil
	if err := LoadDoc(path, &out); err != nil {
		t.Fatal(err)
	}
	if _, stale := out["a"]; stale {
		t.Error("old keys survived an overwrite")
	}

	// No temp files left behind.
	matches, _ := filepath.Glob(path + ".tmp-*")
	if len(matches) > 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestLoadDocMissing(t *testing.T) {
	var out map[string]int
	err := LoadDoc(filepath.Join(t.TempDir(), "absent.json"), &out)
	if !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}
