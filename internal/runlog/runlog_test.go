package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	root := t.TempDir()
	run, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if len(run.ID) != 8 {
		t.Errorf("ID = %q, want 8 chars", run.ID)
	}
	if !strings.HasPrefix(run.Dir, filepath.Join(root, "runs")) {
		t.Errorf("Dir = %q, not under %s/runs", run.Dir, root)
	}
	if !strings.HasSuffix(run.Dir, "_"+run.ID) {
		t.Errorf("Dir = %q, want suffix _%s", run.Dir, run.ID)
	}
	if info, err := os.Stat(run.Dir); err != nil || !info.IsDir() {
		t.Fatalf("run directory not created: %v", err)
	}

	if err := run.WriteFile("results.json", []byte("{}")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	f, err := run.CreateLogFile("app")
	if err != nil {
		t.Fatalf("CreateLogFile() error = %v", err)
	}
	f.Close()
	if got := run.LogPath("app"); got != filepath.Join(run.Dir, "app.log") {
		t.Errorf("LogPath() = %q", got)
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()

	runs, err := List(root)
	if err != nil {
		t.Fatalf("List() on empty root error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("List() = %v, want empty", runs)
	}

	older := filepath.Join(root, "runs", "2026-01-15_100000_aaaaaaaa")
	newer := filepath.Join(root, "runs", "2026-01-16_090000_bbbbbbbb")
	for _, dir := range []string{older, newer} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(newer, "junit.xml"), []byte("<testsuites/>"), 0644); err != nil {
		t.Fatal(err)
	}

	runs, err = List(root)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List() returned %d runs, want 2", len(runs))
	}
	if runs[0].Name != filepath.Base(newer) {
		t.Errorf("first run = %s, want newest", runs[0].Name)
	}
	want := time.Date(2026, 1, 16, 9, 0, 0, 0, time.Local)
	if !runs[0].Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", runs[0].Timestamp, want)
	}
	if len(runs[0].Files) != 1 || runs[0].Files[0].Name != "junit.xml" || runs[0].Files[0].Size != 13 {
		t.Errorf("Files = %+v", runs[0].Files)
	}
	if len(runs[1].Files) != 0 {
		t.Errorf("older run files = %+v", runs[1].Files)
	}
}
