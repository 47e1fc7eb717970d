package report

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	lodelib "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/lhrunner/lode"
	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/types"
)

func sharedFactory(store lodelib.Store) lodelib.StoreFactory {
	return func() (lodelib.Store, error) { return store, nil }
}

func newDir(t *testing.T) *Dir {
	t.Helper()
	d := NewDir(filepath.Join(t.TempDir(), "reports"))
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	return d
}

func put(t *testing.T, d *Dir, name, data string) {
	t.Helper()
	if err := d.PutFile(t.Context(), name, "", []byte(data)); err != nil {
		t.Fatalf("PutFile(%s): %v", name, err)
	}
}

func TestDir_ResetListExists(t *testing.T) {
	d := newDir(t)
	put(t, d, "b.txt", "bb")
	put(t, d, "a.txt", "a")
	if err := os.Mkdir(filepath.Join(d.Root(), "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := d.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].Name != "a.txt" || files[1].Size != 2 {
		t.Errorf("List = %+v", files)
	}
	if !d.Exists("a.txt") || d.Exists("sub") || d.Exists("../a.txt") {
		t.Error("Exists gave wrong answers")
	}

	if err := d.Reset(); err != nil {
		t.Fatal(err)
	}
	files, err = d.List()
	if err != nil || len(files) != 0 {
		t.Errorf("after Reset: %+v, %v", files, err)
	}

	if err := d.PutFile(t.Context(), "../escape", "", nil); err == nil {
		t.Error("expected error for escaping filename")
	}
}

func TestDir_ListMissing(t *testing.T) {
	files, err := NewDir(filepath.Join(t.TempDir(), "nope")).List()
	if err != nil || files != nil {
		t.Errorf("List = %v, %v", files, err)
	}
}

func exampleSet() *types.RunSet {
	return &types.RunSet{
		Target: "https://example.com",
		Results: []types.RunResult{
			{Type: "lighthouse@4.0.0", Success: true},
			{Type: "PSI", Success: false},
		},
	}
}

func TestAssemble_PublishesBundle(t *testing.T) {
	d := newDir(t)
	put(t, d, "lighthouse@4.0.0.report.html", "<html></html>")
	put(t, d, "lighthouse@4.0.0.report.json", "{}")
	put(t, d, "lighthouse@4.0.0.output.txt", "ok")
	put(t, d, "PSI.output.txt", "status 500")
	put(t, d, "summary.json", "{}")

	store := lodelib.NewMemory()
	coll := metrics.NewCollector("poll", lode.BackendMemory, "")
	a := NewAssembler(Config{
		Factory:   sharedFactory(store),
		Prefix:    "reports",
		PublicURL: "https://reports.example.org/",
		IssueURL:  func(n int) string { return "https://github.com/o/r/issues/" + strconv.Itoa(n) },
		Collector: coll,
	})

	ev := types.TriggerEvent{ID: 99, Kind: types.TriggerComment, Issue: 7}
	bundle, err := a.Assemble(t.Context(), d, exampleSet(), ev)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if bundle.ID != "lh-issue-runner-7-99" {
		t.Errorf("ID = %q", bundle.ID)
	}
	if bundle.URL != "https://reports.example.org/lh-issue-runner-7-99" {
		t.Errorf("URL = %q", bundle.URL)
	}
	if len(bundle.Files) != 6 {
		t.Errorf("Files = %v", bundle.Files)
	}

	w := lode.NewBundleWriter(sharedFactory(store), "reports", bundle.ID, nil)
	index, err := w.GetFile(t.Context(), IndexFile)
	if err != nil {
		t.Fatalf("GetFile(index): %v", err)
	}
	for _, want := range []string{
		`href="https://github.com/o/r/issues/7"`,
		`href="https://example.com"`,
		`href="PSI.output.txt"`,
		"(10 B)",
	} {
		if !strings.Contains(string(index), want) {
			t.Errorf("index missing %q:\n%s", want, index)
		}
	}
	if got, err := w.GetFile(t.Context(), "PSI.output.txt"); err != nil || string(got) != "status 500" {
		t.Errorf("PSI output = %q, %v", got, err)
	}
	if s := coll.Snapshot(); s.StoreWriteSuccess != 6 {
		t.Errorf("StoreWriteSuccess = %d, want 6", s.StoreWriteSuccess)
	}
}

func TestAssemble_StoreFailure(t *testing.T) {
	d := newDir(t)
	put(t, d, "summary.json", "{}")
	a := NewAssembler(Config{
		Factory: func() (lodelib.Store, error) { return nil, errors.New("open reports: permission denied") },
	})
	_, err := a.Assemble(t.Context(), d, exampleSet(), types.TriggerEvent{Kind: types.TriggerLabel, Issue: 1})
	var se *lode.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *lode.StorageError", err)
	}
	if !errors.Is(err, lode.ErrPermissionDenied) {
		t.Errorf("err kind = %v, want permission denied", se.Kind)
	}
}

func TestAssemble_NoStore(t *testing.T) {
	d := newDir(t)
	a := NewAssembler(Config{Prefix: "reports"})
	bundle, err := a.Assemble(t.Context(), d, exampleSet(), types.TriggerEvent{Kind: types.TriggerLabel, Issue: 3})
	if err != nil {
		t.Fatal(err)
	}
	if bundle.URL != "reports/lh-issue-runner-3" {
		t.Errorf("URL = %q", bundle.URL)
	}
	if !d.Exists(IndexFile) {
		t.Error("index.html not written to workspace")
	}
}

func TestComment(t *testing.T) {
	d := newDir(t)
	put(t, d, "lighthouse@4.0.0.report.html", "x")
	put(t, d, "lighthouse@4.0.0.report.json", "x")
	put(t, d, "lighthouse@4.0.0.output.txt", "x")
	put(t, d, "PSI.output.txt", "x")

	bundle := &Bundle{ID: "lh-issue-runner-7", URL: "https://r.example/lh-issue-runner-7"}
	got := Comment(exampleSet(), bundle, d)
	want := "I ran Lighthouse for https://example.com, here's what I found.\n\n" +
		"[index](https://r.example/lh-issue-runner-7/index.html)\n" +
		"✅ [html](https://r.example/lh-issue-runner-7/lighthouse@4.0.0.report.html) " +
		"[json](https://r.example/lh-issue-runner-7/lighthouse@4.0.0.report.json) " +
		"[output](https://r.example/lh-issue-runner-7/lighthouse@4.0.0.output.txt) lighthouse@&#8203;4.0.0\n" +
		"❌ [output](https://r.example/lh-issue-runner-7/PSI.output.txt) PSI"
	if got != want {
		t.Errorf("Comment mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestComment_EscapesDuplicateLabels(t *testing.T) {
	d := newDir(t)
	put(t, d, "PSI#2.output.txt", "x")
	set := &types.RunSet{Target: "https://x.example", Results: []types.RunResult{{Type: "PSI#2"}}}
	got := Comment(set, &Bundle{URL: "https://r.example/b"}, d)
	if !strings.Contains(got, "(https://r.example/b/PSI%232.output.txt)") {
		t.Errorf("label not escaped in link: %s", got)
	}
}

func TestComment_NoTarget(t *testing.T) {
	if got := Comment(nil, nil, nil); got != NoTargetComment {
		t.Errorf("Comment(nil) = %q", got)
	}
	if got := Comment(&types.RunSet{}, nil, nil); got != NoTargetComment {
		t.Errorf("Comment(empty) = %q", got)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"index.html":     "text/html; charset=utf-8",
		"summary.json":   "application/json",
		"PSI.output.txt": "text/plain; charset=utf-8",
		"blob":           "application/octet-stream",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
