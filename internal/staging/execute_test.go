package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return string(data)
}

func entry(exp, run, work string, policy map[Direction]Movement) StagedFile {
	return StagedFile{
		Model:            "fesom",
		Category:         "input",
		Key:              filepath.Base(exp),
		SourcePath:       exp,
		IntermediatePath: run,
		TargetPath:       work,
		Policy:           policy,
	}
}

func TestExecuteCopyAndMissing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "exp", "mesh.nc")
	writeFile(t, src, "mesh")

	entries := []StagedFile{
		entry(src, filepath.Join(dir, "run", "mesh.nc"), "", nil),
		entry(filepath.Join(dir, "exp", "absent.nc"), filepath.Join(dir, "run", "absent.nc"), "", nil),
	}
	report, err := Execute(entries, TierExperiment, TierRun, Options{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Copied != 1 || report.Bytes != 4 {
		t.Errorf("Copied = %d, Bytes = %d, want 1, 4", report.Copied, report.Bytes)
	}
	if len(report.Missing) != 1 || report.Missing[0].Path != entries[1].SourcePath {
		t.Errorf("Missing = %v", report.Missing)
	}
	if got := readFile(t, filepath.Join(dir, "run", "mesh.nc")); got != "mesh" {
		t.Errorf("copied content = %q", got)
	}
	if !report.HasProblems() {
		t.Error("HasProblems() = false with a missing file")
	}
}

func TestExecuteIdenticalIsNoop(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "exp", "data.bin")
	dst := filepath.Join(dir, "run", "data.bin")
	writeFile(t, src, "same bytes")
	writeFile(t, dst, "same bytes")

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(dst, old, old); err != nil {
		t.Fatal(err)
	}

	report, err := Execute([]StagedFile{entry(src, dst, "", nil)}, TierExperiment, TierRun, Options{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Skipped != 1 || report.Copied != 0 {
		t.Errorf("Skipped = %d, Copied = %d, want 1, 0", report.Skipped, report.Copied)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(old) {
		t.Errorf("target was rewritten: mtime %v, want %v", info.ModTime(), old)
	}
}

func TestExecuteSameSourceAndTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	writeFile(t, path, "x")
	report, err := Execute([]StagedFile{entry(path, path, "", nil)}, TierExperiment, TierRun, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Copied+report.Skipped+len(report.Missing) != 0 {
		t.Errorf("report = %+v, want untouched", report)
	}
}

func TestExecuteLinkPointsAtResolvedSource(t *testing.T) {
	dir := t.TempDir()
	origin := filepath.Join(dir, "pool", "restart.nc")
	writeFile(t, origin, "restart")
	hop := filepath.Join(dir, "exp", "hop.nc")
	src := filepath.Join(dir, "exp", "restart.nc")
	if err := os.MkdirAll(filepath.Dir(hop), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(origin, hop); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("hop.nc", src); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "run", "restart_in", "fesom", "restart.nc")

	e := entry(src, dst, "", map[Direction]Movement{ExpToRun: Link})
	e.Category = "restart_in"
	report, err := Execute([]StagedFile{e}, TierExperiment, TierRun, Options{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Linked != 1 {
		t.Fatalf("Linked = %d, want 1 (report %s)", report.Linked, report.Summary())
	}
	target, err := os.Readlink(dst)
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if target != origin {
		t.Errorf("link target = %s, want %s", target, origin)
	}

	again, err := Execute([]StagedFile{e}, TierExperiment, TierRun, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if again.Skipped != 1 || again.Linked != 0 {
		t.Errorf("second Execute() = %s, want unchanged", again.Summary())
	}
}

func TestExecuteSelfLinkReported(t *testing.T) {
	dir := t.TempDir()
	loop := filepath.Join(dir, "loop")
	if err := os.Symlink("loop", loop); err != nil {
		t.Fatal(err)
	}
	report, err := Execute([]StagedFile{entry(loop, filepath.Join(dir, "out"), "", nil)}, TierExperiment, TierRun, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Missing)+len(report.Failed) != 1 {
		t.Errorf("self link report = %s, want one problem", report.Summary())
	}
}

func TestExecuteMoveAndDirectory(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work", "fesom.log")
	run := filepath.Join(dir, "run", "log", "fesom", "fesom.log")
	writeFile(t, work, "log")
	tree := filepath.Join(dir, "work", "mon")
	writeFile(t, filepath.Join(tree, "a.txt"), "a")
	writeFile(t, filepath.Join(tree, "sub", "b.txt"), "b")

	entries := []StagedFile{
		entry("", run, work, map[Direction]Movement{WorkToRun: Move}),
		entry("", filepath.Join(dir, "run", "mon"), tree, nil),
	}
	report, err := Execute(entries, TierWork, TierRun, Options{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Moved != 1 || report.Copied != 1 {
		t.Errorf("report = %s, want 1 moved, 1 copied", report.Summary())
	}
	if _, err := os.Stat(work); !os.IsNotExist(err) {
		t.Error("moved source still exists")
	}
	if got := readFile(t, run); got != "log" {
		t.Errorf("moved content = %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "run", "mon", "sub", "b.txt")); got != "b" {
		t.Errorf("copied tree content = %q", got)
	}
}

func output(run, exp string) StagedFile {
	return StagedFile{
		Model:            "fesom",
		Category:         "restart_out",
		Key:              "oce",
		Output:           true,
		SourcePath:       exp,
		IntermediatePath: run,
	}
}

func TestReconcileArchivesPrevious(t *testing.T) {
	dir := t.TempDir()
	run := filepath.Join(dir, "run", "fesom.restart.nc")
	exp := filepath.Join(dir, "exp", "fesom.restart.nc")
	writeFile(t, run, "new")
	writeFile(t, exp, "old")

	report := Reconcile([]StagedFile{output(run, exp)}, "20000101-20001231", Options{})
	if report.HasProblems() {
		t.Fatalf("Reconcile() problems: %s", report.Summary())
	}
	if report.Renamed != 1 || report.Copied != 1 {
		t.Errorf("report = %s, want 1 archived, 1 copied", report.Summary())
	}
	if got := readFile(t, exp); got != "new" {
		t.Errorf("archive = %q, want new", got)
	}
	if got := readFile(t, filepath.Join(dir, "exp", "fesom.restart_20000101-20001231.nc")); got != "old" {
		t.Errorf("stamped copy = %q, want old", got)
	}
}

func TestReconcileConflictLeavesArchive(t *testing.T) {
	dir := t.TempDir()
	run := filepath.Join(dir, "run", "fesom.restart.nc")
	exp := filepath.Join(dir, "exp", "fesom.restart.nc")
	stamped := filepath.Join(dir, "exp", "fesom.restart_20000101-20001231.nc")
	writeFile(t, run, "new")
	writeFile(t, exp, "old")
	writeFile(t, stamped, "older")

	report := Reconcile([]StagedFile{output(run, exp)}, "20000101-20001231", Options{})
	if len(report.Conflicts) != 1 {
		t.Fatalf("Conflicts = %v, want 1", report.Conflicts)
	}
	if got := readFile(t, exp); got != "old" {
		t.Errorf("archive = %q, want untouched", got)
	}
	if got := readFile(t, stamped); got != "older" {
		t.Errorf("stamped = %q, want untouched", got)
	}
}

func TestReconcileIdenticalAndFresh(t *testing.T) {
	dir := t.TempDir()
	same := output(filepath.Join(dir, "run", "a.nc"), filepath.Join(dir, "exp", "a.nc"))
	fresh := output(filepath.Join(dir, "run", "b.nc"), filepath.Join(dir, "exp", "b.nc"))
	writeFile(t, same.IntermediatePath, "a")
	writeFile(t, same.SourcePath, "a")
	writeFile(t, fresh.IntermediatePath, "b")

	report := Reconcile([]StagedFile{same, fresh}, "x", Options{})
	if report.Skipped != 1 || report.Copied != 1 || report.Renamed != 0 {
		t.Errorf("report = %s", report.Summary())
	}
}

func TestStampedName(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"/e/fesom.nc", "/e/fesom_S.nc"},
		{"/e/fesom.restart.nc", "/e/fesom.restart_S.nc"},
		{"/e/restart", "/e/restart_S"},
		{"/e/.hidden", "/e/.hidden_S"},
	}
	for _, tt := range tests {
		if got := StampedName(tt.path, "S"); got != tt.want {
			t.Errorf("StampedName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestScanUnknown(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	plan := &Plan{WorkDir: work, Entries: []StagedFile{
		{TargetPath: filepath.Join(work, "fesom.x")},
		{TargetPath: filepath.Join(work, "forcing")},
		{TargetPath: filepath.Join(work, "*.fesom.nc"), Output: true},
	}}
	writeFile(t, filepath.Join(work, "fesom.x"), "exe")
	writeFile(t, filepath.Join(work, "forcing", "sst.nc"), "sst")
	writeFile(t, filepath.Join(work, "a.fesom.nc"), "out")
	writeFile(t, filepath.Join(work, "core"), "dump")
	writeFile(t, filepath.Join(work, "debug", "trace.txt"), "trace")

	unknown, err := ScanUnknown(plan)
	if err != nil {
		t.Fatalf("ScanUnknown() error = %v", err)
	}
	want := []string{"core", filepath.Join("debug", "trace.txt")}
	if len(unknown) != len(want) || unknown[0] != want[0] || unknown[1] != want[1] {
		t.Fatalf("ScanUnknown() = %v, want %v", unknown, want)
	}

	archive := filepath.Join(dir, "exp", "unknown", "run_x")
	entries := UnknownEntries(unknown, work, archive, nil)
	report, err := Execute(entries, TierWork, TierRun, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Copied != 2 {
		t.Errorf("Copied = %d, want 2", report.Copied)
	}
	if got := readFile(t, filepath.Join(archive, "debug", "trace.txt")); got != "trace" {
		t.Errorf("archived unknown = %q", got)
	}
}

func TestScanUnknownMissingWorkDir(t *testing.T) {
	unknown, err := ScanUnknown(&Plan{WorkDir: filepath.Join(t.TempDir(), "none")})
	if err != nil || len(unknown) != 0 {
		t.Errorf("ScanUnknown() = %v, %v, want empty", unknown, err)
	}
}
