package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"gopkg.in/yaml.v3"

	"github.com/dupereap/dupereap/internal/finder"
	"github.com/dupereap/dupereap/internal/planner"
	"github.com/dupereap/dupereap/internal/reaper"
	"github.com/dupereap/dupereap/internal/types"
)

func TestMain(m *testing.M) {
	// plain text, whatever terminal runs the tests
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func file(idx int, path string, ino uint64) *types.FileInfo {
	return &types.FileInfo{
		Index:    idx,
		Path:     path,
		Size:     100,
		ModTime:  time.Unix(1700000000+int64(idx), 0),
		Identity: types.Identity{Dev: 1, Ino: ino},
		Nlink:    1,
	}
}

// sampleReport has two sets: {/a, /b, /b2 (hardlink of /b)} and {/c, /d},
// one hardlink group {/h1, /h2} and one skipped path.
func sampleReport() *finder.Report {
	group := func(files ...*types.FileInfo) types.SiblingGroup { return types.NewSiblingGroup(files) }
	sets := []types.DuplicateSet{
		types.NewDuplicateSet(100, "aaaa", []types.SiblingGroup{
			group(file(0, "/a", 1)),
			group(file(1, "/b", 2), file(2, "/b2", 2)),
		}),
		types.NewDuplicateSet(100, "cccc", []types.SiblingGroup{
			group(file(3, "/c", 3)),
			group(file(4, "/d", 4)),
		}),
	}
	return &finder.Report{
		Roots:          []string{"/"},
		Algorithm:      "sha256",
		Started:        time.Unix(1700000000, 0).UTC(),
		Elapsed:        time.Second,
		Sets:           types.NewDuplicateSets(sets),
		Hardlinks:      []types.SiblingGroup{group(file(5, "/h1", 9), file(6, "/h2", 9))},
		Errors:         []*types.PathError{types.NewPathError(types.AccessDenied, "/secret", os.ErrPermission)},
		FilesScanned:   8,
		SizeCandidates: 5,
		FullCandidates: 5,
		DuplicateFiles: 3,
		Reclaimable:    200,
		SharedBytes:    100,
	}
}

func TestValidateFormat(t *testing.T) {
	for _, f := range formats {
		if err := validateFormat(f); err != nil {
			t.Errorf("validateFormat(%q) = %v", f, err)
		}
	}
	if err := validateFormat("xml"); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

// =============================================================================
// Scan report
// =============================================================================

func TestWriteReportText(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, "text", sampleReport()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Set 1:", "Set 2:", "/a", "/b2", "/h1 = /h2", "/secret", "access", "8 files scanned"} {
		if !strings.Contains(out, want) {
			t.Errorf("text report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "No duplicates found.") {
		t.Error("report with sets claims no duplicates")
	}
}

func TestWriteReportTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	r := &finder.Report{Roots: []string{"/empty"}, Algorithm: "sha256"}
	if err := writeReport(&buf, "text", r); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No duplicates found.") {
		t.Errorf("empty report should say so:\n%s", buf.String())
	}
}

func TestWriteReportJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, "json", sampleReport()); err != nil {
		t.Fatal(err)
	}
	var v reportView
	if err := json.Unmarshal(buf.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(v.Sets) != 2 || v.Summary.Reclaimable != 200 || v.Summary.Errors != 1 {
		t.Errorf("unexpected view: %+v", v)
	}
	first := v.Sets[0]
	if first.Set != 1 || first.Physical != 2 || len(first.Files) != 3 {
		t.Fatalf("unexpected first set: %+v", first)
	}
	// discovery order, with hardlink annotation on /b and /b2 only
	wantPaths := []string{"/a", "/b", "/b2"}
	wantLinked := []bool{false, true, true}
	for i, f := range first.Files {
		if f.Path != wantPaths[i] || f.Hardlinked != wantLinked[i] {
			t.Errorf("file %d = %s hardlinked=%v", i, f.Path, f.Hardlinked)
		}
	}
	if first.Files[1].Physical != first.Files[2].Physical {
		t.Error("hardlinks should share a physical number")
	}
	if len(v.Hardlinks) != 1 || len(v.Hardlinks[0].Paths) != 2 {
		t.Errorf("hardlink groups = %+v", v.Hardlinks)
	}
}

func TestWriteReportJSONEmptySets(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, "json", &finder.Report{Algorithm: "sha256"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"sets": []`) {
		t.Errorf("empty report should encode sets as []:\n%s", buf.String())
	}
}

func TestWriteReportYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, "yaml", sampleReport()); err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &v); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if v["algorithm"] != "sha256" {
		t.Errorf("algorithm = %v", v["algorithm"])
	}
	sets, ok := v["sets"].([]any)
	if !ok || len(sets) != 2 {
		t.Errorf("sets = %v", v["sets"])
	}
}

// =============================================================================
// Plan and reap output
// =============================================================================

func TestPlanViewApprovedSubset(t *testing.T) {
	r := sampleReport()
	decisions, err := r.Plan(planner.First, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	v := newPlanView(r, &reapRecord{strategy: planner.First, decisions: decisions})
	if len(v.Sets) != 1 || v.Sets[0].Set != 2 {
		t.Fatalf("plan should only hold set 2: %+v", v.Sets)
	}
	if v.Sets[0].Keep != "/c" || v.Strategy != "first" {
		t.Errorf("keep=%s strategy=%s", v.Sets[0].Keep, v.Strategy)
	}
	if v.Deletion != nil {
		t.Error("no deletion section before the reaper runs")
	}
}

func TestWritePlanText(t *testing.T) {
	r := sampleReport()
	decisions := planner.PlanAll(r.Sets, planner.Newest)
	var buf bytes.Buffer
	if err := writePlan(&buf, "text", r, &reapRecord{strategy: planner.Newest, decisions: decisions}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	// newest of set 1 is /b2: /b is its hardlink, /a goes
	for _, want := range []string{"keep   /b2", "linked /b", "delete /a", "keep   /d", "delete /c", "2 files to delete", "strategy newest"} {
		if !strings.Contains(out, want) {
			t.Errorf("plan missing %q:\n%s", want, out)
		}
	}
}

func TestWriteReapText(t *testing.T) {
	r := sampleReport()
	decisions := planner.PlanAll(r.Sets, planner.First)
	res := &reaper.Result{
		Outcomes: []reaper.Outcome{
			{Set: 0, Path: "/b", Keeper: "/a", Action: reaper.ActionDeleted},
			{Set: 0, Path: "/b2", Keeper: "/a", Action: reaper.ActionDeleted},
			{Set: 1, Path: "/d", Keeper: "/c", Action: reaper.ActionFailed, Err: reaper.ErrInUse},
		},
		Deleted:    2,
		Failed:     1,
		BytesFreed: 100,
	}
	rec := &reapRecord{strategy: planner.First, decisions: decisions, result: res}

	var quiet bytes.Buffer
	if err := writeReap(&quiet, "text", r, rec, false); err != nil {
		t.Fatal(err)
	}
	out := quiet.String()
	if strings.Contains(out, "Deleted /b ") {
		t.Errorf("non-verbose output lists successful deletions:\n%s", out)
	}
	for _, want := range []string{"failed /d", reaper.ErrInUse.Error(), "2 files", "1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("reap output missing %q:\n%s", want, out)
		}
	}

	var verbose bytes.Buffer
	if err := writeReap(&verbose, "text", r, rec, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(verbose.String(), "Deleted /b (kept /a)") {
		t.Errorf("verbose output should list deletions:\n%s", verbose.String())
	}
}

func TestWriteReapJSON(t *testing.T) {
	r := sampleReport()
	decisions := planner.PlanAll(r.Sets, planner.First)
	res := &reaper.Result{
		DryRun: true,
		Outcomes: []reaper.Outcome{
			{Set: 0, Path: "/b", Keeper: "/a", Action: reaper.ActionWouldDelete},
		},
		Deleted: 1,
	}
	var buf bytes.Buffer
	rec := &reapRecord{strategy: planner.First, decisions: decisions, result: res}
	if err := writeReap(&buf, "json", r, rec, false); err != nil {
		t.Fatal(err)
	}
	var v reportView
	if err := json.Unmarshal(buf.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Deletion == nil || !v.Deletion.DryRun || v.Deletion.Deleted != 1 {
		t.Fatalf("deletion = %+v", v.Deletion)
	}
	var b fileView
	for _, f := range v.Sets[0].Files {
		if f.Path == "/b" {
			b = f
		}
	}
	if b.Role != "delete" || b.Action != "would-delete" {
		t.Errorf("/b = %+v", b)
	}
}

func TestEscapePath(t *testing.T) {
	if got := escapePath("a\tb\nc"); got != `a\tb\nc` {
		t.Errorf("escapePath = %q", got)
	}
}
