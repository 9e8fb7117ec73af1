package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/dupereap/dupereap/internal/finder"
	"github.com/dupereap/dupereap/internal/planner"
	"github.com/dupereap/dupereap/internal/reaper"
	"github.com/dupereap/dupereap/internal/types"
)

var formats = []string{"text", "json", "yaml"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	sizeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	keepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
	deleteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func validateFormat(format string) error {
	if !slices.Contains(formats, format) {
		return types.InvalidConfigf("unknown format %q (available: %s)", format, strings.Join(formats, ", "))
	}
	return nil
}

// =============================================================================
// Views: the stable shape of JSON and YAML output
// =============================================================================

type summaryView struct {
	FilesScanned   int   `json:"files_scanned" yaml:"files_scanned"`
	SizeCandidates int   `json:"size_candidates" yaml:"size_candidates"`
	FullCandidates int   `json:"full_candidates" yaml:"full_candidates"`
	Sets           int   `json:"sets" yaml:"sets"`
	DuplicateFiles int   `json:"duplicate_files" yaml:"duplicate_files"`
	Reclaimable    int64 `json:"reclaimable_bytes" yaml:"reclaimable_bytes"`
	Hardlinked     int64 `json:"hardlinked_bytes" yaml:"hardlinked_bytes"`
	Errors         int   `json:"errors" yaml:"errors"`
}

type fileView struct {
	Path       string    `json:"path" yaml:"path"`
	ModTime    time.Time `json:"mtime" yaml:"mtime"`
	Physical   int       `json:"physical" yaml:"physical"`
	Hardlinked bool      `json:"hardlinked,omitempty" yaml:"hardlinked,omitempty"`
	Role       string    `json:"role,omitempty" yaml:"role,omitempty"`
	Action     string    `json:"action,omitempty" yaml:"action,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

type setView struct {
	Set         int        `json:"set" yaml:"set"`
	Size        int64      `json:"size" yaml:"size"`
	Digest      string     `json:"digest" yaml:"digest"`
	Physical    int        `json:"physical" yaml:"physical"`
	Reclaimable int64      `json:"reclaimable_bytes" yaml:"reclaimable_bytes"`
	Keep        string     `json:"keep,omitempty" yaml:"keep,omitempty"`
	Files       []fileView `json:"files" yaml:"files"`
}

type hardlinkView struct {
	Size  int64    `json:"size" yaml:"size"`
	Paths []string `json:"paths" yaml:"paths"`
}

type errorView struct {
	Kind   string `json:"kind" yaml:"kind"`
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

type deletionView struct {
	DryRun     bool   `json:"dry_run" yaml:"dry_run"`
	Deleted    int    `json:"deleted" yaml:"deleted"`
	Failed     int    `json:"failed" yaml:"failed"`
	BytesFreed int64  `json:"bytes_freed" yaml:"bytes_freed"`
	FreeBefore uint64 `json:"free_before,omitempty" yaml:"free_before,omitempty"`
	FreeAfter  uint64 `json:"free_after,omitempty" yaml:"free_after,omitempty"`
}

type reportView struct {
	Roots       []string       `json:"roots" yaml:"roots"`
	Algorithm   string         `json:"algorithm" yaml:"algorithm"`
	PartialSize int64          `json:"partial_size,omitempty" yaml:"partial_size,omitempty"`
	Started     time.Time      `json:"started" yaml:"started"`
	Elapsed     string         `json:"elapsed" yaml:"elapsed"`
	Summary     summaryView    `json:"summary" yaml:"summary"`
	Strategy    string         `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Sets        []setView      `json:"sets" yaml:"sets"`
	Hardlinks   []hardlinkView `json:"hardlinks,omitempty" yaml:"hardlinks,omitempty"`
	Errors      []errorView    `json:"errors,omitempty" yaml:"errors,omitempty"`
	Deletion    *deletionView  `json:"deletion,omitempty" yaml:"deletion,omitempty"`
}

func newSetView(number int, set types.DuplicateSet) setView {
	sv := setView{
		Set:         number,
		Size:        set.Size,
		Digest:      set.Digest,
		Physical:    set.Physical(),
		Reclaimable: set.Reclaimable(),
	}
	physical := make(map[*types.FileInfo]int, set.Len())
	linked := make(map[*types.FileInfo]bool, set.Len())
	for i, sg := range set.Siblings.Items() {
		for _, f := range sg.Items() {
			physical[f] = i + 1
			linked[f] = sg.Len() > 1
		}
	}
	for _, f := range set.Files() {
		sv.Files = append(sv.Files, fileView{
			Path:       f.Path,
			ModTime:    f.ModTime,
			Physical:   physical[f],
			Hardlinked: linked[f],
		})
	}
	return sv
}

func newReportView(r *finder.Report) reportView {
	v := reportView{
		Roots:       r.Roots,
		Algorithm:   r.Algorithm,
		PartialSize: r.Partial,
		Started:     r.Started,
		Elapsed:     r.Elapsed.Round(time.Millisecond).String(),
		Summary: summaryView{
			FilesScanned:   r.FilesScanned,
			SizeCandidates: r.SizeCandidates,
			FullCandidates: r.FullCandidates,
			Sets:           r.Sets.Len(),
			DuplicateFiles: r.DuplicateFiles,
			Reclaimable:    r.Reclaimable,
			Hardlinked:     r.SharedBytes,
			Errors:         len(r.Errors),
		},
		Sets: []setView{},
	}
	for i, set := range r.Sets.Items() {
		v.Sets = append(v.Sets, newSetView(i+1, set))
	}
	for _, sg := range r.Hardlinks {
		hv := hardlinkView{Size: sg.First().Size}
		for _, f := range sg.Items() {
			hv.Paths = append(hv.Paths, f.Path)
		}
		v.Hardlinks = append(v.Hardlinks, hv)
	}
	for _, pe := range r.Errors {
		v.Errors = append(v.Errors, errorView{Kind: pe.Kind.String(), Path: pe.Path, Reason: pe.Reason()})
	}
	return v
}

// newPlanView restricts the report to the planned sets and tags every file
// with its role and, once the reaper has run, its outcome.
func newPlanView(r *finder.Report, rec *reapRecord) reportView {
	v := newReportView(r)
	v.Strategy = rec.strategy.String()

	byFirst := make(map[int]setView, len(v.Sets))
	for i, set := range r.Sets.Items() {
		byFirst[set.Siblings.First().First().Index] = v.Sets[i]
	}

	outcomes := map[string]reaper.Outcome{}
	if rec.result != nil {
		for _, o := range rec.result.Outcomes {
			outcomes[o.Path] = o
		}
	}

	v.Sets = []setView{}
	for _, d := range rec.decisions {
		sv := byFirst[d.Set.Siblings.First().First().Index]
		sv.Keep = d.Keep.Path
		roles := planRoles(d)
		files := slices.Clone(sv.Files)
		for i := range files {
			files[i].Role = roles[files[i].Path]
			if o, ok := outcomes[files[i].Path]; ok {
				files[i].Action = o.Action.String()
				if o.Err != nil {
					files[i].Error = o.Err.Error()
				}
			}
		}
		sv.Files = files
		v.Sets = append(v.Sets, sv)
	}

	if rec.result != nil {
		v.Deletion = &deletionView{
			DryRun:     rec.result.DryRun,
			Deleted:    rec.result.Deleted,
			Failed:     rec.result.Failed,
			BytesFreed: rec.result.BytesFreed,
			FreeBefore: rec.freeSpace.Before,
			FreeAfter:  rec.freeSpace.After,
		}
	}
	return v
}

func planRoles(d planner.Decision) map[string]string {
	roles := map[string]string{d.Keep.Path: "keep"}
	for _, f := range d.Linked {
		roles[f.Path] = "linked"
	}
	for _, f := range d.Delete {
		roles[f.Path] = "delete"
	}
	return roles
}

// =============================================================================
// Writers
// =============================================================================

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return validateFormat(format)
}

// writeReport prints a scan report.
func writeReport(w io.Writer, format string, r *finder.Report) error {
	if format != "text" {
		return encode(w, format, newReportView(r))
	}

	v := newReportView(r)
	for _, sv := range v.Sets {
		fmt.Fprintln(w, setHeader(sv))
		for _, f := range sv.Files {
			line := "  " + escapePath(f.Path)
			if f.Hardlinked {
				line += mutedStyle.Render(fmt.Sprintf("  [hardlink, physical %d]", f.Physical))
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}
	writeHardlinks(w, v.Hardlinks)
	writeErrors(w, v.Errors)
	writeSummary(w, v.Summary)
	return nil
}

// writePlan prints the retention plan without deleting anything.
func writePlan(w io.Writer, format string, r *finder.Report, rec *reapRecord) error {
	v := newPlanView(r, rec)
	if format != "text" {
		return encode(w, format, v)
	}

	writePlanSets(w, v)
	writeErrors(w, v.Errors)

	var files int
	var reclaimable int64
	for _, d := range rec.decisions {
		files += len(d.Delete)
		reclaimable += d.Reclaimable
	}
	fmt.Fprintf(w, "%s %s sets, %s files to delete, %s reclaimable (strategy %s)\n",
		titleStyle.Render("Plan:"),
		humanize.Comma(int64(len(rec.decisions))),
		humanize.Comma(int64(files)),
		sizeStyle.Render(humanize.IBytes(uint64(reclaimable))),
		rec.strategy)
	return nil
}

// writeReap prints the outcome of a reap. Successful deletions are listed
// only when verbose; failures always are.
func writeReap(w io.Writer, format string, r *finder.Report, rec *reapRecord, verbose bool) error {
	v := newPlanView(r, rec)
	if format != "text" {
		return encode(w, format, v)
	}

	res := rec.result
	for _, o := range res.Outcomes {
		switch {
		case o.Action == reaper.ActionFailed:
			fmt.Fprintln(w, errorStyle.Render(o.String()))
		case verbose || res.DryRun:
			fmt.Fprintln(w, o.String())
		}
	}
	writeErrors(w, v.Errors)

	verb := "Deleted"
	if res.DryRun {
		verb = "Would delete"
	}
	fmt.Fprintf(w, "%s %s files, %s freed, %s failed\n",
		titleStyle.Render(verb),
		humanize.Comma(int64(res.Deleted)),
		sizeStyle.Render(humanize.IBytes(uint64(res.BytesFreed))),
		humanize.Comma(int64(res.Failed)))
	if rec.freeSpace.Known() && !res.DryRun {
		fmt.Fprintf(w, "Free space: %s → %s\n",
			humanize.IBytes(rec.freeSpace.Before), humanize.IBytes(rec.freeSpace.After))
	}
	return nil
}

func setHeader(sv setView) string {
	return fmt.Sprintf("%s %d files, %d physical, %s each, %s reclaimable",
		titleStyle.Render(fmt.Sprintf("Set %d:", sv.Set)),
		len(sv.Files), sv.Physical,
		humanize.IBytes(uint64(sv.Size)),
		sizeStyle.Render(humanize.IBytes(uint64(sv.Reclaimable))))
}

func writePlanSets(w io.Writer, v reportView) {
	for _, sv := range v.Sets {
		fmt.Fprintln(w, setHeader(sv))
		for _, f := range sv.Files {
			switch f.Role {
			case "keep":
				fmt.Fprintln(w, keepStyle.Render("  keep   ")+escapePath(f.Path))
			case "linked":
				fmt.Fprintln(w, mutedStyle.Render("  linked ")+escapePath(f.Path)+mutedStyle.Render("  (hardlink of keeper)"))
			default:
				fmt.Fprintln(w, deleteStyle.Render("  delete ")+escapePath(f.Path))
			}
		}
		fmt.Fprintln(w)
	}
}

func writeHardlinks(w io.Writer, groups []hardlinkView) {
	if len(groups) == 0 {
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Hardlink groups (already sharing storage):"))
	for _, g := range groups {
		paths := make([]string, len(g.Paths))
		for i, p := range g.Paths {
			paths[i] = escapePath(p)
		}
		fmt.Fprintf(w, "  %s  %s\n", strings.Join(paths, " = "), mutedStyle.Render(humanize.IBytes(uint64(g.Size))))
	}
	fmt.Fprintln(w)
}

func writeErrors(w io.Writer, errs []errorView) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Skipped:"))
	for _, e := range errs {
		fmt.Fprintf(w, "  %s %s: %s\n", errorStyle.Render(e.Kind), escapePath(e.Path), e.Reason)
	}
	fmt.Fprintln(w)
}

func writeSummary(w io.Writer, s summaryView) {
	if s.Sets == 0 {
		fmt.Fprintln(w, "No duplicates found.")
	}
	fmt.Fprintf(w, "%s %s files scanned, %s size candidates, %s hashed in full\n",
		titleStyle.Render("Summary:"),
		humanize.Comma(int64(s.FilesScanned)),
		humanize.Comma(int64(s.SizeCandidates)),
		humanize.Comma(int64(s.FullCandidates)))
	fmt.Fprintf(w, "%s duplicate sets, %s duplicate files, %s reclaimable",
		humanize.Comma(int64(s.Sets)),
		humanize.Comma(int64(s.DuplicateFiles)),
		sizeStyle.Render(humanize.IBytes(uint64(s.Reclaimable))))
	if s.Hardlinked > 0 {
		fmt.Fprintf(w, ", %s already shared by hardlinks", humanize.IBytes(uint64(s.Hardlinked)))
	}
	if s.Errors > 0 {
		fmt.Fprintf(w, ", %s skipped", humanize.Comma(int64(s.Errors)))
	}
	fmt.Fprintln(w)
}

// escapePath escapes control characters in paths for safe terminal output.
func escapePath(path string) string {
	r := strings.NewReplacer(
		"\t", "\\t",
		"\n", "\\n",
		"\r", "\\r",
	)
	return r.Replace(path)
}
