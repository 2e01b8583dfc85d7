// Package exiftool bridges to an external ExifTool binary for formats the
// native handlers cannot fully cover (images other than JPEG/PNG/GIF,
// legacy Office tag surfacing). It is never used for OOXML, which the
// native handler always owns.
package exiftool

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"metaclean/internal/engine"
)

// sensitiveTags is the fixed label set spec.md §4.12 allows through the
// bridge, independent of whatever else ExifTool reports.
var sensitiveTags = map[string]bool{
	"Author": true, "Creator": true, "Producer": true, "Title": true,
	"Subject": true, "Keywords": true, "CreatorTool": true, "CreateDate": true,
	"ModifyDate": true, "LastModifiedBy": true, "Company": true, "Manager": true,
	"Category": true, "DocSecurity": true, "Application": true, "OwnerName": true,
	"Artist": true, "Copyright": true, "XPAuthor": true, "XPComment": true,
	"XPKeywords": true, "Make": true, "Model": true, "GPSLatitude": true, "GPSLongitude": true,
}

// Bridge is the capability interface the engine uses for the external
// tool: probe, detect, clean.
type Bridge struct {
	path          string
	detectTimeout time.Duration
	cleanTimeout  time.Duration
}

// Probe discovers a working ExifTool binary by spec.md §6's three-step
// order: a platform-bundled path next to the running binary, then
// "exiftool" on PATH, then a user-profile Programs path. Each candidate is
// validated with "-ver" before being trusted, following
// original_source/cleaners.py's _find_exiftool.
func Probe(extraPaths []string, timeout time.Duration) (*Bridge, bool) {
	candidates := candidatePaths(extraPaths)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		out, err := exec.CommandContext(ctx, c, "-ver").Output()
		cancel()
		if err == nil && strings.TrimSpace(string(out)) != "" {
			return &Bridge{path: c, detectTimeout: 20 * time.Second, cleanTimeout: 120 * time.Second}, true
		}
	}
	return nil, false
}

func candidatePaths(extra []string) []string {
	var c []string
	c = append(c, extra...)
	if exe, err := os.Executable(); err == nil {
		c = append(c, filepath.Join(filepath.Dir(exe), "exiftool", exiftoolExeName()))
	}
	c = append(c, "exiftool")
	if home, err := os.UserHomeDir(); err == nil {
		c = append(c, filepath.Join(home, "AppData", "Local", "Programs", "ExifTool", "ExifTool.exe"))
	}
	return c
}

func exiftoolExeName() string {
	if strings.EqualFold(os.Getenv("OS"), "Windows_NT") {
		return "ExifTool.exe"
	}
	return "exiftool"
}

// WithTimeouts overrides the detect/clean wall-clock budgets; Probe's
// defaults (20s / 120s) match spec.md §5's recommendation.
func (b *Bridge) WithTimeouts(detect, clean time.Duration) *Bridge {
	if detect > 0 {
		b.detectTimeout = detect
	}
	if clean > 0 {
		b.cleanTimeout = clean
	}
	return b
}

// Labels returns the filtered sensitive-tag labels ExifTool reports for
// path, per spec.md §4.12's fixed set. A non-zero exit or a timeout yields
// a nil slice and an *engine.ExternalToolError; output that is not valid
// JSON yields a nil slice and a nil error.
func (b *Bridge) Labels(path string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.detectTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.path, "-j", "-a", "-G1", "-s", path)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, &engine.ExternalToolError{Tool: "exiftool", TimedOut: true}
	}
	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return nil, &engine.ExternalToolError{Tool: "exiftool", ExitCode: exitCode, StderrTail: tail(stderr.String())}
	}

	return parseLabels(out), nil
}

// parseLabels filters a single "-j -G1" record to the fixed sensitive-tag
// set, stripping ExifTool's "Group1:Tag" prefixes and dropping empty or
// zero values.
func parseLabels(jsonOut []byte) []string {
	var records []map[string]any
	if err := json.Unmarshal(jsonOut, &records); err != nil || len(records) == 0 {
		return nil
	}

	var labels []string
	seen := map[string]bool{}
	for k, v := range records[0] {
		label := k
		if idx := strings.LastIndex(k, ":"); idx >= 0 {
			label = k[idx+1:]
		}
		if !sensitiveTags[label] || seen[label] {
			continue
		}
		if isEmptyValue(v) {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || t == "0"
	case float64:
		return t == 0
	default:
		return false
	}
}

// Clean removes all writable metadata in place via "-all=" (or, for
// legacy OLE Word documents, the narrower "-SummaryInfo:All=
// -DocSummaryInfo:All=" form the original implementation used).
func (b *Bridge) Clean(path string, t engine.FileType) (engine.CleanResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cleanTimeout)
	defer cancel()

	args := []string{"-overwrite_original"}
	if t == engine.TypeDOC {
		args = append(args, "-SummaryInfo:All=", "-DocSummaryInfo:All=")
	} else {
		args = append(args, "-all=")
	}
	args = append(args, path)

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, b.path, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return engine.CleanResult{}, &engine.ExternalToolError{Tool: "exiftool", TimedOut: true}
	}
	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return engine.CleanResult{}, &engine.ExternalToolError{Tool: "exiftool", ExitCode: exitCode, StderrTail: tail(out.String())}
	}

	return interpretCleanOutput(out.String()), nil
}

// interpretCleanOutput classifies ExifTool's combined stdout/stderr text
// from an -overwrite_original run into a CleanResult.
func interpretCleanOutput(raw string) engine.CleanResult {
	text := strings.ToLower(raw)
	switch {
	case strings.Contains(text, "updated"):
		return engine.CleanResult{Changed: true, Reason: "exiftool removed writable metadata"}
	case strings.Contains(text, "unchanged"), strings.Contains(text, "nothing to do"):
		return engine.CleanResult{Changed: false, Reason: "no writable metadata for this file type"}
	default:
		return engine.CleanResult{Changed: false, Reason: "no changes reported by exiftool"}
	}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const maxLen = 512
	if len(s) > maxLen {
		return s[len(s)-maxLen:]
	}
	return s
}

// SensitiveLabels implements the sensitive_labels_from_tool public
// operation: an unavailable tool yields an empty sequence, never an error.
func SensitiveLabels(path string, extraPaths []string, timeout time.Duration) []string {
	b, ok := Probe(extraPaths, timeout)
	if !ok {
		return nil
	}
	labels, err := b.Labels(path)
	if err != nil {
		return nil
	}
	return labels
}
