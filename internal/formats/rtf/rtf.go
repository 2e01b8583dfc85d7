// Package rtf implements the RTF metadata handler. RTF metadata lives in
// "{\info ...}" destination groups; everything else is plain group/control
// word syntax. The file is treated as latin-1 bytes throughout (no
// transcoding of the high-bit range) so that cleaning is a byte-exact
// excision of the info groups, never a re-encode of the rest of the file.
package rtf

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/text/encoding/charmap"

	"metaclean/internal/backup"
	"metaclean/internal/engine"
)

// infoSubControls are the recognised sub-controls inside an \info group,
// in the order spec.md lists them.
var infoSubControls = []string{
	"author", "company", "title", "subject", "keywords",
	"operator", "category", "doccomm", "creatim", "revtim",
}

var subControlLabels = map[string]string{
	"author": "Author", "company": "Company", "title": "Title",
	"subject": "Subject", "keywords": "Keywords", "operator": "Operator",
	"category": "Category", "doccomm": "Comment", "creatim": "CreationTime",
	"revtim": "RevisionTime",
}

// Handler implements engine.Handler for RTF files.
type Handler struct{}

func New() Handler { return Handler{} }

type group struct{ start, end int } // end is the index just past the closing '}'

// findInfoGroups scans data for "{\info" destinations at any nesting depth
// and returns their byte spans; a group found inside an earlier one is
// covered by that earlier span.
func findInfoGroups(data []byte) ([]group, error) {
	var groups []group
	i := 0
	for {
		idx := bytes.Index(data[i:], []byte(`{\info`))
		if idx < 0 {
			return groups, nil
		}
		start := i + idx
		after := start + len(`{\info`)
		if after < len(data) && isControlLetter(data[after]) {
			// "{\infoXxx" - not actually the \info destination.
			i = start + 1
			continue
		}
		end, err := scanGroup(data, start)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group{start: start, end: end})
		i = end
	}
}

func isControlLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// scanGroup implements spec.md's group-skipping rule: depth starts at 1 at
// the opening '{'; every backslash consumes the next byte unconditionally
// (escape handling, including \{ and \}); '{' increments depth, '}'
// decrements; the group ends (exclusive end index returned) when depth
// reaches zero.
func scanGroup(data []byte, start int) (int, error) {
	depth := 1
	i := start + 1
	for i < len(data) {
		b := data[i]
		switch {
		case b == '\\':
			i += 2
		case b == '{':
			depth++
			i++
		case b == '}':
			depth--
			i++
			if depth == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, fmt.Errorf("rtf: unterminated group starting at offset %d", start)
}

// stripInfoGroups returns data with every \info group in groups removed.
func stripInfoGroups(data []byte, groups []group) []byte {
	if len(groups) == 0 {
		return data
	}
	var out bytes.Buffer
	pos := 0
	for _, g := range groups {
		out.Write(data[pos:g.start])
		pos = g.end
	}
	out.Write(data[pos:])
	return out.Bytes()
}

// Detect implements engine.Handler.
func (Handler) Detect(path string) (engine.DetectionReport, error) {
	report := engine.DetectionReport{Type: engine.TypeRTF}

	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("rtf: read %s: %w", path, err)
	}
	groups, err := findInfoGroups(data)
	if err != nil {
		report.CanClean = false
		report.Note = err.Error()
		return report, nil
	}

	report.CanClean = true
	found := map[string]bool{}
	for _, g := range groups {
		body := data[g.start:g.end]
		for _, ctl := range infoSubControls {
			if bytes.Contains(body, []byte(`\`+ctl)) {
				found[ctl] = true
			}
		}
	}
	for _, ctl := range infoSubControls {
		if found[ctl] {
			report.AddLabel(subControlLabels[ctl])
		}
	}

	if len(groups) > 0 {
		if decoded, derr := charmap.ISO8859_1.NewDecoder().Bytes(data[groups[0].start:groups[0].end]); derr == nil {
			report.Note = fmt.Sprintf("first info group is %d bytes", len(decoded))
		}
	}
	return report, nil
}

// Clean implements engine.Handler.
func (Handler) Clean(path string, backupRequested bool) (engine.CleanResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.CleanResult{}, fmt.Errorf("rtf: read %s: %w", path, err)
	}
	groups, err := findInfoGroups(data)
	if err != nil {
		return engine.CleanResult{Changed: false, Reason: "parse error: " + err.Error()}, nil
	}
	if len(groups) == 0 {
		return engine.CleanResult{Changed: false, Reason: "no \\info groups present"}, nil
	}

	out := stripInfoGroups(data, groups)

	r, err := backup.NewReplacer(path)
	if err != nil {
		return engine.CleanResult{}, err
	}
	defer r.Discard()
	if _, err := r.File().Write(out); err != nil {
		return engine.CleanResult{}, fmt.Errorf("rtf: write %s: %w", path, err)
	}
	if _, err := r.Commit(backupRequested); err != nil {
		return engine.CleanResult{}, err
	}
	return engine.CleanResult{Changed: true, Reason: fmt.Sprintf("removed %d \\info group(s)", len(groups))}, nil
}

// Hash implements engine.Handler: SHA-256 of the latin-1 bytes of the file
// after stripping every \info group.
func (Handler) Hash(path string) (engine.ContentHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("rtf: read %s: %w", path, err)
	}
	groups, err := findInfoGroups(data)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("rtf: %w", err)
	}
	out := stripInfoGroups(data, groups)
	sum := sha256.Sum256(out)
	return engine.ContentHash{Digest: hex.EncodeToString(sum[:]), Description: "rtf-no-info"}, nil
}
