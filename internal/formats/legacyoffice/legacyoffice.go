// Package legacyoffice implements the doc/xls/ppt metadata handler. These
// are OLE Compound File Binary (CFB) storages: a tree of storages
// containing streams. The two property-set streams at the root,
// "\x05SummaryInformation" and "\x05DocumentSummaryInformation", carry the
// document's metadata.
//
// mscfb gives this package a read-only view of the storage tree. There is
// no OLE writer in the Go ecosystem this module can reach, so cleaning
// always reports can_clean=false with a note, exactly as spec.md
// anticipates for platforms without an OLE implementation; detection and
// the content hash still work fully against the read-only tree.
package legacyoffice

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/richardlehane/mscfb"
	"github.com/richardlehane/msoleps"
	"github.com/shakinm/xlsReader/xls"

	"metaclean/internal/engine"
)

const (
	streamSummary     = "\x05SummaryInformation"
	streamDocSummary  = "\x05DocumentSummaryInformation"
	noOLEWriterReason = "no OLE writer available in this build; legacy Office content cannot be rewritten natively"
)

// coreStreamNames is the case-insensitive core-streams set used by the
// §4.10 hash variant: it is preferred over the full stream set whenever it
// is non-empty.
var coreStreamNames = map[string]bool{
	"worddocument":         true,
	"0table":                true,
	"1table":                true,
	"workbook":              true,
	"book":                  true,
	"powerpoint document":   true,
}

// Handler implements engine.Handler for doc/xls/ppt.
type Handler struct {
	Type engine.FileType
}

func New(t engine.FileType) Handler { return Handler{Type: t} }

// oleEntry is a flattened view of one mscfb directory entry, captured as
// the walk proceeds since mscfb.File is only valid for the duration of one
// Next() iteration.
type oleEntry struct {
	fullPath string // storage path components joined with "/", then leaf name
	leaf     string
	data     []byte
}

// walk opens the CFB container and reads every non-storage entry into
// memory, reconstructing each entry's full path from mscfb's reported
// storage chain.
func walk(path_ string) ([]oleEntry, error) {
	data, err := os.ReadFile(path_)
	if err != nil {
		return nil, fmt.Errorf("legacyoffice: read %s: %w", path_, err)
	}
	r, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("legacyoffice: not a valid OLE compound file: %w", err)
	}

	var entries []oleEntry
	for {
		entry, nextErr := r.Next()
		if nextErr != nil {
			break
		}
		content, readErr := io.ReadAll(entry)
		if readErr != nil || len(content) == 0 {
			continue // storages and empty streams carry no content to hash
		}
		full := entry.Name
		if len(entry.Path) > 0 {
			full = path.Join(strings.Join(entry.Path, "/"), entry.Name)
		}
		entries = append(entries, oleEntry{fullPath: full, leaf: entry.Name, data: content})
	}
	return entries, nil
}

// Detect implements engine.Handler.
func (h Handler) Detect(p string) (engine.DetectionReport, error) {
	report := engine.DetectionReport{Type: h.Type}

	entries, err := walk(p)
	if err != nil {
		report.CanClean = false
		report.Note = err.Error()
		return report, nil
	}

	hasSummary, hasDocSummary := false, false
	for _, e := range entries {
		switch e.leaf {
		case streamSummary:
			hasSummary = true
			report.AddLabel("SummaryInformation")
			for _, label := range decodePropertySetLabels(e.data) {
				report.AddLabel(label)
			}
		case streamDocSummary:
			hasDocSummary = true
			report.AddLabel("DocumentSummaryInformation")
			for _, label := range decodePropertySetLabels(e.data) {
				report.AddLabel(label)
			}
		}
	}

	if h.Type == engine.TypeXLS {
		if label := xlsCrossCheckLabel(p); label != "" {
			report.AddLabel(label)
		}
	}

	report.CanClean = false
	if hasSummary || hasDocSummary {
		report.Note = noOLEWriterReason
	} else {
		report.Note = "no property-set streams found; " + noOLEWriterReason
	}
	return report, nil
}

// decodePropertySetLabels best-effort decodes a property-set stream via
// msoleps, returning the typed property names it recognises. Any decode
// failure yields no extra labels rather than an error: this is additive
// detail beyond the spec's present/absent contract, never load-bearing.
func decodePropertySetLabels(data []byte) []string {
	defer func() { recover() }()

	doc, err := msoleps.New(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	var labels []string
	for _, prop := range doc.Property {
		if prop == nil || prop.Name == "" {
			continue
		}
		labels = append(labels, fmt.Sprintf("Prop:%s", prop.Name))
	}
	return labels
}

// xlsCrossCheckLabel uses shakinm/xlsReader to confirm a .xls payload
// parses as a legacy BIFF workbook and returns a "Worksheets:N" label with
// its sheet count, or "" when it does not parse.
func xlsCrossCheckLabel(p string) string {
	defer func() { recover() }()

	data, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Worksheets:%d", wb.GetNumberSheets())
}

// Clean implements engine.Handler. There is no OLE writer available, so
// this always reports no change rather than attempt an unsafe rewrite.
func (h Handler) Clean(p string, _ bool) (engine.CleanResult, error) {
	entries, err := walk(p)
	if err != nil {
		return engine.CleanResult{Changed: false, Reason: "parse error: " + err.Error()}, nil
	}
	hasEither := false
	for _, e := range entries {
		if e.leaf == streamSummary || e.leaf == streamDocSummary {
			hasEither = true
			break
		}
	}
	if !hasEither {
		return engine.CleanResult{Changed: false, Reason: "no property-set streams present"}, nil
	}
	return engine.CleanResult{Changed: false, Reason: noOLEWriterReason}, nil
}

// Hash implements engine.Handler: depth-first walk of the OLE tree,
// hashing every stream except the two property-set streams, accumulating
// (full_path, stream_hex) pairs sorted by full path. The core-streams
// variant is preferred whenever it is non-empty.
func (h Handler) Hash(p string) (engine.ContentHash, error) {
	entries, err := walk(p)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("legacyoffice: %w", err)
	}

	type pair struct{ path, hex string }
	var all, core []pair
	for _, e := range entries {
		if e.leaf == streamSummary || e.leaf == streamDocSummary {
			continue
		}
		sum := sha256.Sum256(e.data)
		pr := pair{path: e.fullPath, hex: hex.EncodeToString(sum[:])}
		all = append(all, pr)
		if coreStreamNames[strings.ToLower(e.leaf)] {
			core = append(core, pr)
		}
	}

	chosen, desc := all, "legacy-office-all-streams"
	if len(core) > 0 {
		chosen, desc = core, "legacy-office-core-streams"
	}
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].path < chosen[j].path })

	h256 := sha256.New()
	for _, pr := range chosen {
		h256.Write([]byte(pr.path))
		h256.Write([]byte(pr.hex))
	}
	sum := h256.Sum(nil)
	return engine.ContentHash{Digest: hex.EncodeToString(sum), Description: desc}, nil
}

// PropsState implements the legacy_office_props_state public operation:
// whether the two property-set streams exist. An unreadable file reports
// (false, false) rather than propagating a parse error.
func PropsState(p string) (hasSummary, hasDocSummary bool) {
	entries, err := walk(p)
	if err != nil {
		return false, false
	}
	for _, e := range entries {
		switch e.leaf {
		case streamSummary:
			hasSummary = true
		case streamDocSummary:
			hasDocSummary = true
		}
	}
	return hasSummary, hasDocSummary
}
