// Package ooxml implements the docx/xlsx/pptx metadata handler. These are
// ZIP archives of XML parts (Open Packaging Conventions); metadata lives
// in the docProps/ parts plus the references to them from
// [Content_Types].xml and _rels/.rels. This handler is authoritative —
// the external tool bridge never rewrites OOXML containers, since it
// cannot write to them.
package ooxml

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/metakeule/fmtdate"

	"metaclean/internal/backup"
	"metaclean/internal/engine"
)

const (
	nsCoreProps     = "http://schemas.openxmlformats.org/package/2006/metadata/core-properties"
	nsDC            = "http://purl.org/dc/elements/1.1/"
	nsDCTerms       = "http://purl.org/dc/terms/"
	nsExtendedProps = "http://schemas.openxmlformats.org/officeDocument/2006/extended-properties"
	nsCustomProps   = "http://schemas.openxmlformats.org/officeDocument/2006/custom-properties"
	nsContentTypes  = "http://schemas.openxmlformats.org/package/2006/content-types"
	nsRelationships = "http://schemas.openxmlformats.org/package/2006/relationships"

	partContentTypes = "[Content_Types].xml"
	partRootRels      = "_rels/.rels"
	partCore          = "docProps/core.xml"
	partApp           = "docProps/app.xml"
	partCustom        = "docProps/custom.xml"
)

// w3cdtfLayout is the XML Schema dateTime subset used by dcterms:created
// and dcterms:modified in OOXML core properties.
const w3cdtfLayout = "YYYY-MM-DDThh:mm:ssZ"

// Handler implements engine.Handler for docx/xlsx/pptx.
type Handler struct {
	Type engine.FileType
}

func New(t engine.FileType) Handler { return Handler{Type: t} }

func clark(ns, local string) string {
	return fmt.Sprintf(".//{%s}%s", ns, local)
}

// isDocPropsPart reports whether name is one of the metadata parts this
// handler drops: the three known docProps XML parts, or any
// docProps/thumbnail.* part.
func isDocPropsPart(name string) bool {
	switch name {
	case partCore, partApp, partCustom:
		return true
	}
	return strings.HasPrefix(name, "docProps/thumbnail.")
}

// Detect implements engine.Handler.
func (h Handler) Detect(path string) (engine.DetectionReport, error) {
	report := engine.DetectionReport{Type: h.Type}

	zr, err := zip.OpenReader(path)
	if err != nil {
		report.CanClean = false
		report.Note = fmt.Sprintf("not a valid ZIP/OPC container: %v", err)
		return report, nil
	}
	defer zr.Close()

	found := false
	for _, f := range zr.File {
		switch f.Name {
		case partCore:
			found = true
			detectCore(f, &report)
		case partApp:
			found = true
			detectApp(f, &report)
		case partCustom:
			found = true
			detectCustom(f, &report)
		default:
			if strings.HasPrefix(f.Name, "docProps/thumbnail.") {
				found = true
				report.AddLabel("Thumbnail")
			}
		}
	}
	report.CanClean = found
	return report, nil
}

func detectCore(f *zip.File, report *engine.DetectionReport) {
	doc := readPart(f)
	if doc == nil {
		return
	}
	fields := []struct {
		ns, local, label string
	}{
		{nsDC, "creator", "Author"},
		{nsCoreProps, "lastModifiedBy", "LastModifiedBy"},
		{nsDCTerms, "created", "Created"},
		{nsDCTerms, "modified", "Modified"},
		{nsDC, "title", "Title"},
		{nsDC, "subject", "Subject"},
		{nsCoreProps, "keywords", "Keywords"},
		{nsCoreProps, "category", "Category"},
	}
	for _, fld := range fields {
		el := doc.FindElement(clark(fld.ns, fld.local))
		if el == nil {
			continue
		}
		report.AddLabel(fld.label)
		if fld.local == "created" || fld.local == "modified" {
			// Best-effort W3CDTF validation; a parse failure is surfaced
			// as an informational note only, never as a changed label.
			if _, err := fmtdate.Parse(w3cdtfLayout, el.Text()); err != nil && report.Note == "" {
				report.Note = fmt.Sprintf("%s timestamp is not strict W3CDTF", fld.label)
			}
		}
	}
}

func detectApp(f *zip.File, report *engine.DetectionReport) {
	doc := readPart(f)
	if doc == nil {
		return
	}
	fields := []struct{ local, label string }{
		{"Company", "Company"},
		{"Manager", "Manager"},
		{"Application", "Application"},
	}
	for _, fld := range fields {
		if doc.FindElement(clark(nsExtendedProps, fld.local)) != nil {
			report.AddLabel(fld.label)
		}
	}
}

func detectCustom(f *zip.File, report *engine.DetectionReport) {
	doc := readPart(f)
	if doc == nil {
		return
	}
	props := doc.FindElements(clark(nsCustomProps, "property"))
	if len(props) > 0 {
		report.AddLabel(fmt.Sprintf("CustomProps:%d", len(props)))
	}
}

func readPart(f *zip.File) *etree.Document {
	rc, err := f.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(rc); err != nil {
		return nil
	}
	return doc
}

// Clean implements engine.Handler.
func (h Handler) Clean(path string, backupRequested bool) (engine.CleanResult, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return engine.CleanResult{Changed: false, Reason: "parse error: " + err.Error()}, nil
	}
	defer zr.Close()

	anyDocProps := false
	for _, f := range zr.File {
		if isDocPropsPart(f.Name) {
			anyDocProps = true
			break
		}
	}
	if !anyDocProps {
		return engine.CleanResult{Changed: false, Reason: "no docProps parts present"}, nil
	}

	r, err := backup.NewReplacer(path)
	if err != nil {
		return engine.CleanResult{}, err
	}
	defer r.Discard()

	zw := zip.NewWriter(r.File())
	for _, f := range zr.File {
		if isDocPropsPart(f.Name) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return engine.CleanResult{}, fmt.Errorf("ooxml: open part %q: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return engine.CleanResult{}, fmt.Errorf("ooxml: read part %q: %w", f.Name, err)
		}

		switch f.Name {
		case partContentTypes:
			data, err = stripContentTypesOverrides(data)
		case partRootRels:
			data, err = stripDocPropsRelationships(data)
		}
		if err != nil {
			return engine.CleanResult{}, fmt.Errorf("ooxml: rewrite part %q: %w", f.Name, err)
		}

		name, safe := safePartName(f.Name)
		if !safe {
			continue // refuse to re-materialize a path-traversal entry name
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return engine.CleanResult{}, fmt.Errorf("ooxml: create part %q: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return engine.CleanResult{}, fmt.Errorf("ooxml: write part %q: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return engine.CleanResult{}, fmt.Errorf("ooxml: finalize archive: %w", err)
	}

	if _, err := r.Commit(backupRequested); err != nil {
		return engine.CleanResult{}, err
	}
	return engine.CleanResult{Changed: true, Reason: "removed docProps parts and references"}, nil
}

// safePartName rejects any ZIP entry name that would escape a virtual
// archive root when joined, guarding against a crafted "../" entry.
func safePartName(name string) (string, bool) {
	cleaned := strings.ReplaceAll(name, "\\", "/")
	if strings.Contains(cleaned, "..") || strings.HasPrefix(cleaned, "/") {
		return "", false
	}
	return cleaned, true
}

func stripContentTypesOverrides(data []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return data, nil
	}
	var toRemove []*etree.Element
	for _, el := range root.ChildElements() {
		if el.Tag != "Override" {
			continue
		}
		partName := el.SelectAttrValue("PartName", "")
		if strings.HasPrefix(partName, "/docProps/") {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		root.RemoveChild(el)
	}
	return doc.WriteToBytes()
}

func stripDocPropsRelationships(data []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return data, nil
	}
	var toRemove []*etree.Element
	for _, el := range root.ChildElements() {
		if el.Tag != "Relationship" {
			continue
		}
		target := el.SelectAttrValue("Target", "")
		if strings.HasPrefix(target, "docProps/") {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		root.RemoveChild(el)
	}
	return doc.WriteToBytes()
}

// Hash implements engine.Handler: enumerate archive entries excluding
// docProps/, any _rels/ content, and [Content_Types].xml; sort the
// remaining names lexicographically; hash each name's UTF-8 bytes
// followed by the part's content bytes.
func (h Handler) Hash(path string) (engine.ContentHash, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("ooxml: open %s: %w", path, err)
	}
	defer zr.Close()

	type namedFile struct {
		name string
		f    *zip.File
	}
	var kept []namedFile
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "docProps/") {
			continue
		}
		if f.Name == partRootRels || strings.Contains(f.Name, "/_rels/") || strings.HasPrefix(f.Name, "_rels/") {
			continue
		}
		if f.Name == partContentTypes {
			continue
		}
		kept = append(kept, namedFile{name: f.Name, f: f})
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].name < kept[j].name })

	h256 := sha256.New()
	for _, nf := range kept {
		h256.Write([]byte(nf.name))
		rc, err := nf.f.Open()
		if err != nil {
			return engine.ContentHash{}, fmt.Errorf("ooxml: open part %q: %w", nf.name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return engine.ContentHash{}, fmt.Errorf("ooxml: read part %q: %w", nf.name, err)
		}
		h256.Write(data)
	}
	sum := h256.Sum(nil)
	return engine.ContentHash{Digest: hex.EncodeToString(sum), Description: "ooxml-parts"}, nil
}
