// Package word2003xml implements the Word 2003 XML (WordprocessingML)
// metadata handler: a single XML document whose document-properties sit in
// "office" namespace elements, not inside a container.
package word2003xml

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/beevik/etree"

	"metaclean/internal/backup"
	"metaclean/internal/engine"
)

const nsOffice = "urn:schemas-microsoft-com:office:office"

const xmlDecl = `version="1.0" encoding="UTF-8"`

// ensureXMLDecl normalizes the leading <?xml ...?> declaration to a plain
// UTF-8 one, prepending it if the document had none.
func ensureXMLDecl(doc *etree.Document) {
	for _, tok := range doc.Child {
		if pi, ok := tok.(*etree.ProcInst); ok && pi.Target == "xml" {
			pi.Inst = xmlDecl
			return
		}
	}
	doc.Child = append([]etree.Token{&etree.ProcInst{Target: "xml", Inst: xmlDecl}}, doc.Child...)
}

// Handler implements engine.Handler for Word 2003 XML documents.
type Handler struct{}

func New() Handler { return Handler{} }

func clark(local string) string {
	return fmt.Sprintf(".//{%s}%s", nsOffice, local)
}

// Detect implements engine.Handler.
func (Handler) Detect(path string) (engine.DetectionReport, error) {
	report := engine.DetectionReport{Type: engine.TypeWord2003XML}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		report.CanClean = false
		report.Note = fmt.Sprintf("not well-formed XML: %v", err)
		return report, nil
	}

	props := doc.FindElement(clark("DocumentProperties"))
	if props != nil {
		for _, child := range props.ChildElements() {
			report.AddLabel(child.Tag)
		}
	}
	if doc.FindElement(clark("CustomDocumentProperties")) != nil {
		report.AddLabel("CustomDocumentProperties")
	}

	report.CanClean = props != nil || doc.FindElement(clark("CustomDocumentProperties")) != nil
	return report, nil
}

// Clean implements engine.Handler: removes every o:DocumentProperties and
// o:CustomDocumentProperties element wherever it appears, then writes the
// XML back with a UTF-8 declaration.
func (Handler) Clean(path string, backupRequested bool) (engine.CleanResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return engine.CleanResult{Changed: false, Reason: "parse error: " + err.Error()}, nil
	}

	removed := 0
	for _, tag := range []string{"DocumentProperties", "CustomDocumentProperties"} {
		for _, el := range doc.FindElements(clark(tag)) {
			parent := el.Parent()
			if parent == nil {
				continue
			}
			parent.RemoveChild(el)
			removed++
		}
	}
	if removed == 0 {
		return engine.CleanResult{Changed: false, Reason: "no DocumentProperties/CustomDocumentProperties elements present"}, nil
	}

	ensureXMLDecl(doc)
	doc.WriteSettings.CanonicalEndTags = true

	r, err := backup.NewReplacer(path)
	if err != nil {
		return engine.CleanResult{}, err
	}
	defer r.Discard()
	if _, err := doc.WriteTo(r.File()); err != nil {
		return engine.CleanResult{}, fmt.Errorf("word2003xml: write %s: %w", path, err)
	}
	if _, err := r.Commit(backupRequested); err != nil {
		return engine.CleanResult{}, err
	}

	return engine.CleanResult{Changed: true, Reason: fmt.Sprintf("removed %d properties element(s)", removed)}, nil
}

// Hash implements engine.Handler: no content-preserving transform is
// defined for this format, so per spec.md the whole file is hashed as an
// informational fallback only — it will change across a clean.
func (Handler) Hash(path string) (engine.ContentHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("word2003xml: read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return engine.ContentHash{Digest: hex.EncodeToString(sum[:]), Description: "whole-file-fallback"}, nil
}
