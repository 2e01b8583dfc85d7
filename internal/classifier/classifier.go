// Package classifier implements the format classifier: given a file path,
// it derives a FileType from leading magic bytes, using the extension
// only as a tie-break for ambiguous containers (bare ZIP, bare XML).
package classifier

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/richardlehane/mscfb"

	"metaclean/internal/engine"
)

const sniffLen = 64

var (
	sigJPEG = []byte{0xFF, 0xD8, 0xFF}
	sigPNG  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	sigGIF7 = []byte("GIF87a")
	sigGIF9 = []byte("GIF89a")
	sigPDF  = []byte("%PDF-")
	sigRTF  = []byte(`{\rtf`)
	sigZIP  = []byte("PK")
	sigCFB  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// word2003Marker is the namespace URI that identifies a Word 2003 WordML
// document in an XML-looking file's prefix.
const word2003Marker = "urn:schemas-microsoft-com:office:office"

// Classify derives a FileType for path. It never returns an error for an
// unrecognised file — classification failure yields engine.TypeOther.
func Classify(path string) (engine.FileType, error) {
	f, err := os.Open(path)
	if err != nil {
		return engine.TypeOther, err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, _ := f.Read(head)
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, sigJPEG):
		return engine.TypeJPEG, nil
	case bytes.HasPrefix(head, sigPNG):
		return engine.TypePNG, nil
	case bytes.HasPrefix(head, sigGIF7), bytes.HasPrefix(head, sigGIF9):
		return engine.TypeGIF, nil
	case bytes.HasPrefix(head, sigPDF):
		return engine.TypePDF, nil
	case bytes.HasPrefix(head, sigRTF):
		return engine.TypeRTF, nil
	case bytes.HasPrefix(head, sigZIP):
		return classifyZIP(path)
	case bytes.HasPrefix(head, sigCFB):
		return classifyCFB(path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".docx":
		return engine.TypeDOCX, nil
	case ".xlsx":
		return engine.TypeXLSX, nil
	case ".pptx":
		return engine.TypePPTX, nil
	case ".doc":
		return engine.TypeDOC, nil
	case ".xls":
		return engine.TypeXLS, nil
	case ".ppt":
		return engine.TypePPT, nil
	}

	if looksLikeXML(head) {
		if isWord2003XML(path) {
			return engine.TypeWord2003XML, nil
		}
	}

	return engine.TypeOther, nil
}

// classifyZIP resolves a PK-signed file: a genuine OOXML container keyed
// by extension, or a mislabelled OOXML container (.doc/.xls/.ppt that is
// actually a ZIP) detected by probing for the canonical main-document part.
func classifyZIP(path string) (engine.FileType, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".docx":
		return engine.TypeDOCX, nil
	case ".xlsx":
		return engine.TypeXLSX, nil
	case ".pptx":
		return engine.TypePPTX, nil
	}

	if ext == ".doc" || ext == ".xls" || ext == ".ppt" {
		zr, err := zip.OpenReader(path)
		if err != nil {
			// Not actually a valid ZIP despite the PK signature; fall
			// through to "other" rather than erroring the whole classify.
			return engine.TypeOther, nil
		}
		defer zr.Close()

		for _, f := range zr.File {
			switch f.Name {
			case "word/document.xml":
				return engine.TypeDOCX, nil
			case "xl/workbook.xml":
				return engine.TypeXLSX, nil
			case "ppt/presentation.xml":
				return engine.TypePPTX, nil
			}
		}
	}

	return engine.TypeOther, nil
}

// classifyCFB resolves an OLE Compound File Binary container to doc, xls,
// or ppt. The extension is trusted first; when it is missing or
// unrecognised the storage's core stream names disambiguate, per §4.10's
// {WordDocument, 0Table, 1Table} / {Workbook, Book} / {PowerPoint Document}
// core-stream sets.
func classifyCFB(path string) (engine.FileType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".doc":
		return engine.TypeDOC, nil
	case ".xls":
		return engine.TypeXLS, nil
	case ".ppt":
		return engine.TypePPT, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return engine.TypeOther, nil
	}
	defer f.Close()

	r, err := mscfb.New(f)
	if err != nil {
		return engine.TypeOther, nil
	}
	for {
		entry, nextErr := r.Next()
		if nextErr != nil {
			break
		}
		switch strings.ToLower(entry.Name) {
		case "worddocument", "0table", "1table":
			return engine.TypeDOC, nil
		case "workbook", "book":
			return engine.TypeXLS, nil
		case "powerpoint document":
			return engine.TypePPT, nil
		}
	}
	return engine.TypeOther, nil
}

// looksLikeXML reports whether head starts (after optional BOM/whitespace)
// with an XML declaration or an opening tag.
func looksLikeXML(head []byte) bool {
	trimmed := bytes.TrimLeft(head, "\xEF\xBB\xBF \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<"))
}

// isWord2003XML scans the first 8 KiB of path for the Word 2003 WordML
// office namespace marker.
func isWord2003XML(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, _ := f.Read(buf)
	return bytes.Contains(buf[:n], []byte(word2003Marker))
}
