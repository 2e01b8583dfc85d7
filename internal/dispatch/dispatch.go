// Package dispatch wires a classified engine.FileType to its handler: the
// one seam that must know about every format package, kept out of
// internal/engine itself to avoid an import cycle (format packages import
// engine, not the reverse).
package dispatch

import (
	"metaclean/internal/engine"
	"metaclean/internal/formats/gif"
	"metaclean/internal/formats/jpeg"
	"metaclean/internal/formats/legacyoffice"
	"metaclean/internal/formats/ooxml"
	"metaclean/internal/formats/pdf"
	"metaclean/internal/formats/png"
	"metaclean/internal/formats/rtf"
	"metaclean/internal/formats/word2003xml"
)

// HandlerFor returns the native handler for t, or ok=false for
// engine.TypeOther and any type with no registered handler.
func HandlerFor(t engine.FileType) (engine.Handler, bool) {
	switch t {
	case engine.TypeJPEG:
		return jpeg.New(), true
	case engine.TypePNG:
		return png.New(), true
	case engine.TypeGIF:
		return gif.New(), true
	case engine.TypePDF:
		return pdf.New(), true
	case engine.TypeRTF:
		return rtf.New(), true
	case engine.TypeDOCX, engine.TypeXLSX, engine.TypePPTX:
		return ooxml.New(t), true
	case engine.TypeDOC, engine.TypeXLS, engine.TypePPT:
		return legacyoffice.New(t), true
	case engine.TypeWord2003XML:
		return word2003xml.New(), true
	default:
		return nil, false
	}
}

// ExternalToolEligible reports whether t is a format spec.md §4.12
// permits the external tool bridge to run against: images other than the
// three natively handled ones, and legacy Office tag surfacing. Never
// OOXML, which the native handler always owns.
func ExternalToolEligible(t engine.FileType) bool {
	switch t {
	case engine.TypeDOC, engine.TypeXLS, engine.TypePPT:
		return true
	case engine.TypeJPEG, engine.TypePNG, engine.TypeGIF, engine.TypePDF, engine.TypeRTF,
		engine.TypeDOCX, engine.TypeXLSX, engine.TypePPTX, engine.TypeWord2003XML:
		return false
	default:
		return true
	}
}
