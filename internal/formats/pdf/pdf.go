// Package pdf implements the PDF metadata handler. Reading leans on
// ledongthuc/pdf's object-graph walk (/Info, /Root/Metadata, page
// /Contents); writing is a hand-rolled classic cross-reference-table
// rewrite, since no library in reach of this module can edit a PDF in
// place. Files using a cross-reference *stream* (PDF 1.5+ compressed
// xref) are still fully readable but report can_clean=false: this
// handler's rewrite path only understands the classic "xref" table
// format.
package pdf

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"metaclean/internal/backup"
	"metaclean/internal/engine"
)

// Handler implements engine.Handler for PDF files.
type Handler struct{}

func New() Handler { return Handler{} }

var infoLabels = map[string]string{
	"Title":        "Title",
	"Author":       "Author",
	"Subject":      "Subject",
	"Keywords":     "Keywords",
	"Creator":      "Creator",
	"Producer":     "Producer",
	"CreationDate": "CreationDate",
	"ModDate":      "ModDate",
}

var xmpPredicates = []string{"dc:title", "dc:creator", "xmp:CreatorTool", "pdf:Producer", "xmp:CreateDate", "xmp:ModifyDate", "xmpMM:DocumentID"}

// Detect implements engine.Handler.
func (Handler) Detect(path string) (engine.DetectionReport, error) {
	report := engine.DetectionReport{Type: engine.TypePDF}

	f, r, err := pdf.Open(path)
	if err != nil {
		return fallbackDetect(path, report, err)
	}
	defer f.Close()

	trailer := r.Trailer()
	info := trailer.Key("Info")
	if info.Kind() == pdf.Dict {
		for _, k := range info.Keys() {
			if label, ok := infoLabels[k]; ok {
				report.AddLabel(label)
			} else {
				report.AddLabel("CustomInfo")
			}
		}
	}

	root := trailer.Key("Root")
	meta := root.Key("Metadata")
	if meta.Kind() == pdf.Stream {
		rc := meta.Reader()
		data, _ := io.ReadAll(rc)
		rc.Close()
		xmp := string(data)
		for _, pred := range xmpPredicates {
			if strings.Contains(xmp, pred) {
				report.AddLabel(pred)
			}
		}
	}

	report.CanClean = isClassicXref(path)
	if !report.CanClean {
		report.Note = "cross-reference stream format; native rewrite unsupported, use external tool"
	}
	return report, nil
}

// fallbackDetect implements spec.md's degraded path: when the PDF library
// cannot open the file, scan the first 64 KiB textually for the literals
// that indicate metadata presence.
func fallbackDetect(path string, report engine.DetectionReport, openErr error) (engine.DetectionReport, error) {
	f, err := os.Open(path)
	if err != nil {
		report.CanClean = false
		report.Note = fmt.Sprintf("unreadable: %v", err)
		return report, nil
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	n, _ := io.ReadAtLeast(f, buf, 1)
	head := string(buf[:n])

	report.CanClean = false
	if strings.Contains(head, "/Metadata") || strings.Contains(head, "xpacket") || strings.Contains(head, "/Info") {
		report.AddLabel("Metadata detected")
	}
	report.Note = fmt.Sprintf("PDF object graph unreadable (%v); best-effort scan only", openErr)
	return report, nil
}

// Clean implements engine.Handler.
func (Handler) Clean(path string, backupRequested bool) (engine.CleanResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.CleanResult{}, fmt.Errorf("pdf: read %s: %w", path, err)
	}

	doc, err := parseClassic(data)
	if err != nil {
		return engine.CleanResult{Changed: false, Reason: "native rewrite unsupported: " + err.Error()}, nil
	}

	hadInfo := doc.infoNum != 0 && doc.infoHadKeys
	hadMetadata := doc.rootHadMetadataRef
	if !hadInfo && !hadMetadata {
		return engine.CleanResult{Changed: false, Reason: "no /Info entries or /Metadata reference present"}, nil
	}

	out := doc.rewrite()

	r, err := backup.NewReplacer(path)
	if err != nil {
		return engine.CleanResult{}, err
	}
	defer r.Discard()
	if _, err := r.File().Write(out); err != nil {
		return engine.CleanResult{}, fmt.Errorf("pdf: write rewritten file: %w", err)
	}
	if _, err := r.Commit(backupRequested); err != nil {
		return engine.CleanResult{}, err
	}
	return engine.CleanResult{Changed: true, Reason: "cleared /Info entries and removed /Metadata reference"}, nil
}

// Hash implements engine.Handler: for each page in order, hash its
// /Contents stream bytes (array elements in array order, or the single
// stream's bytes).
func (Handler) Hash(path string) (engine.ContentHash, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("pdf: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n := r.NumPage()
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.Kind() == pdf.Null {
			continue
		}
		contents := page.V.Key("Contents")
		switch contents.Kind() {
		case pdf.Array:
			for j := 0; j < contents.Len(); j++ {
				writeStream(h, contents.Index(j))
			}
		case pdf.Stream:
			writeStream(h, contents)
		}
	}
	sum := h.Sum(nil)
	return engine.ContentHash{Digest: hex.EncodeToString(sum), Description: "pdf-page-contents"}, nil
}

func writeStream(h io.Writer, v pdf.Value) {
	if v.Kind() != pdf.Stream {
		return
	}
	rc := v.Reader()
	defer rc.Close()
	io.Copy(h, rc)
}

// ---- classic cross-reference rewrite ----

var (
	reStartxref = regexp.MustCompile(`startxref\s*(\d+)`)
	reXrefEntry = regexp.MustCompile(`(\d{10})\s+(\d{5})\s+([nf])`)
	reSubsect   = regexp.MustCompile(`(\d+)\s+(\d+)`)
	reMetadata  = regexp.MustCompile(`/Metadata\s+(\d+)\s+\d+\s+R`)
)

type classicDoc struct {
	data               []byte
	objOffset          map[int]int // object number -> byte offset of "N G obj"
	rootNum, infoNum   int
	maxNum             int
	infoHadKeys        bool
	rootHadMetadataRef bool
}

// isClassicXref reports whether path's final cross-reference section uses
// the literal "xref" table keyword rather than a cross-reference stream.
func isClassicXref(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	_, err = parseClassic(data)
	return err == nil
}

func parseClassic(data []byte) (*classicDoc, error) {
	offset, err := lastStartxref(data)
	if err != nil {
		return nil, err
	}

	doc := &classicDoc{data: data, objOffset: map[int]int{}}
	seen := map[int]bool{}
	for offset >= 0 {
		tail := bytes.TrimLeft(data[offset:], " \r\n\t")
		if !bytes.HasPrefix(tail, []byte("xref")) {
			return nil, fmt.Errorf("cross-reference stream (not a classic xref table) at offset %d", offset)
		}
		trailerIdx := bytes.Index(data[offset:], []byte("trailer"))
		if trailerIdx < 0 {
			return nil, fmt.Errorf("no trailer found for xref at offset %d", offset)
		}
		section := data[offset : offset+trailerIdx]
		parseXrefSection(section, doc, seen)

		trailerDict, next := extractTrailer(data[offset+trailerIdx:])
		if doc.rootNum == 0 {
			doc.rootNum = indirectRefNum(trailerDict, "/Root")
		}
		if doc.infoNum == 0 {
			doc.infoNum = indirectRefNum(trailerDict, "/Info")
		}
		prev, ok := intKey(trailerDict, "/Prev")
		if !ok {
			break
		}
		offset = prev
		_ = next
	}

	for n := range doc.objOffset {
		if n > doc.maxNum {
			doc.maxNum = n
		}
	}
	if doc.rootNum == 0 {
		return nil, fmt.Errorf("no /Root entry in trailer chain")
	}

	if doc.infoNum != 0 {
		span, sErr := doc.objectSpan(doc.infoNum)
		if sErr == nil {
			_, closeIdx, dErr := dictSpan(span)
			if dErr == nil && closeIdx > 2 {
				doc.infoHadKeys = hasDictKeys(span)
			}
		}
	}
	if rootSpan, rErr := doc.objectSpan(doc.rootNum); rErr == nil {
		doc.rootHadMetadataRef = reMetadata.Match(rootSpan)
	}
	return doc, nil
}

func lastStartxref(data []byte) (int, error) {
	matches := reStartxref.FindAllSubmatch(data, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no startxref marker found")
	}
	last := matches[len(matches)-1]
	n, err := strconv.Atoi(string(last[1]))
	if err != nil || n < 0 || n >= len(data) {
		return 0, fmt.Errorf("invalid startxref offset")
	}
	return n, nil
}

// parseXrefSection reads the subsection headers and fixed-format entries
// of one classic xref table, recording the byte offset of each in-use
// object the first time it is seen (newest xref section wins).
func parseXrefSection(section []byte, doc *classicDoc, seen map[int]bool) {
	lines := bytes.Split(section, []byte("\n"))
	var curStart, curCount, curIdx int
	inSubsection := false
	for _, raw := range lines {
		line := bytes.TrimRight(raw, "\r")
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("xref")) {
			continue
		}
		if m := reXrefEntry.FindSubmatch(trimmed); m != nil && inSubsection && curIdx < curCount {
			objNum := curStart + curIdx
			curIdx++
			if string(m[3]) != "n" || seen[objNum] {
				continue
			}
			seen[objNum] = true
			off, err := strconv.Atoi(string(m[1]))
			if err == nil {
				doc.objOffset[objNum] = off
			}
			continue
		}
		if m := reSubsect.FindSubmatch(trimmed); m != nil {
			curStart, _ = strconv.Atoi(string(m[1]))
			curCount, _ = strconv.Atoi(string(m[2]))
			curIdx = 0
			inSubsection = true
		}
	}
}

// extractTrailer returns the dict text of the trailer following "trailer"
// and the byte index just past it.
func extractTrailer(data []byte) (string, int) {
	idx := bytes.Index(data, []byte("trailer"))
	if idx < 0 {
		return "", 0
	}
	rest := data[idx+len("trailer"):]
	open, closeIdx, err := dictSpan(rest)
	if err != nil {
		return "", 0
	}
	return string(rest[open:closeIdx]), idx + len("trailer") + closeIdx
}

func indirectRefNum(dictText, key string) int {
	re := regexp.MustCompile(regexp.QuoteMeta(key) + `\s+(\d+)\s+\d+\s+R`)
	m := re.FindStringSubmatch(dictText)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func intKey(dictText, key string) (int, bool) {
	re := regexp.MustCompile(regexp.QuoteMeta(key) + `\s+(\d+)`)
	m := re.FindStringSubmatch(dictText)
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	return n, true
}

// objectSpan returns the raw bytes of "N G obj ... endobj" for num.
func (d *classicDoc) objectSpan(num int) ([]byte, error) {
	off, ok := d.objOffset[num]
	if !ok {
		return nil, fmt.Errorf("object %d not found", num)
	}
	end := bytes.Index(d.data[off:], []byte("endobj"))
	if end < 0 {
		return nil, fmt.Errorf("object %d: no endobj", num)
	}
	return d.data[off : off+end+len("endobj")], nil
}

// dictSpan finds the first top-level "<< ... >>" span in data, returning
// byte offsets of the content strictly between the delimiters.
func dictSpan(data []byte) (open, closeIdx int, err error) {
	start := bytes.Index(data, []byte("<<"))
	if start < 0 {
		return 0, 0, fmt.Errorf("no dict found")
	}
	depth := 0
	i := start
	for i < len(data)-1 {
		if data[i] == '<' && data[i+1] == '<' {
			depth++
			i += 2
			continue
		}
		if data[i] == '>' && data[i+1] == '>' {
			depth--
			i += 2
			if depth == 0 {
				return start + 2, i - 2, nil
			}
			continue
		}
		i++
	}
	return 0, 0, fmt.Errorf("unterminated dict")
}

func hasDictKeys(objSpan []byte) bool {
	open, closeIdx, err := dictSpan(objSpan)
	if err != nil {
		return false
	}
	return len(bytes.TrimSpace(objSpan[open:closeIdx])) > 0
}

// rewrite produces a fresh, single, classic-xref PDF: the /Info object
// body is blanked, the /Root object has its /Metadata reference stripped
// and the metadata stream it pointed at is dropped, and every other live
// object is copied through verbatim at a new offset.
func (d *classicDoc) rewrite() []byte {
	var buf bytes.Buffer

	metaNum := 0
	if rootSpan, err := d.objectSpan(d.rootNum); err == nil {
		if m := reMetadata.FindSubmatch(rootSpan); m != nil {
			metaNum, _ = strconv.Atoi(string(m[1]))
		}
	}

	headerEnd := bytes.IndexByte(d.data, '\n')
	if headerEnd < 0 || headerEnd > 64 {
		headerEnd = 0
	} else {
		headerEnd++
	}
	buf.Write(d.data[:headerEnd])

	offsets := make(map[int]int, len(d.objOffset))
	for n := 1; n <= d.maxNum; n++ {
		if _, ok := d.objOffset[n]; !ok {
			continue
		}
		if n == metaNum && n != d.rootNum && n != d.infoNum {
			continue
		}
		offsets[n] = buf.Len()
		switch n {
		case d.infoNum:
			fmt.Fprintf(&buf, "%d 0 obj\n<< >>\nendobj\n", n)
		case d.rootNum:
			span, _ := d.objectSpan(n)
			cleaned := reMetadata.ReplaceAll(span, nil)
			buf.Write(cleaned)
			buf.WriteByte('\n')
		default:
			span, _ := d.objectSpan(n)
			buf.Write(span)
			buf.WriteByte('\n')
		}
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", d.maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= d.maxNum; n++ {
		if off, ok := offsets[n]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 00000 f \n")
		}
	}
	buf.WriteString("trailer\n<< /Size ")
	fmt.Fprintf(&buf, "%d /Root %d 0 R", d.maxNum+1, d.rootNum)
	if d.infoNum != 0 {
		fmt.Fprintf(&buf, " /Info %d 0 R", d.infoNum)
	}
	buf.WriteString(" >>\nstartxref\n")
	fmt.Fprintf(&buf, "%d\n%%%%EOF\n", xrefStart)
	return buf.Bytes()
}
