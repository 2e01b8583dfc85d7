// Package jpeg implements the JPEG metadata handler: walk marker segments
// from SOI, drop EXIF/XMP (APP1) and IPTC/PSIR (APP13) segments, and copy
// everything from SOS through EOF verbatim.
package jpeg

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"metaclean/internal/backup"
	"metaclean/internal/engine"
)

const (
	markerSOI = 0xD8
	markerEOI = 0xD9
	markerSOS = 0xDA
	markerAPP1 = 0xE1
	markerAPP13 = 0xED
)

var (
	exifPrefix = []byte("Exif\x00\x00")
	xmpMarker  = []byte("http://ns.adobe.com/xap/1.0/")
	iptcPrefix = []byte("Photoshop 3.0")
)

// Handler implements engine.Handler for JPEG files.
type Handler struct{}

func New() Handler { return Handler{} }

// segment describes one marker segment as found during a walk.
type segment struct {
	tag     byte
	start   int // offset of the 0xFF marker byte
	dataOff int // offset of segment payload (after the 2-byte length field)
	dataLen int
	total   int // bytes from start through end of payload (marker + length + data)
	drop    bool
	label   string // "" if not a metadata segment
}

// walk scans marker segments from the start of data (which must begin
// with SOI) up to the SOS marker. It returns the segments encountered
// before SOS (SOS itself is not among them) and the offset of the SOS
// marker's 0xFF byte, or an error if the framing is malformed.
func walk(data []byte) ([]segment, int, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, 0, fmt.Errorf("jpeg: missing SOI")
	}
	var segs []segment
	pos := 2
	for {
		if pos+1 >= len(data) {
			return nil, 0, fmt.Errorf("jpeg: truncated before SOS")
		}
		if data[pos] != 0xFF {
			return nil, 0, fmt.Errorf("jpeg: expected marker at offset %d", pos)
		}
		tag := data[pos+1]
		if tag == markerSOS {
			return segs, pos, nil
		}
		if pos+3 >= len(data) {
			return nil, 0, fmt.Errorf("jpeg: truncated segment length at offset %d", pos)
		}
		length := int(data[pos+2])<<8 | int(data[pos+3])
		if length < 2 || pos+2+length > len(data) {
			return nil, 0, fmt.Errorf("jpeg: invalid segment length at offset %d", pos)
		}
		dataOff := pos + 4
		dataLen := length - 2
		seg := segment{tag: tag, start: pos, dataOff: dataOff, dataLen: dataLen, total: 2 + length}

		payload := data[dataOff : dataOff+dataLen]
		switch tag {
		case markerAPP1:
			if bytes.HasPrefix(payload, exifPrefix) {
				seg.drop, seg.label = true, "EXIF"
			} else if bytes.Contains(payload, xmpMarker) {
				seg.drop, seg.label = true, "XMP"
			}
		case markerAPP13:
			if bytes.HasPrefix(payload, iptcPrefix) {
				seg.drop, seg.label = true, "IPTC"
			}
		}
		segs = append(segs, seg)
		pos += seg.total
	}
}

// Detect implements engine.Handler.
func (Handler) Detect(path string) (engine.DetectionReport, error) {
	report := engine.DetectionReport{Type: engine.TypeJPEG, CanClean: true}

	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("jpeg: read %s: %w", path, err)
	}
	segs, _, err := walk(data)
	if err != nil {
		report.CanClean = false
		report.Note = err.Error()
		return report, nil
	}
	for _, s := range segs {
		if s.drop {
			report.AddLabel(s.label)
		}
	}
	return report, nil
}

// Clean implements engine.Handler.
func (Handler) Clean(path string, backupRequested bool) (engine.CleanResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.CleanResult{}, fmt.Errorf("jpeg: read %s: %w", path, err)
	}
	segs, sosOffset, err := walk(data)
	if err != nil {
		return engine.CleanResult{Changed: false, Reason: "parse error: " + err.Error()}, nil
	}

	anyDropped := false
	for _, s := range segs {
		if s.drop {
			anyDropped = true
			break
		}
	}
	if !anyDropped {
		return engine.CleanResult{Changed: false, Reason: "no metadata segments present"}, nil
	}

	r, err := backup.NewReplacer(path)
	if err != nil {
		return engine.CleanResult{}, err
	}
	defer r.Discard()

	out := r.File()
	if _, err := out.Write(data[:2]); err != nil { // SOI
		return engine.CleanResult{}, fmt.Errorf("jpeg: write SOI: %w", err)
	}
	for _, s := range segs {
		if s.drop {
			continue
		}
		if _, err := out.Write(data[s.start : s.start+s.total]); err != nil {
			return engine.CleanResult{}, fmt.Errorf("jpeg: write segment: %w", err)
		}
	}
	if _, err := out.Write(data[sosOffset:]); err != nil { // SOS..EOF verbatim
		return engine.CleanResult{}, fmt.Errorf("jpeg: write scan data: %w", err)
	}

	if _, err := r.Commit(backupRequested); err != nil {
		return engine.CleanResult{}, err
	}
	return engine.CleanResult{Changed: true, Reason: "removed metadata segments"}, nil
}

// Hash implements engine.Handler: SHA-256 over the SOS marker through
// end-of-file inclusive, skipping every APPn/COM segment before SOS.
func (Handler) Hash(path string) (engine.ContentHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("jpeg: read %s: %w", path, err)
	}
	_, sosOffset, err := walk(data)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("jpeg: %w", err)
	}
	sum := sha256.Sum256(data[sosOffset:])
	return engine.ContentHash{Digest: hex.EncodeToString(sum[:]), Description: "jpeg-scan"}, nil
}
