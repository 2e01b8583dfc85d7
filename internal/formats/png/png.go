// Package png implements the PNG metadata handler: walk the chunk stream
// and drop tEXt/iTXt/zTXt/tIME chunks, copying every other chunk verbatim
// including its original CRC.
package png

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	"metaclean/internal/backup"
	"metaclean/internal/engine"
)

var signature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

var metadataTypes = map[string]bool{
	"tEXt": true,
	"iTXt": true,
	"zTXt": true,
	"tIME": true,
}

// Handler implements engine.Handler for PNG files.
type Handler struct{}

func New() Handler { return Handler{} }

type chunk struct {
	typ        string
	start, end int // [start,end) spans length+type+data+crc
	drop       bool
}

func walk(data []byte) ([]chunk, error) {
	if len(data) < 8 || string(data[:8]) != string(signature) {
		return nil, fmt.Errorf("png: missing signature")
	}
	var chunks []chunk
	pos := 8
	for pos < len(data) {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("png: truncated chunk header at offset %d", pos)
		}
		length := binary.BigEndian.Uint32(data[pos : pos+4])
		typ := string(data[pos+4 : pos+8])
		end := pos + 8 + int(length) + 4
		if end > len(data) {
			return nil, fmt.Errorf("png: chunk %q overruns file at offset %d", typ, pos)
		}
		chunks = append(chunks, chunk{typ: typ, start: pos, end: end, drop: metadataTypes[typ]})
		pos = end
		if typ == "IEND" {
			break
		}
	}
	return chunks, nil
}

// Detect implements engine.Handler.
func (Handler) Detect(path string) (engine.DetectionReport, error) {
	report := engine.DetectionReport{Type: engine.TypePNG, CanClean: true}

	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("png: read %s: %w", path, err)
	}
	chunks, err := walk(data)
	if err != nil {
		report.CanClean = false
		report.Note = err.Error()
		return report, nil
	}

	textCount, timeCount := 0, 0
	for _, c := range chunks {
		switch c.typ {
		case "tEXt", "iTXt", "zTXt":
			textCount++
		case "tIME":
			timeCount++
		}
	}
	if textCount > 0 {
		report.AddLabel(fmt.Sprintf("Text chunks:%d", textCount))
	}
	if timeCount > 0 {
		report.AddLabel("tIME")
	}
	return report, nil
}

// Clean implements engine.Handler.
func (Handler) Clean(path string, backupRequested bool) (engine.CleanResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.CleanResult{}, fmt.Errorf("png: read %s: %w", path, err)
	}
	chunks, err := walk(data)
	if err != nil {
		return engine.CleanResult{Changed: false, Reason: "parse error: " + err.Error()}, nil
	}

	anyDropped := false
	for _, c := range chunks {
		if c.drop {
			anyDropped = true
			break
		}
	}
	if !anyDropped {
		return engine.CleanResult{Changed: false, Reason: "no metadata chunks present"}, nil
	}

	r, err := backup.NewReplacer(path)
	if err != nil {
		return engine.CleanResult{}, err
	}
	defer r.Discard()

	out := r.File()
	if _, err := out.Write(data[:8]); err != nil {
		return engine.CleanResult{}, fmt.Errorf("png: write signature: %w", err)
	}
	for _, c := range chunks {
		if c.drop {
			continue
		}
		if _, err := out.Write(data[c.start:c.end]); err != nil {
			return engine.CleanResult{}, fmt.Errorf("png: write chunk %q: %w", c.typ, err)
		}
	}

	if _, err := r.Commit(backupRequested); err != nil {
		return engine.CleanResult{}, err
	}
	return engine.CleanResult{Changed: true, Reason: "removed text/time chunks"}, nil
}

// Hash implements engine.Handler: SHA-256 over the concatenation of IDAT
// payload bytes in file order (lengths, types, and CRCs excluded).
func (Handler) Hash(path string) (engine.ContentHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("png: read %s: %w", path, err)
	}
	chunks, err := walk(data)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("png: %w", err)
	}

	h := sha256.New()
	for _, c := range chunks {
		if c.typ != "IDAT" {
			continue
		}
		dataStart := c.start + 8
		dataEnd := c.end - 4
		h.Write(data[dataStart:dataEnd])
	}
	sum := h.Sum(nil)
	return engine.ContentHash{Digest: hex.EncodeToString(sum), Description: "png-idat"}, nil
}
