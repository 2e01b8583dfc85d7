// Package gif implements the GIF metadata handler: walk the block stream
// after the Logical Screen Descriptor and drop Comment Extension blocks
// (label 0xFE), preserving every other block verbatim including the
// trailer.
package gif

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"metaclean/internal/backup"
	"metaclean/internal/engine"
)

const (
	extensionIntroducer = 0x21
	imageSeparator      = 0x2C
	trailer             = 0x3B
	labelComment        = 0xFE
)

// Handler implements engine.Handler for GIF files.
type Handler struct{}

func New() Handler { return Handler{} }

// block is a structural unit of the post-screen-descriptor stream.
type block struct {
	start, end int
	isComment  bool
}

// parse walks the GIF block stream and returns the offset where the body
// (after header + LSD + optional GCT) begins, the blocks found, and the
// trailer offset, or an error on any unexpected byte.
func parse(data []byte) (bodyStart int, blocks []block, trailerOff int, err error) {
	if len(data) < 13 {
		return 0, nil, 0, fmt.Errorf("gif: file too short")
	}
	sig := string(data[:6])
	if sig != "GIF87a" && sig != "GIF89a" {
		return 0, nil, 0, fmt.Errorf("gif: bad signature %q", sig)
	}
	packed := data[10]
	pos := 13
	if packed&0x80 != 0 {
		gctSize := 3 * (1 << ((packed & 0x07) + 1))
		pos += gctSize
		if pos > len(data) {
			return 0, nil, 0, fmt.Errorf("gif: global color table overruns file")
		}
	}
	bodyStart = pos

	for {
		if pos >= len(data) {
			return 0, nil, 0, fmt.Errorf("gif: truncated before trailer")
		}
		b := data[pos]
		switch b {
		case trailer:
			return bodyStart, blocks, pos, nil
		case extensionIntroducer:
			if pos+1 >= len(data) {
				return 0, nil, 0, fmt.Errorf("gif: truncated extension at offset %d", pos)
			}
			label := data[pos+1]
			consumed, serr := subBlocksLen(data, pos+2)
			if serr != nil {
				return 0, nil, 0, serr
			}
			end := pos + 2 + consumed
			blocks = append(blocks, block{start: pos, end: end, isComment: label == labelComment})
			pos = end
		case imageSeparator:
			if pos+10 > len(data) {
				return 0, nil, 0, fmt.Errorf("gif: truncated image descriptor at offset %d", pos)
			}
			packedByte := data[pos+9]
			headerEnd := pos + 10
			if packedByte&0x80 != 0 {
				lctSize := 3 * (1 << ((packedByte & 0x07) + 1))
				headerEnd += lctSize
			}
			if headerEnd >= len(data) {
				return 0, nil, 0, fmt.Errorf("gif: truncated local color table at offset %d", pos)
			}
			// headerEnd now points at the LZW minimum code size byte.
			consumed, serr := subBlocksLen(data, headerEnd+1)
			if serr != nil {
				return 0, nil, 0, serr
			}
			end := headerEnd + 1 + consumed
			blocks = append(blocks, block{start: pos, end: end, isComment: false})
			pos = end
		default:
			return 0, nil, 0, fmt.Errorf("gif: unexpected byte 0x%02X at offset %d", b, pos)
		}
	}
}

// subBlocksLen returns the number of bytes from start through the
// terminating zero-length sub-block, inclusive.
func subBlocksLen(data []byte, start int) (int, error) {
	pos := start
	for {
		if pos >= len(data) {
			return 0, fmt.Errorf("gif: truncated sub-block at offset %d", pos)
		}
		l := int(data[pos])
		pos++
		if l == 0 {
			break
		}
		if pos+l > len(data) {
			return 0, fmt.Errorf("gif: sub-block overruns file at offset %d", pos)
		}
		pos += l
	}
	return pos - start, nil
}

// Detect implements engine.Handler.
func (Handler) Detect(path string) (engine.DetectionReport, error) {
	report := engine.DetectionReport{Type: engine.TypeGIF, CanClean: true}

	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("gif: read %s: %w", path, err)
	}
	_, blocks, _, err := parse(data)
	if err != nil {
		report.CanClean = false
		report.Note = err.Error()
		return report, nil
	}

	count := 0
	for _, b := range blocks {
		if b.isComment {
			count++
		}
	}
	if count > 0 {
		report.AddLabel(fmt.Sprintf("Comments:%d", count))
	}
	return report, nil
}

// Clean implements engine.Handler. Any unexpected byte aborts with
// changed=false rather than risk writing a corrupt file.
func (Handler) Clean(path string, backupRequested bool) (engine.CleanResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.CleanResult{}, fmt.Errorf("gif: read %s: %w", path, err)
	}
	bodyStart, blocks, trailerOff, err := parse(data)
	if err != nil {
		return engine.CleanResult{Changed: false, Reason: "parse error: " + err.Error()}, nil
	}

	anyComment := false
	for _, b := range blocks {
		if b.isComment {
			anyComment = true
			break
		}
	}
	if !anyComment {
		return engine.CleanResult{Changed: false, Reason: "no comment extensions present"}, nil
	}

	r, err := backup.NewReplacer(path)
	if err != nil {
		return engine.CleanResult{}, err
	}
	defer r.Discard()

	out := r.File()
	if _, err := out.Write(data[:bodyStart]); err != nil {
		return engine.CleanResult{}, fmt.Errorf("gif: write header: %w", err)
	}
	for _, b := range blocks {
		if b.isComment {
			continue
		}
		if _, err := out.Write(data[b.start:b.end]); err != nil {
			return engine.CleanResult{}, fmt.Errorf("gif: write block: %w", err)
		}
	}
	if _, err := out.Write(data[trailerOff:]); err != nil {
		return engine.CleanResult{}, fmt.Errorf("gif: write trailer: %w", err)
	}

	if _, err := r.Commit(backupRequested); err != nil {
		return engine.CleanResult{}, err
	}
	return engine.CleanResult{Changed: true, Reason: "removed comment extensions"}, nil
}

// Hash implements engine.Handler: SHA-256 over the file with every
// Comment Extension removed but every other byte verbatim, including
// structural framing (header, LSD, color tables, trailer).
func (Handler) Hash(path string) (engine.ContentHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("gif: read %s: %w", path, err)
	}
	bodyStart, blocks, trailerOff, err := parse(data)
	if err != nil {
		return engine.ContentHash{}, fmt.Errorf("gif: %w", err)
	}

	h := sha256.New()
	h.Write(data[:bodyStart])
	for _, b := range blocks {
		if b.isComment {
			continue
		}
		h.Write(data[b.start:b.end])
	}
	h.Write(data[trailerOff:])
	sum := h.Sum(nil)
	return engine.ContentHash{Digest: hex.EncodeToString(sum), Description: "gif-no-comments"}, nil
}
