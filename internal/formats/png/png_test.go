package png

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

func buildChunk(typ string, data []byte) []byte {
	var buf bytes.Buffer
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	buf.Write(length)
	buf.WriteString(typ)
	buf.Write(data)
	crcInput := append([]byte(typ), data...)
	crc := crc32.ChecksumIEEE(crcInput)
	crcBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBytes, crc)
	buf.Write(crcBytes)
	return buf.Bytes()
}

func buildPNG(chunks ...[]byte) []byte {
	var buf bytes.Buffer
	buf.Write(signature)
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

func TestDetectTextAndTimeChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	data := buildPNG(
		buildChunk("IHDR", make([]byte, 13)),
		buildChunk("tEXt", []byte("Author\x00Alice")),
		buildChunk("tIME", []byte{0x07, 0xEA, 1, 1, 0, 0, 0}),
		buildChunk("IDAT", []byte{1, 2, 3}),
		buildChunk("IEND", nil),
	)
	os.WriteFile(path, data, 0644)

	report, err := New().Detect(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Summary) != 2 || report.Summary[0] != "Text chunks:1" || report.Summary[1] != "tIME" {
		t.Errorf("summary = %v", report.Summary)
	}
}

func TestCleanPreservesIDATAndCRC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	idat := buildChunk("IDAT", []byte{9, 8, 7, 6})
	data := buildPNG(
		buildChunk("IHDR", make([]byte, 13)),
		buildChunk("tEXt", []byte("Author\x00Alice")),
		idat,
		buildChunk("IEND", nil),
	)
	os.WriteFile(path, data, 0644)

	beforeHash, err := New().Hash(path)
	if err != nil {
		t.Fatal(err)
	}

	res, err := New().Clean(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed {
		t.Fatal("expected changed=true")
	}

	cleaned, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(cleaned, []byte("tEXt")) {
		t.Error("tEXt chunk still present")
	}
	if !bytes.Contains(cleaned, idat) {
		t.Error("IDAT chunk bytes (incl. CRC) were altered")
	}

	afterHash, err := New().Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	if beforeHash.Digest != afterHash.Digest {
		t.Errorf("content hash changed: before=%s after=%s", beforeHash.Digest, afterHash.Digest)
	}
}
