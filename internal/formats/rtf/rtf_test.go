package rtf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func buildRTF(infoGroup, body string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{\rtf1\ansi`)
	if infoGroup != "" {
		buf.WriteString(infoGroup)
	}
	buf.WriteString(body)
	buf.WriteString("}")
	return buf.Bytes()
}

func TestDetectSubControls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.rtf")
	data := buildRTF(`{\info{\author Alice}{\title Report}}`, `\par Hello World`)
	os.WriteFile(path, data, 0644)

	report, err := New().Detect(path)
	if err != nil {
		t.Fatal(err)
	}
	has := func(label string) bool {
		for _, s := range report.Summary {
			if s == label {
				return true
			}
		}
		return false
	}
	if !has("Author") || !has("Title") {
		t.Errorf("summary = %v", report.Summary)
	}
}

func TestCleanRemovesInfoGroupPreservesBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.rtf")
	data := buildRTF(`{\info{\author Alice}}`, `\par Hello World`)
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

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(out, []byte("Alice")) {
		t.Error("author still present after clean")
	}
	if !bytes.Contains(out, []byte(`\par Hello World`)) {
		t.Error("body text should survive cleaning")
	}

	afterHash, err := New().Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	if beforeHash.Digest != afterHash.Digest {
		t.Errorf("content hash changed: before=%s after=%s", beforeHash.Digest, afterHash.Digest)
	}
}

func TestCleanHandlesEscapedBraces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.rtf")
	// The info group's \company value contains an escaped brace that must
	// not be mistaken for the group terminator.
	data := buildRTF(`{\info{\company Ac\{me\}}}`, `\par Body`)
	os.WriteFile(path, data, 0644)

	res, err := New().Clean(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed {
		t.Fatal("expected changed=true")
	}
	out, _ := os.ReadFile(path)
	if !bytes.Contains(out, []byte(`\par Body`)) {
		t.Error("body should survive; group boundary misdetected")
	}
	if bytes.Contains(out, []byte("Ac")) {
		t.Error("company value should have been removed")
	}
}

func TestCleanNoOpWithoutInfoGroup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.rtf")
	data := buildRTF("", `\par No metadata here`)
	os.WriteFile(path, data, 0644)

	res, err := New().Clean(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Error("expected changed=false with no \\info group")
	}
}
