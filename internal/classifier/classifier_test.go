package classifier

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"metaclean/internal/engine"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestClassifyMagicBytes(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name string
		data []byte
		want engine.FileType
	}{
		{"a.jpg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, engine.TypeJPEG},
		{"a.png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, engine.TypePNG},
		{"a.gif", []byte("GIF89a"), engine.TypeGIF},
		{"a.pdf", []byte("%PDF-1.4\n"), engine.TypePDF},
		{"a.rtf", []byte(`{\rtf1\ansi}`), engine.TypeRTF},
	}
	for _, c := range cases {
		path := writeFile(t, dir, c.name, c.data)
		got, err := Classify(path)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: Classify = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestClassifyDOCX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.docx")
	writeMinimalZip(t, path, map[string]string{
		"word/document.xml": "<w:document/>",
	})
	got, err := Classify(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != engine.TypeDOCX {
		t.Errorf("Classify = %s, want docx", got)
	}
}

func TestClassifyMislabelledDocAsZIP(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.doc")
	writeMinimalZip(t, path, map[string]string{
		"word/document.xml": "<w:document/>",
	})
	got, err := Classify(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != engine.TypeDOCX {
		t.Errorf("Classify = %s, want docx (mislabelled .doc containing OOXML parts)", got)
	}
}

func TestClassifyWord2003XML(t *testing.T) {
	dir := t.TempDir()
	content := `<?xml version="1.0"?>
<?mso-application progid="Word.Document"?>
<w:wordDocument xmlns:o="urn:schemas-microsoft-com:office:office">
<o:DocumentProperties><o:Author>Alice</o:Author></o:DocumentProperties>
</w:wordDocument>`
	path := writeFile(t, dir, "legacy.xml", []byte(content))
	got, err := Classify(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != engine.TypeWord2003XML {
		t.Errorf("Classify = %s, want word2003xml", got)
	}
}

func TestClassifyLegacyOfficeByExtension(t *testing.T) {
	dir := t.TempDir()
	cfb := []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0, 0, 0, 0}

	cases := []struct {
		name string
		want engine.FileType
	}{
		{"legacy.doc", engine.TypeDOC},
		{"legacy.xls", engine.TypeXLS},
		{"legacy.ppt", engine.TypePPT},
	}
	for _, c := range cases {
		path := writeFile(t, dir, c.name, cfb)
		got, err := Classify(path)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: Classify = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestClassifyOtherFallback(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "random.bin", []byte{0x00, 0x01, 0x02, 0x03})
	got, err := Classify(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != engine.TypeOther {
		t.Errorf("Classify = %s, want other", got)
	}
}

func writeMinimalZip(t *testing.T, path string, parts map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}
