package word2003xml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<?mso-application progid="Word.Document"?>
<w:wordDocument xmlns:w="http://schemas.microsoft.com/office/word/2003/wordml" xmlns:o="urn:schemas-microsoft-com:office:office">
 <o:DocumentProperties>
  <o:Author>Alice</o:Author>
  <o:Company>Acme</o:Company>
 </o:DocumentProperties>
 <o:CustomDocumentProperties>
  <o:Project>Metadata Cleaner</o:Project>
 </o:CustomDocumentProperties>
 <w:body>
  <w:p><w:r><w:t>Hello World</w:t></w:r></w:p>
 </w:body>
</w:wordDocument>`

func TestDetectListsDocumentPropertiesChildren(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.xml")
	os.WriteFile(path, []byte(sampleXML), 0644)

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
	if !has("Author") || !has("Company") {
		t.Errorf("summary = %v", report.Summary)
	}
	if !has("CustomDocumentProperties") {
		t.Errorf("expected CustomDocumentProperties note, got %v", report.Summary)
	}
	if !report.CanClean {
		t.Error("expected can_clean=true")
	}
}

func TestCleanRemovesBothElementsPreservesBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.xml")
	os.WriteFile(path, []byte(sampleXML), 0644)

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
	text := string(out)
	if strings.Contains(text, "DocumentProperties") {
		t.Error("DocumentProperties should have been removed")
	}
	if !strings.Contains(text, "Hello World") {
		t.Error("body text should survive cleaning")
	}
	if !strings.HasPrefix(text, "<?xml") {
		t.Error("expected XML declaration at start of file")
	}
}

func TestCleanWithBackupWritesBakSibling(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.xml")
	os.WriteFile(path, []byte(sampleXML), 0644)

	res, err := New().Clean(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed {
		t.Fatal("expected changed=true")
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("expected .bak sibling file: %v", err)
	}
	if !strings.Contains(string(bak), "DocumentProperties") {
		t.Error("backup should hold the original, unmodified content")
	}
}

func TestCleanNoOpWithoutPropertiesElements(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.xml")
	data := `<?xml version="1.0" encoding="UTF-8"?><w:wordDocument xmlns:w="http://schemas.microsoft.com/office/word/2003/wordml"><w:body><w:p/></w:body></w:wordDocument>`
	os.WriteFile(path, []byte(data), 0644)

	res, err := New().Clean(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Error("expected changed=false with no properties elements")
	}
}
