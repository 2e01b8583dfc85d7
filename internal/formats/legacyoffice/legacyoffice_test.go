package legacyoffice

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"

	"metaclean/internal/engine"
)

const (
	sectorSize    = 512
	direntrySize  = 128
	endOfChain    = 0xFFFFFFFE
	freeSect      = 0xFFFFFFFF
	fatSect       = 0xFFFFFFFD
	noStream      = 0xFFFFFFFF
	objUnknown    = 0
	objStorage    = 1
	objStream     = 2
	objRootEntry  = 5
)

// direntryName encodes s as a null-terminated UTF-16LE name field, as CFB
// directory entries require.
func direntryName(s string) (name [64]byte, length uint16) {
	units := utf16.Encode([]rune(s))
	for i, u := range units {
		binary.LittleEndian.PutUint16(name[i*2:], u)
	}
	length = uint16((len(units) + 1) * 2)
	return name, length
}

func writeDirentry(buf []byte, name string, objType, colorFlag byte, left, right, child, startSector uint32, size uint64) {
	n, nameLen := direntryName(name)
	copy(buf[0:64], n[:])
	binary.LittleEndian.PutUint16(buf[64:66], nameLen)
	buf[66] = objType
	buf[67] = colorFlag
	binary.LittleEndian.PutUint32(buf[68:72], left)
	binary.LittleEndian.PutUint32(buf[72:76], right)
	binary.LittleEndian.PutUint32(buf[76:80], child)
	binary.LittleEndian.PutUint32(buf[116:120], startSector)
	binary.LittleEndian.PutUint64(buf[120:128], size)
}

// buildLegacyDoc assembles a minimal valid v3 OLE Compound File containing
// two streams at the root: "WordDocument" (a core stream per §4.10) and
// "\x05SummaryInformation" (a property-set stream), each padded to exactly
// the 4096-byte mini-stream cutoff so both land in regular FAT sectors and
// no MiniFAT is needed.
func buildLegacyDoc(wordDoc, summaryInfo []byte) []byte {
	pad := func(b []byte) []byte {
		out := make([]byte, 4096)
		copy(out, b)
		return out
	}
	wordDoc = pad(wordDoc)
	summaryInfo = pad(summaryInfo)

	// Sector layout after the 512-byte header:
	//   0:      FAT sector
	//   1:      directory sector
	//   2-9:    WordDocument data (8 sectors)
	//   10-17:  SummaryInformation data (8 sectors)
	const (
		fatSectorIdx = 0
		dirSectorIdx = 1
		wordStartIdx = 2
		sumStartIdx  = 10
		totalSectors = 18
	)

	header := make([]byte, sectorSize)
	copy(header[0:8], []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	binary.LittleEndian.PutUint16(header[24:26], 0x003E)
	binary.LittleEndian.PutUint16(header[26:28], 0x0003)
	binary.LittleEndian.PutUint16(header[28:30], 0xFFFE)
	binary.LittleEndian.PutUint16(header[30:32], 9)
	binary.LittleEndian.PutUint16(header[32:34], 6)
	binary.LittleEndian.PutUint32(header[40:44], 0)
	binary.LittleEndian.PutUint32(header[44:48], 1)
	binary.LittleEndian.PutUint32(header[48:52], dirSectorIdx)
	binary.LittleEndian.PutUint32(header[52:56], 0)
	binary.LittleEndian.PutUint32(header[56:60], 4096)
	binary.LittleEndian.PutUint32(header[60:64], endOfChain)
	binary.LittleEndian.PutUint32(header[64:68], 0)
	binary.LittleEndian.PutUint32(header[68:72], endOfChain)
	binary.LittleEndian.PutUint32(header[72:76], 0)
	binary.LittleEndian.PutUint32(header[76:80], fatSectorIdx)
	for i := 80; i < sectorSize; i += 4 {
		binary.LittleEndian.PutUint32(header[i:i+4], freeSect)
	}

	fat := make([]byte, sectorSize)
	for i := 0; i < sectorSize/4; i++ {
		binary.LittleEndian.PutUint32(fat[i*4:i*4+4], freeSect)
	}
	binary.LittleEndian.PutUint32(fat[fatSectorIdx*4:fatSectorIdx*4+4], fatSect)
	binary.LittleEndian.PutUint32(fat[dirSectorIdx*4:dirSectorIdx*4+4], endOfChain)
	for s := wordStartIdx; s < wordStartIdx+7; s++ {
		binary.LittleEndian.PutUint32(fat[s*4:s*4+4], uint32(s+1))
	}
	binary.LittleEndian.PutUint32(fat[(wordStartIdx+7)*4:(wordStartIdx+7)*4+4], endOfChain)
	for s := sumStartIdx; s < sumStartIdx+7; s++ {
		binary.LittleEndian.PutUint32(fat[s*4:s*4+4], uint32(s+1))
	}
	binary.LittleEndian.PutUint32(fat[(sumStartIdx+7)*4:(sumStartIdx+7)*4+4], endOfChain)

	dir := make([]byte, sectorSize)
	writeDirentry(dir[0*direntrySize:1*direntrySize], "Root Entry", objRootEntry, 1, noStream, noStream, 1, endOfChain, 0)
	writeDirentry(dir[1*direntrySize:2*direntrySize], "WordDocument", objStream, 1, noStream, 2, noStream, wordStartIdx, uint64(len(wordDoc)))
	writeDirentry(dir[2*direntrySize:3*direntrySize], streamSummary, objStream, 1, noStream, noStream, noStream, sumStartIdx, uint64(len(summaryInfo)))
	writeDirentry(dir[3*direntrySize:4*direntrySize], "", objUnknown, 0, noStream, noStream, noStream, 0, 0)

	var out []byte
	out = append(out, header...)
	out = append(out, fat...)
	out = append(out, dir...)
	out = append(out, wordDoc...)
	out = append(out, summaryInfo...)
	_ = totalSectors
	return out
}

func writeTempDoc(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.doc")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDetectFindsSummaryInformation(t *testing.T) {
	data := buildLegacyDoc([]byte("word stream payload"), []byte("summary stream payload"))
	path := writeTempDoc(t, data)

	report, err := New(engine.TypeDOC).Detect(path)
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
	if !has("SummaryInformation") {
		t.Errorf("summary = %v", report.Summary)
	}
	if report.CanClean {
		t.Error("expected can_clean=false: no OLE writer available")
	}
	if report.Note == "" {
		t.Error("expected a note explaining why cleaning is unavailable")
	}
}

func TestCleanAlwaysReportsNoChange(t *testing.T) {
	data := buildLegacyDoc([]byte("word stream payload"), []byte("summary stream payload"))
	path := writeTempDoc(t, data)

	res, err := New(engine.TypeDOC).Clean(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Error("expected changed=false: no OLE writer available")
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(data) {
		t.Error("Clean must never modify the file when no writer is available")
	}
}

func TestHashPrefersCoreStreamsAndExcludesPropertySets(t *testing.T) {
	wordA := []byte("word stream payload A")
	sumA := []byte("summary stream payload A")
	pathA := writeTempDoc(t, buildLegacyDoc(wordA, sumA))

	hashA, err := New(engine.TypeDOC).Hash(pathA)
	if err != nil {
		t.Fatal(err)
	}
	if hashA.Description != "legacy-office-core-streams" {
		t.Errorf("description = %q, want legacy-office-core-streams", hashA.Description)
	}

	// Changing only the SummaryInformation payload must not change the
	// content hash, since it is excluded from both the core and full sets
	// as a property-set stream.
	pathB := writeTempDoc(t, buildLegacyDoc(wordA, []byte("a completely different summary")))
	hashB, err := New(engine.TypeDOC).Hash(pathB)
	if err != nil {
		t.Fatal(err)
	}
	if hashA.Digest != hashB.Digest {
		t.Error("content hash must be invariant to property-set stream contents")
	}

	// Changing the core WordDocument stream must change the hash.
	pathC := writeTempDoc(t, buildLegacyDoc([]byte("an entirely different word stream"), sumA))
	hashC, err := New(engine.TypeDOC).Hash(pathC)
	if err != nil {
		t.Fatal(err)
	}
	if hashA.Digest == hashC.Digest {
		t.Error("content hash must change when the core stream content changes")
	}
}

func TestPropsState(t *testing.T) {
	data := buildLegacyDoc([]byte("word stream payload"), []byte("summary stream payload"))
	path := writeTempDoc(t, data)

	hasSummary, hasDocSummary := PropsState(path)
	if !hasSummary {
		t.Error("expected hasSummary=true")
	}
	if hasDocSummary {
		t.Error("expected hasDocSummary=false: fixture has no DocumentSummaryInformation stream")
	}
}

func TestPropsStateUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-doc.doc")
	os.WriteFile(path, []byte("not an OLE file"), 0644)

	hasSummary, hasDocSummary := PropsState(path)
	if hasSummary || hasDocSummary {
		t.Error("expected (false, false) for an unreadable file")
	}
}
