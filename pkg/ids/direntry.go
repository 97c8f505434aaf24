package ids

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EncodeDirEntries renders a directory's canonical entry set (spec §3
// "Directory entry": "stored as a canonically-serialized map at rest")
// as one tab-separated line per entry, sorted by name — the format the
// commit pipeline writes for a directory's data-rep content (spec §4.9
// step 6: "serialize its current entry set in lexicographic order").
func EncodeDirEntries(entries []DirEntry) string {
	sorted := append([]DirEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "%s\t%d\t%s\n", escapeDirEntryField(e.Name), int(e.Kind), e.ID)
	}
	return b.String()
}

// DecodeDirEntries parses the text EncodeDirEntries produces.
func DecodeDirEntries(text string) ([]DirEntry, error) {
	var out []DirEntry
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("ids: malformed directory entry line %q", line)
		}
		kindN, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("ids: directory entry kind: %w", err)
		}
		id, err := ParseNodeRevisionID(fields[2])
		if err != nil {
			return nil, fmt.Errorf("ids: directory entry id: %w", err)
		}
		out = append(out, DirEntry{Name: unescapeDirEntryField(fields[0]), Kind: NodeKind(kindN), ID: id})
	}
	return out, nil
}

func escapeDirEntryField(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "\t", "\\t", "\n", "\\n")
	return r.Replace(s)
}

func unescapeDirEntryField(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 't':
				b.WriteByte('\t')
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
