package mutbuf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hollowmark/fsfs/pkg/ids"
)

// EncodeChangeRecord renders rec as one tab-separated line:
// path kind noderevid-or-dash textmod propmod nodekind copyfrompath copyfromrev
func EncodeChangeRecord(rec ids.ChangeRecord) string {
	idField := "-"
	if rec.NodeRevID != nil {
		idField = rec.NodeRevID.String()
	}
	fields := []string{
		escapeTab(rec.Path),
		strconv.Itoa(int(rec.Kind)),
		idField,
		strconv.FormatBool(rec.TextMod),
		strconv.FormatBool(rec.PropMod),
		strconv.Itoa(int(rec.NodeKind)),
		escapeTab(rec.CopyFromPath),
		strconv.FormatInt(int64(rec.CopyFromRev), 10),
	}
	return strings.Join(fields, "\t")
}

// DecodeChangeRecord parses the line EncodeChangeRecord produces.
func DecodeChangeRecord(line string) (ids.ChangeRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 8 {
		return ids.ChangeRecord{}, fmt.Errorf("mutbuf: malformed change record %q", line)
	}
	kind, err := strconv.Atoi(fields[1])
	if err != nil {
		return ids.ChangeRecord{}, fmt.Errorf("mutbuf: change record kind: %w", err)
	}
	var nodeRevID *ids.NodeRevisionID
	if fields[2] != "-" {
		id, err := ids.ParseNodeRevisionID(fields[2])
		if err != nil {
			return ids.ChangeRecord{}, fmt.Errorf("mutbuf: change record node-rev id: %w", err)
		}
		nodeRevID = &id
	}
	textMod, err := strconv.ParseBool(fields[3])
	if err != nil {
		return ids.ChangeRecord{}, fmt.Errorf("mutbuf: change record text-mod: %w", err)
	}
	propMod, err := strconv.ParseBool(fields[4])
	if err != nil {
		return ids.ChangeRecord{}, fmt.Errorf("mutbuf: change record prop-mod: %w", err)
	}
	nodeKind, err := strconv.Atoi(fields[5])
	if err != nil {
		return ids.ChangeRecord{}, fmt.Errorf("mutbuf: change record node-kind: %w", err)
	}
	copyFromRev, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return ids.ChangeRecord{}, fmt.Errorf("mutbuf: change record copyfrom-rev: %w", err)
	}
	return ids.ChangeRecord{
		Path:         unescapeTab(fields[0]),
		Kind:         ids.ChangeKind(kind),
		NodeRevID:    nodeRevID,
		TextMod:      textMod,
		PropMod:      propMod,
		NodeKind:     ids.NodeKind(nodeKind),
		CopyFromPath: unescapeTab(fields[6]),
		CopyFromRev:  ids.Revision(copyFromRev),
	}, nil
}
