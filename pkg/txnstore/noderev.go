package txnstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hollowmark/fsfs/pkg/ids"
)

// EncodeNodeRevision renders nr as the keyed text record spec §6
// describes for node.<id> files: one "key: value" line per populated
// field, with no terminating blank line. The key set mirrors the spec's
// id/type/pred/count/text/props/cpath/copyroot/copyfrom fields, plus
// fresh-root for a transaction's root.
func EncodeNodeRevision(nr ids.NodeRevision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", nr.ID)
	fmt.Fprintf(&b, "type: %s\n", nr.Kind)
	if nr.PredecessorID != nil {
		fmt.Fprintf(&b, "pred: %s\n", *nr.PredecessorID)
	}
	fmt.Fprintf(&b, "count: %d\n", nr.PredecessorCount)
	if nr.DataRep != nil {
		fmt.Fprintf(&b, "text: %s\n", ids.EncodeRepresentation(*nr.DataRep))
	}
	if nr.PropRep != nil {
		fmt.Fprintf(&b, "props: %s\n", ids.EncodeRepresentation(*nr.PropRep))
	}
	if nr.CreatedPath != "" {
		fmt.Fprintf(&b, "cpath: %s\n", nr.CreatedPath)
	}
	if nr.CopyFromRev != ids.NoRevision {
		fmt.Fprintf(&b, "copyfrom: %d %s\n", nr.CopyFromRev, nr.CopyFromPath)
	}
	if nr.CopyRootPath != "" {
		fmt.Fprintf(&b, "copyroot: %d %s\n", nr.CopyRootRev, nr.CopyRootPath)
	}
	if nr.IsFreshTxnRoot {
		b.WriteString("fresh-root: true\n")
	}
	return b.String()
}

// DecodeNodeRevision parses the text record EncodeNodeRevision produces.
func DecodeNodeRevision(text string) (*ids.NodeRevision, error) {
	nr := &ids.NodeRevision{CopyFromRev: ids.NoRevision}
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("%w: malformed node-rev line %q", ErrCorrupt, line)
		}
		switch key {
		case "id":
			id, err := parseNodeRevisionID(val)
			if err != nil {
				return nil, err
			}
			nr.ID = id
		case "type":
			if val == "dir" {
				nr.Kind = ids.KindDir
			} else {
				nr.Kind = ids.KindFile
			}
		case "pred":
			id, err := parseNodeRevisionID(val)
			if err != nil {
				return nil, err
			}
			nr.PredecessorID = &id
		case "count":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("%w: count: %v", ErrCorrupt, err)
			}
			nr.PredecessorCount = n
		case "text":
			rep, err := ids.DecodeRepresentation(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			nr.DataRep = rep
		case "props":
			rep, err := ids.DecodeRepresentation(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			nr.PropRep = rep
		case "cpath":
			nr.CreatedPath = val
		case "copyfrom":
			rev, path, err := parseRevAndPath(val)
			if err != nil {
				return nil, err
			}
			nr.CopyFromRev = rev
			nr.CopyFromPath = path
		case "copyroot":
			rev, path, err := parseRevAndPath(val)
			if err != nil {
				return nil, err
			}
			nr.CopyRootRev = rev
			nr.CopyRootPath = path
		case "fresh-root":
			nr.IsFreshTxnRoot = val == "true"
		default:
			return nil, fmt.Errorf("%w: unknown node-rev key %q", ErrCorrupt, key)
		}
	}
	return nr, nil
}

func parseRevAndPath(val string) (ids.Revision, string, error) {
	rev, path, ok := strings.Cut(val, " ")
	if !ok {
		return 0, "", fmt.Errorf("%w: malformed rev/path field %q", ErrCorrupt, val)
	}
	n, err := strconv.ParseInt(rev, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: rev field: %v", ErrCorrupt, err)
	}
	return ids.Revision(n), path, nil
}

func parseNodeRevisionID(s string) (ids.NodeRevisionID, error) {
	id, err := ids.ParseNodeRevisionID(s)
	if err != nil {
		return ids.NodeRevisionID{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return id, nil
}
