package ids

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// EncodeRepresentation renders r as the single-line record spec §6 shows
// for a node-rev's "text"/"props" fields:
// "<change-set> <item> <size> <expanded-size> <md5-hex> [<sha1-hex>|-] [<base-rev> <base-item> <base-len>]".
func EncodeRepresentation(r Representation) string {
	fields := []string{
		r.ChangeSet.String(),
		strconv.FormatUint(r.ItemIndex, 10),
		strconv.FormatInt(r.Size, 10),
		strconv.FormatInt(r.ExpandedSize, 10),
		hex.EncodeToString(r.MD5[:]),
	}
	if r.HasSHA1 {
		fields = append(fields, hex.EncodeToString(r.SHA1[:]))
	} else {
		fields = append(fields, "-")
	}
	if r.DeltaBase != nil {
		fields = append(fields,
			strconv.FormatInt(int64(r.DeltaBase.BaseRev), 10),
			strconv.FormatUint(r.DeltaBase.BaseItem, 10),
			strconv.FormatInt(r.DeltaBase.BaseLen, 10),
		)
	}
	return strings.Join(fields, " ")
}

// DecodeRepresentation parses the text EncodeRepresentation produces.
func DecodeRepresentation(val string) (*Representation, error) {
	fields := strings.Fields(val)
	if len(fields) < 5 {
		return nil, fmt.Errorf("ids: malformed representation field %q", val)
	}
	cs, err := ParseChangeSet(fields[0])
	if err != nil {
		return nil, err
	}
	item, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ids: representation item: %w", err)
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ids: representation size: %w", err)
	}
	expanded, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ids: representation expanded-size: %w", err)
	}
	md5Bytes, err := hex.DecodeString(fields[4])
	if err != nil || len(md5Bytes) != 16 {
		return nil, fmt.Errorf("ids: representation md5 %q invalid", fields[4])
	}
	rep := &Representation{ChangeSet: cs, ItemIndex: item, Size: size, ExpandedSize: expanded}
	copy(rep.MD5[:], md5Bytes)

	if len(fields) > 5 && fields[5] != "-" {
		sha1Bytes, err := hex.DecodeString(fields[5])
		if err != nil || len(sha1Bytes) != 20 {
			return nil, fmt.Errorf("ids: representation sha1 %q invalid", fields[5])
		}
		rep.HasSHA1 = true
		copy(rep.SHA1[:], sha1Bytes)
	}
	if len(fields) > 6 {
		if len(fields) != 9 {
			return nil, fmt.Errorf("ids: malformed representation base fields %q", val)
		}
		baseRev, err := strconv.ParseInt(fields[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ids: representation base-rev: %w", err)
		}
		baseItem, err := strconv.ParseUint(fields[7], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ids: representation base-item: %w", err)
		}
		baseLen, err := strconv.ParseInt(fields[8], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ids: representation base-len: %w", err)
		}
		rep.DeltaBase = &DeltaBaseRef{BaseRev: Revision(baseRev), BaseItem: baseItem, BaseLen: baseLen}
	}
	return rep, nil
}
