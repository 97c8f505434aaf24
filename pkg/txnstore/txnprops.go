package txnstore

import (
	"os"
	"sort"
	"strings"
)

// SetTxnProps overwrites the transaction's own property set (the txn
// properties mentioned in spec §4.3, distinct from per-node-rev props:
// svn:date overrides, the three internal markers commit finalization
// strips per §4.11 — check-ood, check-locks, client-date).
func (h *Handle) SetTxnProps(props map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(escapeTabTxnProp(k))
		b.WriteByte('\t')
		b.WriteString(escapeTabTxnProp(props[k]))
		b.WriteByte('\n')
	}
	return writeAtomic(h.store.root.TxnPropsPath(h.ID), []byte(b.String()))
}

// TxnProps reads the transaction's current property set.
func (h *Handle) TxnProps() (map[string]string, error) {
	data, err := os.ReadFile(h.store.root.TxnPropsPath(h.ID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	props := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		props[unescapeTabTxnProp(fields[0])] = unescapeTabTxnProp(fields[1])
	}
	return props, nil
}

// SetTxnProp sets a single property, leaving the rest of the set intact.
func (h *Handle) SetTxnProp(key, value string) error {
	props, err := h.TxnProps()
	if err != nil {
		return err
	}
	props[key] = value
	return h.SetTxnProps(props)
}

func escapeTabTxnProp(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "\t", "\\t", "\n", "\\n")
	return r.Replace(s)
}

func unescapeTabTxnProp(s string) string {
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
