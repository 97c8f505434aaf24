package commit

import (
	"sort"
	"strings"
	"time"
)

// Internal marker properties a transaction carries (spec §4.11): never
// written to the final revprop file, only consulted.
const (
	propClientDate = "client-date"
	propCheckOOD   = "check-ood"
	propCheckLocks = "check-locks"
	propSvnDate    = "svn:date"
)

// EncodeRevProps renders a revision-properties map as one tab-separated
// "key\tvalue" line per entry, sorted by key — the same small text
// format pkg/txnstore uses for a transaction's own property set.
func EncodeRevProps(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(escapeTabRevProp(k))
		b.WriteByte('\t')
		b.WriteString(escapeTabRevProp(props[k]))
		b.WriteByte('\n')
	}
	return b.String()
}

// DecodeRevProps parses the text EncodeRevProps produces.
func DecodeRevProps(text string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		props[unescapeTabRevProp(fields[0])] = unescapeTabRevProp(fields[1])
	}
	return props
}

// finalizeRevProps applies spec §4.11: preserve a client-supplied
// svn:date when the client-date marker is present, otherwise stamp the
// current wall-clock time, then strip the three internal markers so
// they never reach the published revprop file.
func finalizeRevProps(txnProps map[string]string, now time.Time) map[string]string {
	out := make(map[string]string, len(txnProps))
	for k, v := range txnProps {
		out[k] = v
	}
	if _, hasClientDate := out[propClientDate]; !hasClientDate {
		out[propSvnDate] = now.UTC().Format(time.RFC3339Nano)
	}
	delete(out, propClientDate)
	delete(out, propCheckOOD)
	delete(out, propCheckLocks)
	return out
}

func escapeTabRevProp(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "\t", "\\t", "\n", "\\n")
	return r.Replace(s)
}

func unescapeTabRevProp(s string) string {
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
