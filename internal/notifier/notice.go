package notifier

import (
	"errors"
	"strings"
)

// ErrMalformedNotice is returned for a notice without a fileID.
var ErrMalformedNotice = errors.New("notifier: malformed notice")

// Notice is one decoded completion notice.
type Notice struct {
	FileID string
	Fields map[string]string
}

// Status returns the optional status field.
func (n Notice) Status() string {
	return n.Fields["status"]
}

// ParseNotice decodes a flat "key:value,key:value" list. Values may contain
// colons; only the first colon of a pair separates key from value.
func ParseNotice(data string) (Notice, error) {
	n := Notice{Fields: map[string]string{}}
	for pair := range strings.SplitSeq(data, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		n.Fields[k] = strings.TrimSpace(v)
	}
	n.FileID = n.Fields["fileID"]
	if n.FileID == "" {
		return Notice{}, ErrMalformedNotice
	}
	return n, nil
}

// FormatNotice encodes fields in the given key order.
func FormatNotice(keys []string, fields map[string]string) string {
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(fields[k])
	}
	return b.String()
}
