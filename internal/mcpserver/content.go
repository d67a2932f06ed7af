package mcpserver

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const maxContentSize = 64 << 20 // 64 MB

var safeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// decodeContent returns the bytes of a base64 data URI, or the content
// itself when it is plain text.
func decodeContent(content string) ([]byte, error) {
	if !strings.HasPrefix(content, "data:") {
		return []byte(content), nil
	}
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(content, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, nil
}

func encodeDataURI(mime string, data []byte) string {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// sanitizeName reduces name to a flat file name of safe characters.
func sanitizeName(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	name = safeNameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name")
	}
	return name, nil
}
