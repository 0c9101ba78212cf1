package blob

import (
	"bytes"
	"path"
	"strings"
)

// OctetStream is the fallback content type.
const OctetStream = "application/octet-stream"

var magicTypes = []struct {
	prefix      []byte
	contentType string
}{
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{[]byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
	{[]byte{0x52, 0x49, 0x46, 0x46}, "image/webp"},
	{[]byte{0x47, 0x49, 0x46, 0x38}, "image/gif"},
}

var extensionTypes = map[string]string{
	".srt":  "text/plain",
	".vtt":  "text/vtt",
	".ass":  "text/x-ssa",
	".ssa":  "text/x-ssa",
	".json": "application/json",
	".txt":  "text/plain",
	".html": "text/plain",
}

// DetectContentType picks a content type from magic bytes, then from the
// extension of name, then falls back to OctetStream.
func DetectContentType(name string, data []byte) string {
	for _, magic := range magicTypes {
		if bytes.HasPrefix(data, magic.prefix) {
			return magic.contentType
		}
	}
	if ct, ok := extensionTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return OctetStream
}

// ExtensionForContentType maps sniffed image types back to a file extension.
func ExtensionForContentType(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return ""
	}
}
