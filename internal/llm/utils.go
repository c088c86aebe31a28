package llm

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// DataURL encodes image bytes for inline submission to a vision model.
// An empty or generic mimeType is sniffed from the content.
func DataURL(image []byte, mimeType string) string {
	mt := strings.TrimSpace(mimeType)
	if mt == "" || mt == "application/octet-stream" {
		mt = http.DetectContentType(image)
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(image)
}
