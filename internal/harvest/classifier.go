package harvest

import (
	"bytes"
	"mime"
	"net/http"
	"strings"
)

const sniffLen = 512

// Classifier maps a fetch outcome to a ContentKind. The zero value treats
// non-2xx responses as failures.
type Classifier struct {
	AcceptNon2xx bool
}

// Classify never panics and never leaves an input unresolved. resp is nil when
// no response was obtained.
func (c Classifier) Classify(resp *FetchResponse, err error) ContentKind {
	if err != nil || resp == nil || resp.StatusCode <= 0 {
		return KindFailed
	}
	if !c.AcceptNon2xx && !is2xx(resp.StatusCode) {
		return KindFailed
	}
	if len(resp.Body) == 0 {
		return KindUnknown
	}
	if declaredHTML(resp.Header.Get("Content-Type")) || sniffHTML(resp.Body) {
		return KindHTML
	}
	return KindOther
}

func is2xx(code int) bool { return code >= 200 && code < 300 }

func declaredHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func sniffHTML(body []byte) bool {
	head := body
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	head = bytes.TrimPrefix(head, utf8BOM)
	trimmed := bytes.ToLower(bytes.TrimLeft(head, " \t\r\n\f"))
	if bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html")) {
		return true
	}
	return strings.HasPrefix(http.DetectContentType(head), "text/html")
}
