package fetch

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"ingestd/internal/apperr"
)

// MaxErrorMessageLen caps how much of an upstream body is echoed in a client error.
const MaxErrorMessageLen = 500

// Classify maps a non-2xx status into the client/server error taxonomy. Server error bodies are
// never echoed.
func Classify(status int, body []byte) *apperr.Error {
	switch {
	case status >= 400 && status < 500:
		msg := fmt.Sprintf("client error (%d)", status)
		if s := SanitizeBody(body); s != "" {
			msg += ": " + s
		}
		return &apperr.Error{Kind: apperr.KindClient, Message: msg, Status: status}
	case status >= 500 && status < 600:
		return &apperr.Error{Kind: apperr.KindServer, Message: fmt.Sprintf("server error (%d)", status), Status: status}
	default:
		return &apperr.Error{Kind: apperr.KindUnexpected, Message: fmt.Sprintf("unexpected status (%d)", status), Status: status}
	}
}

// SanitizeBody collapses control characters and caps the result at MaxErrorMessageLen runes.
func SanitizeBody(body []byte) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, string(body))
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > MaxErrorMessageLen {
		return string(runes[:MaxErrorMessageLen]) + "..."
	}
	return s
}

func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
