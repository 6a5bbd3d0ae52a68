package proxy

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var keyParam = regexp.MustCompile(`([?&])key=[^&\s"]+`)

// Redact masks every occurrence of secret (raw and query-escaped) in s,
// plus any key= query parameter.
func Redact(s, secret string) string {
	if secret != "" {
		s = strings.ReplaceAll(s, secret, redacted)
		if escaped := url.QueryEscape(secret); escaped != secret {
			s = strings.ReplaceAll(s, escaped, redacted)
		}
	}
	return keyParam.ReplaceAllString(s, "${1}key="+redacted)
}
