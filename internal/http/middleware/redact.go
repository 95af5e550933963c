package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// RedactOptions configures the scrubbing applied by AccessLog.
//
// MaskHeaders names extra headers whose values are replaced with
// "[REDACTED]". Matching is case-insensitive and merged with the built-in
// set (Authorization, Cookie, Set-Cookie).
type RedactOptions struct {
	MaskHeaders []string
}

var (
	// Telegram bot tokens look like "123456789:AAE...".
	botTokenRE = regexp.MustCompile(`\d{6,12}:[A-Za-z0-9_-]{30,}`)
	bearerRE   = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	// token=..., access_token=..., key=... in query strings.
	secretParamRE = regexp.MustCompile(`(?i)\b((?:access_)?token|key|secret)=[^&\s]*`)
)

// Redactor scrubs credentials from strings and header maps.
type Redactor struct {
	mask map[string]struct{}
}

// NewRedactor builds a Redactor from opts.
func NewRedactor(opts RedactOptions) *Redactor {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	return &Redactor{mask: mask}
}

// String replaces bot tokens, bearer credentials and secret query parameters.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	s = botTokenRE.ReplaceAllString(s, "[REDACTED:token]")
	s = bearerRE.ReplaceAllString(s, "Bearer [REDACTED]")
	s = secretParamRE.ReplaceAllString(s, "$1=[REDACTED]")
	return s
}

// Headers returns a flattened copy of h with masked and scrubbed values.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.mask[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.String(strings.Join(vv, ", "))
	}
	return out
}
