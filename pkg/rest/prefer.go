package rest

import (
	"net/http"
	"strings"
)

// returnPreference is the "return" directive of a Prefer header (RFC 7240):
// representation, minimal or headers-only. Empty means the header is absent.
type returnPreference string

func preferReturn(r *http.Request) returnPreference {
	values := r.Header.Values("Prefer")
	if len(values) == 0 {
		return ""
	}
	pref := returnPreference("minimal")
	for _, v := range values {
		for directive := range strings.SplitSeq(v, ",") {
			key, value, ok := strings.Cut(directive, "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "return") {
				continue
			}
			switch value = strings.ToLower(strings.Trim(strings.TrimSpace(value), `"`)); value {
			case "representation", "minimal", "headers-only":
				pref = returnPreference(value)
			}
		}
	}
	return pref
}

// wantsBody reports whether a mutation echoes the record. Without the header
// it does.
func (p returnPreference) wantsBody() bool {
	return p == "" || p == "representation"
}
