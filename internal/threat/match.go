package threat

import "net/url"

// Matcher reports whether a value trips a rule family. *Group is the regex
// implementation; anything else (an automaton, a remote classifier) can be
// plugged into the firewall through this interface.
type Matcher interface {
	Matches(value string) bool
}

// Matches is the decoding-aware lookup used by the firewall.
func Matches(value string, m Matcher) bool {
	if m == nil {
		return false
	}
	return m.Matches(value)
}

// Matches tests every rule against the percent-decoded and the original form
// of value. A malformed escape sequence falls back to the original only.
func (g *Group) Matches(value string) bool {
	if g == nil {
		return false
	}
	decoded, ok := Decode(value)
	for _, re := range g.Patterns {
		if ok && re.MatchString(decoded) {
			return true
		}
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// Decode percent-decodes s the way a URI component decoder does: '+' stays
// literal. ok is false when s holds a malformed escape.
func Decode(s string) (string, bool) {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s, false
	}
	return decoded, true
}

// DecodeQuery fully decodes a raw query string, turning '+' into spaces.
// A malformed query is returned unchanged.
func DecodeQuery(raw string) string {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
