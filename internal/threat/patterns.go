package threat

import (
	"fmt"
	"regexp"
	"strings"
)

// Category names a family of attack patterns. The firewall's response code
// branches on which category a string trips, so names are stable.
type Category string

const (
	SQLInjection     Category = "sql_injection"
	XSS              Category = "xss"
	PathTraversal    Category = "path_traversal"
	CommandInjection Category = "command_injection"
	SensitiveFile    Category = "sensitive_file"
)

// Categories lists every category in evaluation order.
var Categories = []Category{SQLInjection, XSS, PathTraversal, CommandInjection, SensitiveFile}

// HumanName returns the label used in log lines.
func (c Category) HumanName() string {
	switch c {
	case SQLInjection:
		return "SQL Injection"
	case XSS:
		return "XSS"
	case PathTraversal:
		return "Path traversal"
	case CommandInjection:
		return "Command Injection"
	case SensitiveFile:
		return "Sensitive file access"
	default:
		return string(c)
	}
}

// ParseCategory accepts the canonical name or the camelCase form used in
// rules files ("sqlInjection", "sensitiveFiles", ...).
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sql_injection", "sqlinjection", "sqli":
		return SQLInjection, nil
	case "xss":
		return XSS, nil
	case "path_traversal", "pathtraversal":
		return PathTraversal, nil
	case "command_injection", "commandinjection":
		return CommandInjection, nil
	case "sensitive_file", "sensitive_files", "sensitivefiles":
		return SensitiveFile, nil
	}
	return "", fmt.Errorf("unknown threat category %q", s)
}

// defaultPatterns is the built-in rule table. Every pattern is compiled
// case-insensitively.
var defaultPatterns = map[Category][]string{
	SQLInjection: {
		`('|%27)\s*or\s*1\s*=\s*1`,
		`(--|#|/\*)`,
		`\bunion\b.*\bselect\b`,
		`\bselect\b.*\bfrom\b`,
		`\binsert\b.*\binto\b`,
		`\bdelete\b.*\bfrom\b`,
		`\bdrop\b.*\btable\b`,
		`\bexec\b.*\(`,
	},
	XSS: {
		`<script.*?>.*?</script>`,
		`<script`,
		`javascript:`,
		// on<event>= needs an attribute delimiter in front so parameter
		// names like "condition=" or "session_id=" stay clean.
		`[\s"'/+]on[a-z]+\s*=`,
		`<iframe`,
		`<object`,
		`<embed`,
		`alert\s*\(`,
		`eval\s*\(`,
		`document\.cookie`,
		`document\.write`,
	},
	PathTraversal: {
		`\.\./`,
		`\.\.\\`,
		`\.\.%2f`,
		`\.\.%5c`,
	},
	CommandInjection: {
		"[;|`]",
		// A lone & is the query separator, trailing ones included; only
		// chained or spaced forms count.
		`&&|&\s`,
		`\b(cat|ls|pwd|whoami|nc|netcat|curl|wget)\b`,
		`\$\{`,
		`\$\(`,
	},
	SensitiveFile: {
		`\.env$`,
		`\.env\.`,
		`\.git/`,
		`config\.json$`,
		`package\.json$`,
		`package-lock\.json$`,
		`yarn\.lock$`,
		`\.sql$`,
		`\.log$`,
	},
}

// Group is an ordered list of compiled rules sharing one category.
type Group struct {
	Category Category
	Patterns []*regexp.Regexp
}

// Set holds one Group per category. A Set is immutable once built.
type Set struct {
	groups map[Category]*Group
}

var defaultSet *Set

func init() {
	s, err := NewSet(nil)
	if err != nil {
		panic(err)
	}
	defaultSet = s
}

// DefaultSet returns the built-in rule set.
func DefaultSet() *Set {
	return defaultSet
}

// NewSet compiles the built-in patterns plus any extra patterns per category.
func NewSet(extra map[Category][]string) (*Set, error) {
	s := &Set{groups: make(map[Category]*Group, len(Categories))}
	for _, c := range Categories {
		patterns := append(append([]string(nil), defaultPatterns[c]...), extra[c]...)
		compiled, err := compile(patterns...)
		if err != nil {
			return nil, fmt.Errorf("compile %s rules: %w", c, err)
		}
		s.groups[c] = &Group{Category: c, Patterns: compiled}
	}
	for c := range extra {
		if _, ok := s.groups[c]; !ok {
			return nil, fmt.Errorf("unknown threat category %q", c)
		}
	}
	return s, nil
}

// Group returns the group for c, or nil for an unknown category.
func (s *Set) Group(c Category) *Group {
	return s.groups[c]
}

func compile(patterns ...string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if !strings.HasPrefix(p, "(?i)") {
			p = "(?i)" + p
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
