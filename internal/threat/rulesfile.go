package threat

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk format for extra patterns:
//
//	rules:
//	  xss:
//	    - '<svg[^>]*onload'
//	  sensitive_files:
//	    - '\.bak$'
type rulesFile struct {
	Rules map[string][]string `yaml:"rules"`
}

// LoadSet reads a YAML rules file and returns the built-in set extended with
// its patterns. An empty path returns the built-in set.
func LoadSet(path string) (*Set, error) {
	if path == "" {
		return DefaultSet(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseSet(data)
}

// ParseSet builds a set from YAML rules file contents.
func ParseSet(data []byte) (*Set, error) {
	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	extra := make(map[Category][]string, len(rf.Rules))
	for name, patterns := range rf.Rules {
		c, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		extra[c] = append(extra[c], patterns...)
	}
	return NewSet(extra)
}
