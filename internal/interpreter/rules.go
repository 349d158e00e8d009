// Package interpreter manages persistent REPL subprocesses: spawning them,
// serializing commands against them, and deciding when a command's output
// is complete.
package interpreter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Built-in decoration rules for the CPython and IPython REPLs.
const (
	DefaultPromptPattern = `^(?:(?:>>>|\.\.\.:?|In \[\d+\]:)\s*)+$`
	DefaultLabelPattern  = `(?:In|Out)\s*\[\d+\]:`
)

// DefaultBannerKeywords must all appear in a fragment for it to count as the startup banner.
var DefaultBannerKeywords = []string{"Python", "main", "GCC", "on", "help", "license"}

// Rules describe what interpreter decoration looks like. They are loaded
// from a YAML profile so a different REPL can be supported without code changes.
type Rules struct {
	PromptPattern  string   `yaml:"prompt_pattern"`
	BannerKeywords []string `yaml:"banner_keywords"`
	LabelPattern   string   `yaml:"label_pattern"`
}

// DefaultRules returns the built-in rules.
func DefaultRules() Rules {
	return Rules{
		PromptPattern:  DefaultPromptPattern,
		BannerKeywords: append([]string(nil), DefaultBannerKeywords...),
		LabelPattern:   DefaultLabelPattern,
	}
}

// Ruleset is a compiled, immutable Rules value.
type Ruleset struct {
	rules         Rules
	prompt        *regexp.Regexp
	leadingLabel  *regexp.Regexp
	trailingLabel *regexp.Regexp
}

// Compile validates r and compiles its patterns.
func Compile(r Rules) (*Ruleset, error) {
	if r.PromptPattern == "" {
		return nil, errors.New("prompt_pattern cannot be empty")
	}
	if len(r.BannerKeywords) == 0 {
		return nil, errors.New("banner_keywords cannot be empty")
	}
	for _, kw := range r.BannerKeywords {
		if kw == "" {
			return nil, errors.New("banner_keywords cannot contain empty keywords")
		}
	}
	if r.LabelPattern == "" {
		return nil, errors.New("label_pattern cannot be empty")
	}

	prompt, err := regexp.Compile(r.PromptPattern)
	if err != nil {
		return nil, fmt.Errorf("compile prompt_pattern: %w", err)
	}
	if _, err := regexp.Compile(r.LabelPattern); err != nil {
		return nil, fmt.Errorf("compile label_pattern: %w", err)
	}

	return &Ruleset{
		rules:         r,
		prompt:        prompt,
		leadingLabel:  regexp.MustCompile(`(?m)^[ \t]*(?:(?:` + r.LabelPattern + `)[ \t]?)+`),
		trailingLabel: regexp.MustCompile(`(?m)[ \t]*(?:` + r.LabelPattern + `)[ \t]*$`),
	}, nil
}

// MustCompile is Compile for rules known to be valid.
func MustCompile(r Rules) *Ruleset {
	rs, err := Compile(r)
	if err != nil {
		panic(err)
	}
	return rs
}

// Rules returns a copy of the source rules.
func (rs *Ruleset) Rules() Rules {
	r := rs.rules
	r.BannerKeywords = append([]string(nil), rs.rules.BannerKeywords...)
	return r
}

// RuleStore holds the active Ruleset. Readers always see a complete
// ruleset; Store swaps it atomically.
type RuleStore struct {
	cur atomic.Pointer[Ruleset]
}

// NewRuleStore returns a store holding rs, or the built-in rules when rs is nil.
func NewRuleStore(rs *Ruleset) *RuleStore {
	if rs == nil {
		rs = MustCompile(DefaultRules())
	}
	s := &RuleStore{}
	s.cur.Store(rs)
	return s
}

// Load returns the active ruleset.
func (s *RuleStore) Load() *Ruleset { return s.cur.Load() }

// Store replaces the active ruleset.
func (s *RuleStore) Store(rs *Ruleset) {
	if rs != nil {
		s.cur.Store(rs)
	}
}

// ParseRules decodes a YAML profile. Fields left out keep their built-in values.
func ParseRules(data []byte) (Rules, error) {
	r := DefaultRules()
	if len(bytes.TrimSpace(data)) == 0 {
		return r, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return Rules{}, fmt.Errorf("decode classifier profile: %w", err)
	}
	for i, kw := range r.BannerKeywords {
		r.BannerKeywords[i] = strings.TrimSpace(kw)
	}
	return r, nil
}

// LoadRulesFile reads and compiles a YAML profile from disk.
func LoadRulesFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier profile: %w", err)
	}
	r, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	rs, err := Compile(r)
	if err != nil {
		return nil, fmt.Errorf("invalid classifier profile %s: %w", path, err)
	}
	return rs, nil
}
