package interpreter

import (
	"github.com/charmbracelet/x/ansi"
)

// Denoiser removes terminal control sequences and interpreter counter
// labels from result text.
type Denoiser struct {
	rules *RuleStore
}

// NewDenoiser creates a denoiser over the given rule store.
func NewDenoiser(rules *RuleStore) *Denoiser {
	if rules == nil {
		rules = NewRuleStore(nil)
	}
	return &Denoiser{rules: rules}
}

// Denoise strips ANSI escape sequences, counter labels at the start of a
// line, and a dangling input label at the end of a line. Other content is
// left untouched. Denoise(Denoise(s)) == Denoise(s).
func (d *Denoiser) Denoise(fragment string) string {
	rs := d.rules.Load()
	out := fragment
	// Every pass only removes text, so this reaches a fixed point.
	for {
		next := ansi.Strip(out)
		next = rs.leadingLabel.ReplaceAllString(next, "")
		next = rs.trailingLabel.ReplaceAllString(next, "")
		if next == out {
			return out
		}
		out = next
	}
}
