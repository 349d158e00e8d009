package interpreter

import (
	"log/slog"
	"strings"

	"github.com/ashureev/shsh-exec/internal/metrics"
)

// Stream names the subprocess pipe a fragment was read from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Decision is the classifier verdict for one fragment.
type Decision int

const (
	// DecisionResult marks genuine program output or error text.
	DecisionResult Decision = iota
	// DecisionDecoration marks prompt echoes and startup banners.
	DecisionDecoration
)

func (d Decision) String() string {
	if d == DecisionDecoration {
		return "decoration"
	}
	return "result"
}

// Classifier decides whether a raw output fragment is interpreter
// decoration or a genuine result.
type Classifier struct {
	rules  *RuleStore
	logger *slog.Logger
}

// NewClassifier creates a classifier over the given rule store.
func NewClassifier(rules *RuleStore, logger *slog.Logger) *Classifier {
	if rules == nil {
		rules = NewRuleStore(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{rules: rules, logger: logger}
}

// IsDecoration reports whether fragment is a prompt echo or the startup banner.
//
// A fragment is a prompt echo only when the whole trimmed fragment matches
// the prompt pattern. It is a banner only when it contains every banner
// keyword. Empty fragments are not decoration.
func (c *Classifier) IsDecoration(fragment string) bool {
	rs := c.rules.Load()
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" {
		return false
	}
	if rs.prompt.MatchString(trimmed) {
		return true
	}
	for _, kw := range rs.rules.BannerKeywords {
		if !strings.Contains(fragment, kw) {
			return false
		}
	}
	return true
}

// Classify is IsDecoration with logging and metrics, used on the live
// output path so misclassification can be diagnosed after the fact.
func (c *Classifier) Classify(stream Stream, fragment string) Decision {
	d := DecisionResult
	if c.IsDecoration(fragment) {
		d = DecisionDecoration
	}
	metrics.ClassifierDecisionsTotal.WithLabelValues(string(stream), d.String()).Inc()
	c.logger.Debug("Classified output fragment",
		"stream", stream,
		"decision", d.String(),
		"bytes", len(fragment),
	)
	return d
}
