package forward

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
)

// Rule routes messages whose recipient matches a pattern to another address.
type Rule struct {
	Pattern   string
	ForwardTo string
	re        *regexp.Regexp
}

// CompileRules builds the ordered rule set. Patterns match case-insensitively.
// An invalid pattern fails the whole set so a bad config is caught at load.
func CompileRules(rules []Rule) ([]Rule, error) {
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("forward: invalid pattern %q: %w", r.Pattern, err)
		}
		r.re = re
		compiled = append(compiled, r)
	}
	return compiled, nil
}

// RawSender delivers a canonical message to a set of destinations on behalf
// of a source address.
type RawSender interface {
	SendRaw(ctx context.Context, source string, destinations []string, raw []byte) error
}

// Matcher evaluates forwarding rules against a recipient and re-sends the
// canonical message for the first match. Forwarding is strictly best-effort:
// the caller logs the result and never blocks on it.
type Matcher struct {
	mu     sync.RWMutex
	rules  []Rule
	sender RawSender
	logger *log.Logger
}

// MatcherOption customizes a Matcher.
type MatcherOption func(*Matcher)

// NewMatcher builds a matcher over compiled rules.
func NewMatcher(rules []Rule, sender RawSender, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		rules:  rules,
		sender: sender,
		logger: log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// WithMatcherLogger overrides the logger used for delivery diagnostics.
func WithMatcherLogger(logger *log.Logger) MatcherOption {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// SetRules swaps the rule set, used when configuration reloads.
func (m *Matcher) SetRules(rules []Rule) {
	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
}

// Forward submits the message for the first rule matching the recipient,
// using the original recipient as the nominal sender. It reports whether a
// rule fired and any delivery error; at most one rule fires per message.
func (m *Matcher) Forward(ctx context.Context, recipient string, raw []byte) (bool, error) {
	recipient = strings.TrimSpace(recipient)
	if m == nil || m.sender == nil || recipient == "" {
		return false, nil
	}
	m.mu.RLock()
	rules := m.rules
	m.mu.RUnlock()
	for _, rule := range rules {
		if rule.re == nil || !rule.re.MatchString(recipient) {
			continue
		}
		m.logf("forward: %s -> %s", recipient, rule.ForwardTo)
		if err := m.sender.SendRaw(ctx, recipient, []string{rule.ForwardTo}, raw); err != nil {
			return true, fmt.Errorf("forward: deliver to %s: %w", rule.ForwardTo, err)
		}
		return true, nil
	}
	return false, nil
}

func (m *Matcher) logf(format string, args ...any) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}
