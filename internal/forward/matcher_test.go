package forward

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
)

// recordingSender captures deliveries for assertions.
type recordingSender struct {
	calls []sentMessage
	err   error
}

type sentMessage struct {
	source       string
	destinations []string
	raw          []byte
}

func (s *recordingSender) SendRaw(_ context.Context, source string, destinations []string, raw []byte) error {
	s.calls = append(s.calls, sentMessage{source: source, destinations: destinations, raw: raw})
	return s.err
}

func quietMatcher(rules []Rule, sender RawSender) *Matcher {
	return NewMatcher(rules, sender, WithMatcherLogger(log.New(io.Discard, "", 0)))
}

func mustCompile(t *testing.T, rules []Rule) []Rule {
	t.Helper()
	compiled, err := CompileRules(rules)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return compiled
}

func TestCompileRulesInvalidPattern(t *testing.T) {
	_, err := CompileRules([]Rule{
		{Pattern: "good@example\\.org", ForwardTo: "dst@example.com"},
		{Pattern: "(unclosed", ForwardTo: "dst@example.com"},
	})
	if err == nil {
		t.Fatal("expected invalid pattern to fail the set")
	}
}

func TestForwardFirstMatchWins(t *testing.T) {
	rules := mustCompile(t, []Rule{
		{Pattern: "support@", ForwardTo: "first@example.com"},
		{Pattern: "support@example\\.org", ForwardTo: "second@example.com"},
	})
	sender := &recordingSender{}
	m := quietMatcher(rules, sender)

	matched, err := m.Forward(context.Background(), "support@example.org", []byte("raw"))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !matched {
		t.Fatal("expected a match")
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(sender.calls))
	}
	call := sender.calls[0]
	if call.source != "support@example.org" {
		t.Errorf("source = %q, want the original recipient", call.source)
	}
	if len(call.destinations) != 1 || call.destinations[0] != "first@example.com" {
		t.Errorf("destinations = %v", call.destinations)
	}
	if string(call.raw) != "raw" {
		t.Errorf("raw = %q", call.raw)
	}
}

func TestForwardCaseInsensitive(t *testing.T) {
	rules := mustCompile(t, []Rule{{Pattern: "sales@example\\.org", ForwardTo: "dst@example.com"}})
	sender := &recordingSender{}
	m := quietMatcher(rules, sender)

	matched, err := m.Forward(context.Background(), "SALES@Example.ORG", []byte("raw"))
	if err != nil || !matched {
		t.Fatalf("matched = %v, err = %v", matched, err)
	}
}

func TestForwardNoMatch(t *testing.T) {
	rules := mustCompile(t, []Rule{{Pattern: "support@example\\.org", ForwardTo: "dst@example.com"}})
	sender := &recordingSender{}
	m := quietMatcher(rules, sender)

	matched, err := m.Forward(context.Background(), "billing@example.org", []byte("raw"))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if matched {
		t.Fatal("expected no match")
	}
	if len(sender.calls) != 0 {
		t.Fatalf("sender invoked without a match: %d calls", len(sender.calls))
	}
}

func TestForwardDeliveryError(t *testing.T) {
	rules := mustCompile(t, []Rule{{Pattern: ".*", ForwardTo: "dst@example.com"}})
	boom := errors.New("smtp down")
	sender := &recordingSender{err: boom}
	m := quietMatcher(rules, sender)

	matched, err := m.Forward(context.Background(), "any@example.org", []byte("raw"))
	if !matched {
		t.Fatal("rule should have fired")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected delivery error, got %v", err)
	}
}

func TestForwardEmptyRecipient(t *testing.T) {
	rules := mustCompile(t, []Rule{{Pattern: ".*", ForwardTo: "dst@example.com"}})
	sender := &recordingSender{}
	m := quietMatcher(rules, sender)

	matched, err := m.Forward(context.Background(), "  ", []byte("raw"))
	if matched || err != nil {
		t.Fatalf("matched = %v, err = %v", matched, err)
	}
}

func TestSetRulesSwapsAtomically(t *testing.T) {
	sender := &recordingSender{}
	m := quietMatcher(nil, sender)

	matched, _ := m.Forward(context.Background(), "support@example.org", []byte("raw"))
	if matched {
		t.Fatal("no rules should match")
	}

	m.SetRules(mustCompile(t, []Rule{{Pattern: "support@", ForwardTo: "dst@example.com"}}))
	matched, err := m.Forward(context.Background(), "support@example.org", []byte("raw"))
	if err != nil || !matched {
		t.Fatalf("matched = %v, err = %v after SetRules", matched, err)
	}
}
