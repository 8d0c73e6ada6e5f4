package passphrase

import (
	"errors"
	"strings"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	s := NewSource("LEDGER_KEY_PASS", "sender key")
	s.lookup = func(key string) (string, bool) { return "hunter2", key == "LEDGER_KEY_PASS" }
	s.prompt = func(string) (string, error) {
		t.Fatalf("prompt must not run when the variable is set")
		return "", nil
	}
	got, err := s.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSourceRejectsBlankValues(t *testing.T) {
	s := NewSource("LEDGER_KEY_PASS", "")
	s.lookup = func(string) (string, bool) { return "  ", true }
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty variable error, got %v", err)
	}

	prompted := NewSource("", "second key")
	prompted.lookup = func(string) (string, bool) { return "", false }
	prompted.prompt = func(string) (string, error) { return " ", nil }
	if _, err := prompted.Get(); err == nil || !strings.Contains(err.Error(), "second key") {
		t.Fatalf("expected blank prompt error, got %v", err)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s := NewSource("LEDGER_KEY_PASS", "sender key")
	s.lookup = func(string) (string, bool) { return "", false }
	calls := 0
	s.prompt = func(string) (string, error) {
		calls++
		return "", errNoTerminal
	}
	_, err := s.Get()
	if err == nil || !strings.Contains(err.Error(), "LEDGER_KEY_PASS") {
		t.Fatalf("expected hint about the variable, got %v", err)
	}
	if _, again := s.Get(); !errors.Is(again, err) && again.Error() != err.Error() {
		t.Fatalf("expected cached error")
	}
	if calls != 1 {
		t.Fatalf("prompt ran %d times", calls)
	}
}
