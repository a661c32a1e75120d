package delivery

import (
	"errors"
	"testing"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotTarget, gotMsg string
	reg.Register("test:", func(target, message string) error {
		gotTarget = target
		gotMsg = message
		return nil
	})

	err := reg.Deliver("test:123", "job finished")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTarget != "test:123" {
		t.Errorf("expected target %q, got %q", "test:123", gotTarget)
	}
	if gotMsg != "job finished" {
		t.Errorf("expected message %q, got %q", "job finished", gotMsg)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver("unknown:123", "hello")
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
	if reg.Supports("unknown:123") {
		t.Error("expected Supports to be false")
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry()

	var generic, specific int
	reg.Register("telegram:", func(target, message string) error {
		generic++
		return nil
	})
	reg.Register("telegram:-100", func(target, message string) error {
		specific++
		return nil
	})

	for i := 0; i < 10; i++ {
		if err := reg.Deliver("telegram:-100555", "group"); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.Deliver("telegram:42", "direct"); err != nil {
		t.Fatal(err)
	}

	if specific != 10 || generic != 1 {
		t.Errorf("expected 10 specific and 1 generic, got %d and %d", specific, generic)
	}
	if p := reg.Prefixes(); len(p) != 2 || p[0] != "telegram:-100" {
		t.Errorf("unexpected prefixes %v", p)
	}
}

func TestRegistryHandlerError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("chat not found")
	reg.Register("telegram:", func(target, message string) error { return boom })

	if err := reg.Deliver("telegram:1", "msg"); !errors.Is(err, boom) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	var first, second int
	reg.Register("log:", func(target, message string) error { first++; return nil })
	reg.Register("log:", func(target, message string) error { second++; return nil })

	if err := reg.Deliver("log:stderr", "msg"); err != nil {
		t.Fatal(err)
	}
	if first != 0 || second != 1 {
		t.Errorf("expected replaced handler, got first=%d second=%d", first, second)
	}
	if len(reg.Prefixes()) != 1 {
		t.Errorf("expected one prefix, got %v", reg.Prefixes())
	}
}
