package passphrase

import (
	"io"
	"strings"
	"testing"
)

func testSource(env map[string]string, prompt func() ([]byte, error)) *Source {
	s := NewSource("OMNIPOOL_KEYSTORE_PASSPHRASE")
	s.lookup = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.prompt = prompt
	s.stderr = io.Discard
	return s
}

func TestGetPrefersEnvironment(t *testing.T) {
	prompted := false
	s := testSource(map[string]string{"OMNIPOOL_KEYSTORE_PASSPHRASE": " secret "}, func() ([]byte, error) {
		prompted = true
		return nil, nil
	})
	got, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != " secret " || prompted {
		t.Fatalf("unexpected result %q prompted=%v", got, prompted)
	}
}

func TestGetRejectsBlankEnvironment(t *testing.T) {
	s := testSource(map[string]string{"OMNIPOOL_KEYSTORE_PASSPHRASE": "  "}, nil)
	if _, err := s.Get(); err == nil {
		t.Fatalf("expected error for blank passphrase")
	}
}

func TestGetPromptsOnceAndCaches(t *testing.T) {
	calls := 0
	s := testSource(nil, func() ([]byte, error) {
		calls++
		return []byte("typed"), nil
	})
	for i := 0; i < 3; i++ {
		got, err := s.Get()
		if err != nil || got != "typed" {
			t.Fatalf("get #%d = %q, %v", i, got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("prompted %d times", calls)
	}
}

func TestGetWithoutTerminal(t *testing.T) {
	s := testSource(nil, func() ([]byte, error) { return nil, errNoTerminal })
	_, err := s.Get()
	if err == nil || !strings.Contains(err.Error(), "OMNIPOOL_KEYSTORE_PASSPHRASE") {
		t.Fatalf("expected hint naming the env var, got %v", err)
	}
}

func TestGetRejectsEmptyPrompt(t *testing.T) {
	s := testSource(nil, func() ([]byte, error) { return []byte(" "), nil })
	if _, err := s.Get(); err == nil {
		t.Fatalf("expected empty passphrase rejection")
	}
}
