package serviceerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestServiceErrorCodeAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := New("bookmarks.create", "insert_failed", cause)

	if err.Error() != "bookmarks.create.insert_failed: disk full" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}

	wrapped := fmt.Errorf("request failed: %w", err)
	code, ok := CodeOf(wrapped)
	if !ok {
		t.Fatalf("expected code to be found in wrapped error")
	}
	if code != "bookmarks.create.insert_failed" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Fatalf("plain errors carry no code")
	}
}

func TestServiceErrorWithoutCause(t *testing.T) {
	err := New("tags.release", "missing_database", nil)
	if err.Error() != "tags.release.missing_database" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
