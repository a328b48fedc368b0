package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseKind_Valid(t *testing.T) {
	for _, name := range []string{"fs", "zk", "mem", "null", "sql"} {
		kind, err := ParseKind(name)
		if err != nil {
			t.Errorf("ParseKind(%q) failed: %v", name, err)
		}
		if string(kind) != name {
			t.Errorf("ParseKind(%q) = %q", name, kind)
		}
	}
}

func TestParseKind_Invalid(t *testing.T) {
	for _, name := range []string{"", "FS", "leveldb", "zookeeper"} {
		if _, err := ParseKind(name); err == nil {
			t.Errorf("ParseKind(%q) succeeded, want error", name)
		}
	}
}

func TestVersion_String(t *testing.T) {
	v := Version{Major: 1, Minor: 2}
	if v.String() != "1.2" {
		t.Errorf("String() = %q, want 1.2", v.String())
	}
}

func TestParseVersion_RoundTrip(t *testing.T) {
	parsed, err := ParseVersion(CurrentVersion.String())
	if err != nil {
		t.Fatalf("ParseVersion() failed: %v", err)
	}
	if parsed != CurrentVersion {
		t.Errorf("round trip = %+v, want %+v", parsed, CurrentVersion)
	}
}

func TestParseVersion_Invalid(t *testing.T) {
	for _, input := range []string{"", "1", "a.b", "1.x"} {
		if _, err := ParseVersion(input); err == nil {
			t.Errorf("ParseVersion(%q) succeeded, want error", input)
		}
	}
}

func TestVersion_IsCompatible(t *testing.T) {
	v := Version{Major: 1, Minor: 2}
	if !v.IsCompatible(Version{Major: 1, Minor: 9}) {
		t.Error("minor revisions should be compatible")
	}
	if v.IsCompatible(Version{Major: 2, Minor: 0}) {
		t.Error("major revisions should be incompatible")
	}
}

func TestStoreError_Formatting(t *testing.T) {
	err := NewWriteError(KindFS, "application", "application_1_0001", errors.New("disk full"))
	want := "WRITE_FAILED: fs store: application application_1_0001: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	notEmpty := NewNotEmptyError()
	if got := notEmpty.Error(); got == "" || got[:len("DEST_NOT_EMPTY")] != "DEST_NOT_EMPTY" {
		t.Errorf("Error() = %q, want DEST_NOT_EMPTY prefix", got)
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	inner := NewLoadError(KindZK, errors.New("connection loss"))
	wrapped := fmt.Errorf("load source state: %w", inner)

	if CodeOf(wrapped) != ErrCodeLoad {
		t.Errorf("CodeOf() = %q, want %q", CodeOf(wrapped), ErrCodeLoad)
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf() on a plain error should be empty")
	}
}

func TestIsWriteError(t *testing.T) {
	write := fmt.Errorf("replay application: %w", NewWriteError(KindSQL, "application", "x", errors.New("boom")))
	if !IsWriteError(write) {
		t.Error("IsWriteError() = false for a wrapped write error")
	}
	if IsWriteError(NewLoadError(KindSQL, errors.New("boom"))) {
		t.Error("IsWriteError() = true for a load error")
	}
}

func TestIsNotEmpty(t *testing.T) {
	if !IsNotEmpty(fmt.Errorf("pre-check: %w", NewNotEmptyError())) {
		t.Error("IsNotEmpty() = false for a wrapped not-empty error")
	}
	if IsNotEmpty(errors.New("plain")) {
		t.Error("IsNotEmpty() = true for a plain error")
	}
}

func TestStoreError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewInitError(KindMemory, cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is() cannot see through StoreError")
	}
}
