package mperrors

import (
	"errors"
	"testing"
)

func TestErrorMessageIncludesOffsetWhenSet(t *testing.T) {
	e := At(CorruptionError, 42, "block checksum mismatch")
	want := "CorruptionError: block checksum mismatch (offset=42)"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestErrorMessageOmitsOffsetWhenUnset(t *testing.T) {
	e := New(Validation, "empty input")
	want := "Validation: empty input"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestWrapUnwrapsUnderlyingError(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(IOError, -1, cause, "write pack file")
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		IOError:         "IOError",
		FormatError:     "FormatError",
		CorruptionError: "CorruptionError",
		Validation:      "Validation",
		EmbedError:      "EmbedError",
		IndexError:      "IndexError",
		InternalError:   "InternalError",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, k.String(), want)
		}
	}
}
