package errs

import (
	"fmt"
	"testing"
)

func TestStatusCode(t *testing.T) {
	cases := map[Kind]int{
		InvalidInput:       400,
		InvalidCredentials: 400,
		Unauthorized:       401,
		Forbidden:          403,
		NotFound:           404,
		Conflict:           409,
		QuotaExceeded:      413,
		Internal:           500,
		Kind("bogus"):      500,
	}
	for kind, want := range cases {
		if got := StatusCode(kind); got != want {
			t.Errorf("StatusCode(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := New(Forbidden, "keyhash mismatch")
	wrapped := fmt.Errorf("get_vault: %w", base)
	if got := KindOf(wrapped); got != Forbidden {
		t.Errorf("KindOf(wrapped) = %s, want %s", got, Forbidden)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(fmt.Errorf("boom")); got != Internal {
		t.Errorf("KindOf(plain) = %s, want %s", got, Internal)
	}
}

func TestWrapPreservesErr(t *testing.T) {
	inner := fmt.Errorf("disk full")
	err := Wrap(inner, "insert_data failed")
	if err.Unwrap() != inner {
		t.Error("Wrap did not preserve inner error via Unwrap")
	}
}
