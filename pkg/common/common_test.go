package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestGenerateReferenceCode(t *testing.T) {
	prefixes := []string{PrefixPayment, PrefixPayout, PrefixLedger, PrefixQuote, PrefixInvoice, PrefixContract}

	for _, prefix := range prefixes {
		code := GenerateReferenceCode(prefix)

		if len(code) != len(prefix)+8 {
			t.Errorf("prefix %s: expected length %d, got %d (%s)", prefix, len(prefix)+8, len(code), code)
		}
		if code[:len(prefix)] != prefix {
			t.Errorf("expected code %s to start with %s", code, prefix)
		}
		if !ValidateReferenceCode(code, prefix) {
			t.Errorf("generated code %s failed validation for prefix %s", code, prefix)
		}

		for _, c := range code[len(prefix):] {
			if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
				t.Errorf("invalid character %c in code %s", c, code)
			}
		}
	}
}

func TestValidateReferenceCode(t *testing.T) {
	cases := []struct {
		code   string
		prefix string
		want   bool
	}{
		{"DP5TG20VG1", "DP", true},
		{"DD12345678", "DD", true},
		{"", "DP", false},
		{"DP1234567", "DP", false},   // too short
		{"DP123456789", "DP", false}, // too long
		{"DD12345678", "DP", false},  // wrong prefix
		{"LE00000000", "LE", true},
	}

	for _, tc := range cases {
		if got := ValidateReferenceCode(tc.code, tc.prefix); got != tc.want {
			t.Errorf("ValidateReferenceCode(%q, %q) = %v, want %v", tc.code, tc.prefix, got, tc.want)
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	err := fmt.Errorf("transaction DP5TG20VG1: %w", ErrInvalidStateTransition)
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("wrapped error should match ErrInvalidStateTransition")
	}
	if errors.Is(err, ErrImmutableRecord) {
		t.Errorf("wrapped error should not match ErrImmutableRecord")
	}
}

func TestPaginateResponse(t *testing.T) {
	total := int64(100)
	data := []string{"item1", "item2"}

	res := PaginateResponse(data, total, 1, 10, "")
	if res.CurrentPage != 1 {
		t.Errorf("expected CurrentPage 1, got %d", res.CurrentPage)
	}
	if res.LastPage != 10 {
		t.Errorf("expected LastPage 10, got %d", res.LastPage)
	}
	if res.NextPage != 2 {
		t.Errorf("expected NextPage 2, got %d", res.NextPage)
	}
	if res.PrevPage != 0 {
		t.Errorf("expected PrevPage 0, got %d", res.PrevPage)
	}

	// Last page has no next page
	res = PaginateResponse(data, total, 10, 10, "")
	if res.NextPage != 0 {
		t.Errorf("expected NextPage 0 on last page, got %d", res.NextPage)
	}
}

func TestNormalizePage(t *testing.T) {
	page, limit := NormalizePage(0, 0)
	if page != 1 || limit != DefaultPageSize {
		t.Errorf("expected defaults (1, %d), got (%d, %d)", DefaultPageSize, page, limit)
	}

	_, limit = NormalizePage(1, 10000)
	if limit != MaxPageSize {
		t.Errorf("expected limit clamped to %d, got %d", MaxPageSize, limit)
	}
}
