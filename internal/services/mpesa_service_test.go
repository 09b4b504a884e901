package services

import (
	"errors"
	"testing"

	"payments-service/pkg/common"
)

func TestSanitizeMpesaNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0712345678", "254712345678", false},
		{"0112345678", "254112345678", false},
		{"712345678", "254712345678", false},
		{"254712345678", "254712345678", false},
		{"+254 712 345 678", "254712345678", false},
		{"0712-345-678", "254712345678", false},
		{"12345", "", true},
		{"", "", true},
		{"0812345678", "", true},
	}

	for _, c := range cases {
		got, err := SanitizeMpesaNumber(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("SanitizeMpesaNumber(%q): expected error, got %q", c.in, got)
			} else if !errors.Is(err, common.ErrValidation) {
				t.Errorf("SanitizeMpesaNumber(%q): expected validation error, got %v", c.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("SanitizeMpesaNumber(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("SanitizeMpesaNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
