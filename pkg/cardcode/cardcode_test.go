package cardcode

import (
	"errors"
	"testing"

	"github.com/medscheme/medscheme/internal/platform/apperror"
)

func TestNormalizeCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"abc", "ABC", true},
		{" s01 ", "S01", true},
		{"A1B", "A1B", true},
		{"ab", "", false},
		{"abcd", "", false},
		{"a-c", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeCode(tc.in)
		if tc.ok {
			if err != nil {
				t.Errorf("NormalizeCode(%q): unexpected error %v", tc.in, err)
				continue
			}
			if got != tc.want {
				t.Errorf("NormalizeCode(%q) = %q, want %q", tc.in, got, tc.want)
			}
		} else {
			if err == nil {
				t.Errorf("NormalizeCode(%q): expected error", tc.in)
			} else if !errors.Is(err, apperror.ErrInvalidValue) {
				t.Errorf("NormalizeCode(%q): error %v is not an invalid-value error", tc.in, err)
			}
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format("ABC", 1, 0); got != "ABC-001-00" {
		t.Errorf("Format = %q", got)
	}
	if got := Format("S01", 12, 3); got != "S01-012-03" {
		t.Errorf("Format = %q", got)
	}
}

func TestParse(t *testing.T) {
	p, d, ok := Parse("ABC", "ABC-042-07")
	if !ok || p != 42 || d != 7 {
		t.Errorf("Parse = %d/%d/%v, want 42/7/true", p, d, ok)
	}

	for _, bad := range []string{"XYZ-001-00", "ABC-1-00", "ABC-001-0", "ABC-001-00-extra", "LEGACY"} {
		if _, _, ok := Parse("ABC", bad); ok {
			t.Errorf("Parse(%q) unexpectedly matched", bad)
		}
	}
}

func TestPrincipalSeqRejectsDependants(t *testing.T) {
	if _, ok := PrincipalSeq("ABC", "ABC-001-02"); ok {
		t.Error("dependant number accepted as principal")
	}
	p, ok := PrincipalSeq("ABC", "ABC-009-00")
	if !ok || p != 9 {
		t.Errorf("PrincipalSeq = %d/%v, want 9/true", p, ok)
	}
}

func TestMaxPrincipalSeq(t *testing.T) {
	numbers := []string{"ABC-001-00", "ABC-003-00", "ABC-002-01", "XXX-009-00", "manual"}
	if got := MaxPrincipalSeq("ABC", numbers); got != 3 {
		t.Errorf("MaxPrincipalSeq = %d, want 3", got)
	}
	if got := MaxPrincipalSeq("ABC", nil); got != 0 {
		t.Errorf("MaxPrincipalSeq(empty) = %d, want 0", got)
	}
}

func TestMaxDependantSeq(t *testing.T) {
	numbers := []string{"ABC-001-00", "ABC-001-01", "ABC-001-02", "ABC-002-05"}
	if got := MaxDependantSeq("ABC", 1, numbers); got != 2 {
		t.Errorf("MaxDependantSeq = %d, want 2", got)
	}
	if got := MaxDependantSeq("ABC", 3, numbers); got != 0 {
		t.Errorf("MaxDependantSeq(no match) = %d, want 0", got)
	}
}
