package logger

import (
	"context"
	"testing"
)

func TestMaskIP(t *testing.T) {
	cases := map[string]string{
		"":                                "",
		"192.168.1.100":                   "192.168.*.*",
		"2001:db8:85a3:0:0:8a2e:370:7334": "2001:db8:85a3:0:*:*:*:*",
		"not-an-ip":                       "***",
	}

	for input, want := range cases {
		if got := MaskIP(input); got != want {
			t.Fatalf("MaskIP(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMaskString(t *testing.T) {
	if got := MaskString("9f86d081884c7d65"); got != "9f***65" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := MaskString("abc"); got != "***" {
		t.Fatalf("expected short values to be fully masked, got %q", got)
	}
}

func TestStringFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), VisitorIDKey{}, "4f1c2a")

	if got := stringFromContext(ctx, VisitorIDKey{}); got != "4f1c2a" {
		t.Fatalf("expected visitor id, got %q", got)
	}
	if got := stringFromContext(ctx, RequestIDKey{}); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
