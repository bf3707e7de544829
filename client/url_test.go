package client

import (
	"net/url"
	"strings"
	"testing"
)

func TestResolveRedirect(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		location string
		want     string
	}{
		{"absolute path", "https://example.com/path", "/api/v1", "https://example.com/api/v1"},
		{"relative without trailing slash", "https://example.com/v1", "users", "https://example.com/users"},
		{"relative with trailing slash", "https://example.com/v1/", "users", "https://example.com/v1/users"},
		{"absolute URL", "https://example.com", "https://other.com/path", "https://other.com/path"},
		{"protocol-relative", "https://example.com", "//cdn.example.com/file", "https://cdn.example.com/file"},
		{"current directory", "https://example.com/app/", "./resource?foo=bar", "https://example.com/app/resource?foo=bar"},
		{"parent directory", "https://example.com/a/b/c", "../d", "https://example.com/a/d"},
		{"multiple parents", "https://example.com/a/b/c", "../../d", "https://example.com/d"},
		{"query only", "https://example.com/path", "?query=value", "https://example.com/path?query=value"},
		{"query replaces base query", "https://example.com/path?old=1", "?new=2", "https://example.com/path?new=2"},
		{"root-relative drops query", "https://example.com/old/path?q=1", "/new/path", "https://example.com/new/path"},
		{"fragment stripped", "https://example.com/path", "/next#section", "https://example.com/next"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := url.Parse(tt.base)
			if err != nil {
				t.Fatalf("parse base: %v", err)
			}
			got, err := resolveRedirect(base, tt.location)
			if err != nil {
				t.Fatalf("resolveRedirect: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("resolveRedirect(%q, %q) = %q, want %q", tt.base, tt.location, got, tt.want)
			}
		})
	}
}

func TestMergeParams(t *testing.T) {
	got := mergeParams("https://example.com/s?q=go",
		map[string]string{"key": "k1", "page": "1"},
		map[string]string{"page": "2"},
	)
	if !strings.HasPrefix(got, "https://example.com/s?") {
		t.Fatalf("mergeParams = %q", got)
	}
	for _, want := range []string{"q=go", "key=k1", "page=2"} {
		if !strings.Contains(got, want) {
			t.Errorf("merged URL %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "page=1") {
		t.Errorf("later params should override: %q", got)
	}

	if got := mergeParams("https://example.com/plain", nil); got != "https://example.com/plain" {
		t.Errorf("no params should leave URL untouched, got %q", got)
	}
}
