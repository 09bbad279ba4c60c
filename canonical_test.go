package sigv4

import (
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"
)

func TestCanonicalURIPath(t *testing.T) {
	cases := map[string]string{
		"":                    "/",
		"/":                   "/",
		"/foo/bar":            "/foo/bar",
		"foo":                 "/foo",
		"/documents%20and%20settings": "/documents%2520and%2520settings",
		"/key%2Fwith%2Fslashes":       "/key%252Fwith%252Fslashes",
	}

	for input, expected := range cases {
		if actual := canonicalURIPath(input); actual != expected {
			t.Errorf("canonicalURIPath(%#v): expected %#v, got %#v",
				input, expected, actual)
		}
	}
}

func TestCanonicalQueryStringEmpty(t *testing.T) {
	if actual := canonicalQueryString(url.Values{}); actual != "" {
		t.Errorf("Expected empty canonical query, got %#v", actual)
	}
}

func TestCanonicalQueryStringDropsSignature(t *testing.T) {
	query := url.Values{
		keyXAmzSignature: []string{"deadbeef"},
		"a":              []string{"1"},
	}

	if actual := canonicalQueryString(query); actual != "a=1" {
		t.Errorf("Expected X-Amz-Signature to be dropped, got %#v", actual)
	}

	if actual := canonicalQueryString(url.Values{keyXAmzSignature: []string{"deadbeef"}}); actual != "" {
		t.Errorf("Expected empty canonical query, got %#v", actual)
	}
}

func TestCanonicalQueryStringOrdering(t *testing.T) {
	query := url.Values{
		"y": []string{"a"},
		"x": []string{"foo", "bar"},
	}

	if actual := canonicalQueryString(query); actual != "x=bar&x=foo&y=a" {
		t.Errorf("Expected x=bar&x=foo&y=a, got %#v", actual)
	}
}

func TestCanonicalQueryStringKeyPrefixOrdering(t *testing.T) {
	// Keys sort before values do: "a" precedes "a-b" even though the
	// '-' byte sorts below '=', so whole-pair sorting would flip them.
	query := url.Values{
		"a-b": []string{"2"},
		"a":   []string{"1"},
	}

	if actual := canonicalQueryString(query); actual != "a=1&a-b=2" {
		t.Errorf("Expected a=1&a-b=2, got %#v", actual)
	}
}

func TestCanonicalQueryStringEncoding(t *testing.T) {
	query := url.Values{"a b": []string{"c/d=e"}}

	if actual := canonicalQueryString(query); actual != "a%20b=c%2Fd%3De" {
		t.Errorf("Expected a%%20b=c%%2Fd%%3De, got %#v", actual)
	}
}

func TestCanonicalQueryStringIdempotent(t *testing.T) {
	// Canonicalizing an already-canonical query yields the same string.
	canonical := canonicalQueryString(url.Values{
		"b": []string{"2"},
		"a": []string{"1", "3"},
	})

	reparsed, err := url.ParseQuery(canonical)
	if err != nil {
		t.Fatalf("Failed to reparse canonical query %#v: %v", canonical, err)
	}

	if again := canonicalQueryString(reparsed); again != canonical {
		t.Errorf("Canonical query not idempotent: %#v != %#v", again, canonical)
	}
}

func TestBuildCanonicalHeadersBlacklist(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("cache-control", "no-cache")
	header.Set("USER-AGENT", "curl/8.0")
	header.Set("X-Amz-Target", "Service.Operation")

	lines, signedHeaders := buildCanonicalHeaders("example.amazonaws.com", header)

	if signedHeaders != "host;x-amz-target" {
		t.Errorf("Expected host;x-amz-target, got %#v", signedHeaders)
	}

	joined := strings.Join(lines, "\n")
	for _, banned := range []string{"content-type", "cache-control", "user-agent"} {
		if strings.Contains(joined, banned) {
			t.Errorf("Blacklisted header %#v leaked into canonical headers: %#v",
				banned, joined)
		}
	}
}

func TestBuildCanonicalHeadersMultiValueSort(t *testing.T) {
	header := http.Header{"X-Amz-Meta-Tag": []string{"b", "a"}}

	lines, signedHeaders := buildCanonicalHeaders("example.amazonaws.com", header)

	if signedHeaders != "host;x-amz-meta-tag" {
		t.Errorf("Expected host;x-amz-meta-tag, got %#v", signedHeaders)
	}
	if lines[1] != "x-amz-meta-tag:a,b" {
		t.Errorf("Expected multi-values sorted as a,b, got %#v", lines[1])
	}
}

func TestBuildCanonicalHeadersCaseFoldAndCollapse(t *testing.T) {
	header := http.Header{}
	header.Set("X-Amz-Target", "some   spaced    value")

	lines, _ := buildCanonicalHeaders("example.amazonaws.com", header)

	if lines[1] != "x-amz-target:some spaced value" {
		t.Errorf("Expected space runs collapsed, got %#v", lines[1])
	}
	if lines[0] != "host:example.amazonaws.com" {
		t.Errorf("Expected host line first, got %#v", lines[0])
	}
}

func TestNormalizeURIPathComponent(t *testing.T) {
	cases := map[string]string{
		"simple":   "simple",
		"ሴ":        "%E1%88%B4",
		"%2a":      "%2A",
		"a+b":      "a%20b",
		"%41":      "A",
		"a b":      "a%20b",
		"%7e":      "~",
	}

	for input, expected := range cases {
		actual, err := NormalizeURIPathComponent(input)
		if err != nil {
			t.Errorf("NormalizeURIPathComponent(%#v) failed: %v", input, err)
		} else if actual != expected {
			t.Errorf("NormalizeURIPathComponent(%#v): expected %#v, got %#v",
				input, expected, actual)
		}
	}

	for _, invalid := range []string{"%4", "%", "%zz"} {
		if actual, err := NormalizeURIPathComponent(invalid); err == nil {
			t.Errorf("Expected NormalizeURIPathComponent(%#v) to fail, got %#v",
				invalid, actual)
		}
	}
}

func TestCanonicalizeURIPath(t *testing.T) {
	cases := map[string]string{
		"":           "/",
		"/":          "/",
		"/a/b/./c":   "/a/b/c",
		"/a/b/../c":  "/a/c",
		"//a///b":    "/a/b",
		"/a/b/..":    "/a",
		"/%61":       "/a",
	}

	for input, expected := range cases {
		actual, err := CanonicalizeURIPath(input)
		if err != nil {
			t.Errorf("CanonicalizeURIPath(%#v) failed: %v", input, err)
		} else if actual != expected {
			t.Errorf("CanonicalizeURIPath(%#v): expected %#v, got %#v",
				input, expected, actual)
		}
	}

	for _, invalid := range []string{"relative/path", "/a/../..", "/.."} {
		if actual, err := CanonicalizeURIPath(invalid); err == nil {
			t.Errorf("Expected CanonicalizeURIPath(%#v) to fail, got %#v",
				invalid, actual)
		}
	}
}

func TestNormalizeQueryParameters(t *testing.T) {
	actual, err := NormalizeQueryParameters("y=a&x=foo&x=bar&&empty")
	if err != nil {
		t.Fatalf("NormalizeQueryParameters failed: %v", err)
	}

	expected := map[string][]string{
		"y":     {"a"},
		"x":     {"bar", "foo"},
		"empty": {""},
	}
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("Expected %#v, got %#v", expected, actual)
	}

	if _, err := NormalizeQueryParameters("a=%zz"); err == nil {
		t.Errorf("Expected invalid percent encoding to fail")
	}
}
