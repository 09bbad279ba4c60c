package sigv4

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/palantir/stacktrace"
)

var multislash = regexp.MustCompile("//+")
var multispace = regexp.MustCompile("  +")

// headerBlacklist lists headers that proxies, gateways, and HTTP client
// layers may rewrite in flight. They never contribute to the canonical
// request, on either the signing or the verifying side. Membership is
// checked against the lower-cased header name.
var headerBlacklist = map[string]struct{}{
	"accept":              {},
	"authorization":       {},
	"cache-control":       {},
	"content-length":      {},
	"content-type":        {},
	"expect":              {},
	"from":                {},
	"if-match":            {},
	"if-modified-since":   {},
	"if-none-match":       {},
	"if-range":            {},
	"if-unmodified-since": {},
	"max-forwards":        {},
	"pragma":              {},
	"proxy-authorization": {},
	"range":               {},
	"referer":             {},
	"te":                  {},
	"user-agent":          {},
}

// canonicalContext carries the two canonicalization outputs consumed by
// string-to-sign construction. The signedHeaders string lists exactly
// the lower-cased header names that contributed canonical lines, in the
// same sorted order, joined by ";".
type canonicalContext struct {
	canonicalRequest string
	signedHeaders    string
}

// IsRFC3986Unreserved indicates whether c falls in the RFC 3986 range of
// unreserved characters: ALPHA, DIGIT, '-', '.', '_', and '~'.
func IsRFC3986Unreserved(c byte) bool {
	return (c >= '0' && c <= '9') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// uriEncode percent-encodes s, leaving RFC 3986 unreserved characters
// alone. Slashes are left literal when encodeSlash is false. Hex escapes
// are always upper-cased.
func uriEncode(s string, encodeSlash bool) string {
	var result strings.Builder
	result.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if IsRFC3986Unreserved(c) || (c == '/' && !encodeSlash) {
			result.WriteByte(c)
		} else {
			fmt.Fprintf(&result, "%%%02X", c)
		}
	}

	return result.String()
}

// canonicalURIPath produces the canonical path for signing from the
// request's escaped (on-wire) path. The whole path is percent-encoded a
// second time and path-separator slashes are re-inserted, so a %2F that
// encodes a literal slash inside a segment stays encoded while real
// separators do not. The result always starts with "/".
func canonicalURIPath(escapedPath string) string {
	if escapedPath == "" {
		return "/"
	}
	if !strings.HasPrefix(escapedPath, "/") {
		escapedPath = "/" + escapedPath
	}
	return uriEncode(escapedPath, false)
}

// canonicalQueryString produces the canonical query for signing. The
// X-Amz-Signature parameter is dropped; all other keys and values are
// percent-encoded, then assembled as key=value pairs ordered byte-wise
// by encoded key and, within one key, by encoded value. Sorting keys
// first matters when one key is a prefix of another: "a" must precede
// "a-b" even though '-' sorts below '='.
func canonicalQueryString(query url.Values) string {
	encoded := make(map[string][]string, len(query))
	for key, values := range query {
		if key == keyXAmzSignature {
			continue
		}
		encodedKey := uriEncode(key, true)
		for _, value := range values {
			encoded[encodedKey] = append(encoded[encodedKey], uriEncode(value, true))
		}
	}

	keys := make([]string, 0, len(encoded))
	for key := range encoded {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var pairs []string
	for _, key := range keys {
		values := encoded[key]
		sort.Strings(values)
		for _, value := range values {
			pairs = append(pairs, key+"="+value)
		}
	}

	return strings.Join(pairs, "&")
}

// buildCanonicalHeaders produces the canonical header lines and the
// signed-headers string for the given host and header set. Names are
// lower-cased, blacklisted names are skipped, multiple values of one
// name are sorted and joined with commas, and runs of spaces inside a
// value collapse to one space.
func buildCanonicalHeaders(host string, header http.Header) (lines []string, signedHeaders string) {
	grouped := make(map[string][]string, len(header)+1)
	if host != "" {
		grouped[keyHost] = []string{host}
	}

	for name, values := range header {
		lower := strings.ToLower(name)
		if _, excluded := headerBlacklist[lower]; excluded {
			continue
		}
		grouped[lower] = append(grouped[lower], values...)
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	lines = make([]string, 0, len(names))
	for _, name := range names {
		values := grouped[name]
		if len(values) > 1 {
			values = append([]string(nil), values...)
			sort.Strings(values)
		}

		collapsed := make([]string, len(values))
		for i, value := range values {
			collapsed[i] = multispace.ReplaceAllString(value, " ")
		}

		lines = append(lines, name+":"+strings.Join(collapsed, ","))
	}

	return lines, strings.Join(names, ";")
}

// buildCanonicalRequest assembles the canonical request string:
// method, path, query, header lines, a blank line, the signed-headers
// string, and the payload hash, newline-separated.
func buildCanonicalRequest(method, path, query string, headerLines []string, signedHeaders, payloadHash string) string {
	return strings.Join([]string{
		method,
		path,
		query,
		strings.Join(headerLines, "\n") + "\n",
		signedHeaders,
		payloadHash,
	}, "\n")
}

// NormalizeURIPathComponent normalizes one path or query component per
// RFC 3986: unreserved characters are left alone, everything else is
// percent-encoded, hex escapes are upper-cased, '+' becomes %20, and
// percent-encoded unreserved characters are decoded back to plain form.
//
// This is the verification-side normalization; the signing side encodes
// with canonicalURIPath instead.
func NormalizeURIPathComponent(component string) (string, error) {
	var result strings.Builder

	for i := 0; i < len(component); {
		c := component[i]

		switch {
		case IsRFC3986Unreserved(c):
			result.WriteByte(c)
			i++

		case c == '%':
			if i+3 > len(component) {
				return "", stacktrace.NewError(
					"Failed to normalize URI path component: '%%' encoding "+
						"truncated at index %d: %#v", i, component)
			}

			decoded, err := hex.DecodeString(component[i+1 : i+3])
			if err != nil {
				return "", stacktrace.Propagate(
					err, "Failed to normalize URI path component: invalid "+
						"hex-encoding sequence at index %d: %#v", i, component)
			}

			if IsRFC3986Unreserved(decoded[0]) {
				result.WriteByte(decoded[0])
			} else {
				fmt.Fprintf(&result, "%%%02X", decoded[0])
			}
			i += 3

		case c == '+':
			// Plus-encoded space.
			result.WriteString("%20")
			i++

		default:
			fmt.Fprintf(&result, "%%%02X", c)
			i++
		}
	}

	return result.String(), nil
}

// CanonicalizeURIPath normalizes a received URI path for verification,
// removing redundant slashes and relative path components. The path must
// be absolute or empty (taken as "/"). "." components are dropped; ".."
// components consume the preceding component and may not climb above the
// root.
func CanonicalizeURIPath(uriPath string) (string, error) {
	if uriPath == "" || uriPath == "/" {
		return "/", nil
	}

	if !strings.HasPrefix(uriPath, "/") {
		return "", stacktrace.NewError("Path is not absolute: %#v", uriPath)
	}

	uriPath = multislash.ReplaceAllString(uriPath, "/")
	components := strings.Split(uriPath, "/")

	// components[0] is the empty string before the leading slash.
	for i := 1; i < len(components); {
		component, err := NormalizeURIPathComponent(components[i])
		if err != nil {
			return "", stacktrace.Propagate(
				err, "Invalid path component: %#v", components[i])
		}

		switch component {
		case ".":
			components = append(components[:i], components[i+1:]...)

		case "..":
			if i <= 1 {
				return "", stacktrace.NewError(
					"Invalid URI path: relative path entry '..' navigates "+
						"above root: %#v", uriPath)
			}
			components = append(components[:i-1], components[i+1:]...)
			i--

		default:
			components[i] = component
			i++
		}
	}

	if len(components) == 1 {
		return "/", nil
	}
	return strings.Join(components, "/"), nil
}

// NormalizeQueryParameters converts a raw query string into a map of
// normalized parameter names to sorted normalized values, following
// RFC 3986 percent-encoding rules. Empty components are skipped; a
// component with no "=" is treated as a key with an empty value.
func NormalizeQueryParameters(queryString string) (map[string][]string, error) {
	result := make(map[string][]string)

	for _, component := range strings.Split(queryString, "&") {
		if component == "" {
			continue
		}

		key, value, _ := strings.Cut(component, "=")

		key, err := NormalizeURIPathComponent(key)
		if err != nil {
			return nil, stacktrace.Propagate(
				err, "Invalid query string: failed to normalize query "+
					"component: %#v", component)
		}

		value, err = NormalizeURIPathComponent(value)
		if err != nil {
			return nil, stacktrace.Propagate(
				err, "Invalid query string: failed to normalize query "+
					"component: %#v", component)
		}

		result[key] = append(result[key], value)
	}

	for key := range result {
		sort.Strings(result[key])
	}

	return result, nil
}
