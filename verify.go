package sigv4

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/lestrrat-go/option"
	"github.com/palantir/stacktrace"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/duzhenlin/ksc-sigv4/timeutil"
)

// SecretKeyFunc returns the secret key for an access key, or an error if
// the access key is unknown.
type SecretKeyFunc func(accessKey string) (string, error)

type identFormBodyHoisting struct{}

func (identFormBodyHoisting) String() string { return "WithFormBodyHoisting" }

// WithFormBodyHoisting controls whether the Verifier treats an
// application/x-www-form-urlencoded body as query parameters: the body
// is decoded per its declared charset, merged into the canonical query,
// and the payload hash becomes that of the empty string. This matches
// clients that sign form posts as if the parameters were in the URL.
// Disabled by default; a Signer from this package hashes form bodies
// like any other payload.
func WithFormBodyHoisting(hoist bool) VerifierOption {
	return verifierOption{option.New(identFormBodyHoisting{}, hoist)}
}

// Verifier checks SigV4 signatures on received requests: the server-side
// complement of Signer. Signatures may arrive in the Authorization
// header or, for presigned URLs, in X-Amz-* query parameters.
type Verifier struct {
	region    string
	service   string
	secretKey SecretKeyFunc
	clock     Clock
	skew      time.Duration
	hoistForm bool
}

// NewVerifier creates a Verifier for one region and service. The
// secretKey function is consulted once per Verify call with the access
// key the request claims. The default clock-skew window is 15 minutes.
func NewVerifier(region, service string, secretKey SecretKeyFunc, options ...VerifierOption) (*Verifier, error) {
	if region == "" || service == "" {
		return nil, stacktrace.NewError(
			"Unable to create verifier: region and service must be non-empty")
	}
	if secretKey == nil {
		return nil, stacktrace.NewError(
			"Unable to create verifier: secret key function is required")
	}

	verifier := &Verifier{
		region:    region,
		service:   service,
		secretKey: secretKey,
		clock:     SystemClock{},
		skew:      15 * time.Minute,
	}

	for _, opt := range options {
		switch opt.Ident() {
		case identClock{}:
			verifier.clock = opt.Value().(Clock)
		case identClockSkew{}:
			verifier.skew = opt.Value().(time.Duration)
		case identFormBodyHoisting{}:
			verifier.hoistForm = opt.Value().(bool)
		}
	}

	return verifier, nil
}

// Verify checks the signature on req against the verifier's clock and
// skew window.
func (v *Verifier) Verify(req *http.Request) error {
	return v.VerifyAt(req, v.clock.Now(), v.skew)
}

// VerifyAt checks the signature on req, requiring its timestamp to fall
// within allowedMismatch of serverTime. Pass a negative duration to
// accept any timestamp.
//
// The request body is drained to compute the canonical form and then
// replaced with an equivalent in-memory reader, so handlers downstream
// can still read it.
func (v *Verifier) VerifyAt(req *http.Request, serverTime time.Time, allowedMismatch time.Duration) error {
	vreq, err := newVerifyRequest(req)
	if err != nil {
		return stacktrace.Propagate(err, "Unable to verify signature")
	}

	if allowedMismatch >= 0 {
		ts, err := vreq.timestamp()
		if err != nil {
			return stacktrace.Propagate(
				err, "Unable to verify signature: Failed to get request timestamp")
		}

		minTS := serverTime.Add(-allowedMismatch)
		maxTS := serverTime.Add(allowedMismatch)
		if ts.Before(minTS) || ts.After(maxTS) {
			return stacktrace.NewError(
				"Signature verification failed: Request timestamp %v outside "+
					"of allowed range %v - %v",
				ts.Format(timeutil.ISO8601CompactFormat),
				minTS.Format(timeutil.ISO8601CompactFormat),
				maxTS.Format(timeutil.ISO8601CompactFormat))
		}
	}

	expected, err := v.expectedSignature(vreq)
	if err != nil {
		return stacktrace.Propagate(
			err, "Signature verification failed: Failed to calculate "+
				"expected signature")
	}

	actual, err := vreq.signature()
	if err != nil {
		return stacktrace.Propagate(
			err, "Signature verification failed: Failed to get request signature")
	}

	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return stacktrace.NewError(
			"Signature verification failed: Signature mismatch: Expected %#v "+
				"instead of %#v", expected, actual)
	}

	return nil
}

// expectedSignature recomputes the signature the request should carry.
func (v *Verifier) expectedSignature(vreq *verifyRequest) (string, error) {
	accessKey, err := vreq.accessKey(v.region, v.service)
	if err != nil {
		return "", stacktrace.Propagate(err, "Failed to get access key")
	}

	secret, err := v.secretKey(accessKey)
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Failed to get secret key for access key %#v", accessKey)
	}

	ts, err := vreq.timestamp()
	if err != nil {
		return "", stacktrace.Propagate(err, "Failed to get request timestamp")
	}

	stringToSign, err := vreq.stringToSign(v.region, v.service, v.hoistForm)
	if err != nil {
		return "", stacktrace.Propagate(err, "Failed to get string to sign")
	}

	shortDate := ts.UTC().Format(timeutil.ISO8601DateFormat)
	signingKey := deriveSigningKey([]byte(secret), shortDate, v.region, v.service)

	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign))), nil
}

// verifyRequest is the verification-side view of a received request:
// lower-cased headers, the raw query string, and the buffered body.
type verifyRequest struct {
	method      string
	uriPath     string
	queryString string
	headers     map[string][]string
	body        []byte
}

func newVerifyRequest(req *http.Request) (*verifyRequest, error) {
	headers := make(map[string][]string, len(req.Header)+1)
	for name, values := range req.Header {
		lower := strings.ToLower(name)
		headers[lower] = append(headers[lower], values...)
	}

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	if host != "" && len(headers[keyHost]) == 0 {
		headers[keyHost] = []string{host}
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, stacktrace.Propagate(err, "Failed to read request body")
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	return &verifyRequest{
		method:      req.Method,
		uriPath:     req.URL.EscapedPath(),
		queryString: req.URL.RawQuery,
		headers:     headers,
		body:        body,
	}, nil
}

// queryParameters returns the normalized query parameter map.
func (r *verifyRequest) queryParameters() (map[string][]string, error) {
	qpmap, err := NormalizeQueryParameters(r.queryString)
	if err != nil {
		return nil, stacktrace.Propagate(
			err, "Unable to normalize query string: %#v", r.queryString)
	}
	return qpmap, nil
}

// singleQueryParameter returns the unescaped value of a query parameter
// that must not repeat, or "" if absent.
func (r *verifyRequest) singleQueryParameter(name string) (string, bool, error) {
	qpmap, err := r.queryParameters()
	if err != nil {
		return "", false, err
	}

	values, ok := qpmap[name]
	if !ok || len(values) == 0 {
		return "", false, nil
	}
	if len(values) > 1 {
		return "", false, stacktrace.NewError(
			"Query parameter %s has multiple values", name)
	}

	value, err := url.QueryUnescape(values[0])
	if err != nil {
		return "", false, stacktrace.Propagate(
			err, "Unable to unescape query parameter %v: %#v", name, values[0])
	}
	return value, true, nil
}

// authorizationParameters parses the AWS4-HMAC-SHA256 Authorization
// header into its comma-separated key=value parameters. Exactly one such
// header must be present.
func (r *verifyRequest) authorizationParameters() (map[string]string, error) {
	authHeaders := r.headers[strings.ToLower(keyAuthorization)]
	if len(authHeaders) == 0 {
		return nil, stacktrace.NewError("authorization header is not present")
	}

	var sigv4Header string
	for _, authHeader := range authHeaders {
		if strings.HasPrefix(authHeader, keyAWS4HMACSHA256+" ") {
			if sigv4Header != "" {
				return nil, stacktrace.NewError(
					"Multiple %s authorization headers present", keyAWS4HMACSHA256)
			}
			sigv4Header = authHeader
		}
	}

	if sigv4Header == "" {
		return nil, stacktrace.NewError(
			"No %s authorization headers present", keyAWS4HMACSHA256)
	}

	result := make(map[string]string)
	for _, parameter := range strings.Split(sigv4Header[len(keyAWS4HMACSHA256)+1:], ",") {
		parameter = strings.TrimSpace(parameter)
		key, value, found := strings.Cut(parameter, "=")
		if !found {
			return nil, stacktrace.NewError(
				"Invalid authorization header: missing '=' in parameter: %#v",
				parameter)
		}
		if _, exists := result[key]; exists {
			return nil, stacktrace.NewError(
				"Invalid authorization header: duplicate parameter %v", key)
		}
		result[key] = value
	}

	return result, nil
}

// signedHeaderNames returns the signed-header list the request claims,
// from the X-Amz-SignedHeaders query parameter or the SignedHeaders
// authorization parameter. The list must already be canonical: all
// lower-case and sorted.
func (r *verifyRequest) signedHeaderNames() ([]string, error) {
	signedHeaders, ok, err := r.singleQueryParameter(keyXAmzSignedHeaders)
	if err != nil {
		return nil, stacktrace.Propagate(err, "Unable to get signed headers")
	}

	if !ok {
		ahparams, err := r.authorizationParameters()
		if err != nil {
			return nil, stacktrace.Propagate(err, "Unable to get signed headers")
		}
		if signedHeaders, ok = ahparams[keySignedHeaders]; !ok {
			return nil, stacktrace.NewError(
				"Unable to get signed headers: query parameter %s missing and "+
					"authorization parameter %s missing",
				keyXAmzSignedHeaders, keySignedHeaders)
		}
	}

	names := strings.Split(signedHeaders, ";")
	for _, name := range names {
		if strings.ToLower(name) != name {
			return nil, stacktrace.NewError(
				"SignedHeaders is not canonicalized: %#v", signedHeaders)
		}
	}
	if !sort.StringsAreSorted(names) {
		return nil, stacktrace.NewError(
			"SignedHeaders is not canonicalized: %#v", signedHeaders)
	}

	return names, nil
}

// canonicalHeaderLines renders the name:value lines for the claimed
// signed headers. Every claimed header must be present in the request.
// Multiple values of one name are sorted and joined with commas, with
// space runs collapsed, mirroring the signing side.
func (r *verifyRequest) canonicalHeaderLines(names []string) ([]string, error) {
	lines := make([]string, 0, len(names))

	for _, name := range names {
		values, found := r.headers[name]
		if !found {
			return nil, stacktrace.NewError("SignedHeader missing: %v", name)
		}

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

	return lines, nil
}

// contentTypeAndCharset returns the request's media type and character
// set. Absent a content-type header, both are empty. The charset
// defaults to utf-8 when the header names none.
func (r *verifyRequest) contentTypeAndCharset() (contentType, charset string, err error) {
	values, ok := r.headers[keyContentType]
	if !ok || len(values) == 0 {
		return "", "", nil
	}
	if len(values) > 1 {
		return "", "", stacktrace.NewError(
			"Multiple values for Content-Type header: %#v", values)
	}

	parts := strings.Split(values[0], ";")
	contentType = strings.TrimSpace(parts[0])
	charset = "utf-8"

	for _, param := range parts[1:] {
		name, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if found && strings.ToLower(strings.TrimSpace(name)) == keyCharset {
			charset = strings.TrimSpace(value)
			break
		}
	}

	return contentType, charset, nil
}

// canonicalQuery builds the canonical query string for verification:
// the same key-then-value ordering the signing side uses. When
// hoistForm is set and the body is form-encoded, the body is decoded
// per its charset and its parameters join the query.
func (r *verifyRequest) canonicalQuery(hoistForm bool) (string, error) {
	qpmap, err := r.queryParameters()
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to canonicalize query string: %#v", r.queryString)
	}

	merged := make(map[string][]string, len(qpmap))
	merge := func(qpmap map[string][]string) {
		for key, values := range qpmap {
			if key == keyXAmzSignature {
				continue
			}
			merged[key] = append(merged[key], values...)
		}
	}
	merge(qpmap)

	if hoistForm {
		form, err := r.formParameters()
		if err != nil {
			return "", err
		}
		if form != nil {
			merge(form)
		}
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var pairs []string
	for _, key := range keys {
		values := merged[key]
		sort.Strings(values)
		for _, value := range values {
			pairs = append(pairs, key+"="+value)
		}
	}

	return strings.Join(pairs, "&"), nil
}

// formParameters decodes an application/x-www-form-urlencoded body into
// normalized query parameters, honoring the declared charset. Returns
// nil if the request body is not form-encoded.
func (r *verifyRequest) formParameters() (map[string][]string, error) {
	contentType, charset, err := r.contentTypeAndCharset()
	if err != nil {
		return nil, stacktrace.Propagate(
			err, "Unable to canonicalize query string: unable to get "+
				"content-type header")
	}
	if contentType != keyApplicationXWWWFormURLEncoded {
		return nil, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, stacktrace.Propagate(
			err, "Unable to canonicalize query string: unable to get "+
				"encoder for charset %#v to decode "+
				"application/x-www-form-urlencoded body", charset)
	}

	utf8Body, err := enc.NewDecoder().String(string(r.body))
	if err != nil {
		return nil, stacktrace.Propagate(
			err, "Unable to canonicalize query string: unable to decode "+
				"application/x-www-form-urlencoded body using charset %#v",
			charset)
	}

	form, err := NormalizeQueryParameters(utf8Body)
	if err != nil {
		return nil, stacktrace.Propagate(
			err, "Unable to canonicalize query string from "+
				"application/x-www-form-urlencoded body: %#v", utf8Body)
	}
	return form, nil
}

// payloadHash determines the payload hash to verify against: a supplied
// X-Amz-Content-Sha256 header verbatim, the empty-body hash when the
// body was hoisted into the query, or the SHA-256 of the body.
func (r *verifyRequest) payloadHash(hoistForm bool) (string, error) {
	if values := r.headers[strings.ToLower(keyXAmzContentSha256)]; len(values) > 0 {
		return values[0], nil
	}

	if hoistForm {
		contentType, _, err := r.contentTypeAndCharset()
		if err != nil {
			return "", err
		}
		if contentType == keyApplicationXWWWFormURLEncoded {
			return sha256Empty, nil
		}
	}

	digest := sha256.Sum256(r.body)
	return hex.EncodeToString(digest[:]), nil
}

// canonicalRequest rebuilds the canonical request the client should have
// signed.
func (r *verifyRequest) canonicalRequest(hoistForm bool) (string, error) {
	path, err := CanonicalizeURIPath(r.uriPath)
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get canonical request: Failed to get "+
				"canonicalized URI path")
	}

	query, err := r.canonicalQuery(hoistForm)
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get canonical request: Failed to get canonical "+
				"query string")
	}

	names, err := r.signedHeaderNames()
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get canonical request: Failed to get signed headers")
	}

	lines, err := r.canonicalHeaderLines(names)
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get canonical request: Failed to get signed headers")
	}

	hash, err := r.payloadHash(hoistForm)
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get canonical request: Failed to get payload hash")
	}

	return buildCanonicalRequest(
		r.method, path, query, lines, strings.Join(names, ";"), hash), nil
}

// stringToSign rebuilds the string the client should have signed.
func (r *verifyRequest) stringToSign(region, service string, hoistForm bool) (string, error) {
	ts, err := r.timestamp()
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get string to sign: Failed to get request timestamp")
	}

	scope, err := r.credentialScope(region, service)
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get string to sign: Failed to get credential scope")
	}

	creq, err := r.canonicalRequest(hoistForm)
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get string to sign: Failed to get canonical request")
	}

	return buildStringToSign(
		ts.UTC().Format(timeutil.ISO8601CompactFormat), scope, creq), nil
}

// timestamp returns the request timestamp from the X-Amz-Date query
// parameter, the X-Amz-Date header, or the Date header, in that order.
func (r *verifyRequest) timestamp() (time.Time, error) {
	dateString, ok, err := r.singleQueryParameter(keyXAmzDate)
	if err != nil {
		return time.Time{}, stacktrace.Propagate(
			err, "Unable to get request timestamp")
	}

	if !ok {
		var dateStrings []string
		if dateStrings = r.headers[strings.ToLower(keyXAmzDate)]; len(dateStrings) == 0 {
			if dateStrings = r.headers[strings.ToLower(keyDate)]; len(dateStrings) == 0 {
				return time.Time{}, stacktrace.NewError(
					"Unable to get request timestamp: query parameter %s, "+
						"header %s, and header %s were not passed into the request",
					keyXAmzDate, keyXAmzDate, keyDate)
			}
		}
		if len(dateStrings) > 1 {
			return time.Time{}, stacktrace.NewError(
				"Unable to get request timestamp: multiple date headers present")
		}
		dateString = dateStrings[0]
	}

	if ts, err := timeutil.ParseISO8601Timestamp(dateString); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC1123Z, dateString); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC1123, dateString); err == nil {
		return ts, nil
	}

	return time.Time{}, stacktrace.NewError(
		"Unable to get request timestamp: unparseable date: %#v", dateString)
}

// credentialScope returns the scope the request must have been signed
// under, using the request's own timestamp.
func (r *verifyRequest) credentialScope(region, service string) (string, error) {
	ts, err := r.timestamp()
	if err != nil {
		return "", stacktrace.Propagate(err, "Unable to get credential scope")
	}

	return ts.UTC().Format(timeutil.ISO8601DateFormat) +
		"/" + region + "/" + service + "/" + keyAWS4Request, nil
}

// accessKey extracts the access key from the request credential and
// checks the credential scope against the expected one.
func (r *verifyRequest) accessKey(region, service string) (string, error) {
	cred, ok, err := r.singleQueryParameter(keyXAmzCredential)
	if err != nil {
		return "", stacktrace.Propagate(err, "Unable to get access key")
	}

	if !ok {
		ahparams, err := r.authorizationParameters()
		if err != nil {
			return "", stacktrace.Propagate(
				err, "Unable to get access key: missing both "+
					"X-Amz-Credential query parameter and AWS4-HMAC-SHA256 "+
					"authorization header")
		}
		if cred, ok = ahparams[keyCredential]; !ok {
			return "", stacktrace.NewError(
				"Unable to get access key: AWS4-HMAC-SHA256 authorization " +
					"header is missing the Credential parameter")
		}
	}

	accessKey, requestScope, found := strings.Cut(cred, "/")
	if !found {
		return "", stacktrace.NewError(
			"Unable to get access key: Malformed credential")
	}

	expectedScope, err := r.credentialScope(region, service)
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get access key: unable to get expected "+
				"credential scope")
	}

	if requestScope != expectedScope {
		return "", stacktrace.NewError(
			"Invalid credential scope: Expected %#v instead of %#v",
			expectedScope, requestScope)
	}

	return accessKey, nil
}

// signature returns the signature the request carries, from the
// X-Amz-Signature query parameter or the Signature authorization
// parameter.
func (r *verifyRequest) signature() (string, error) {
	signature, ok, err := r.singleQueryParameter(keyXAmzSignature)
	if err != nil {
		return "", stacktrace.Propagate(err, "Unable to get request signature")
	}
	if ok {
		return signature, nil
	}

	ahparams, err := r.authorizationParameters()
	if err != nil {
		return "", stacktrace.Propagate(
			err, "Unable to get signature: missing both X-Amz-Signature "+
				"query parameter and AWS4-HMAC-SHA256 authorization header")
	}

	signature, ok = ahparams[keySignature]
	if !ok {
		return "", stacktrace.NewError(
			"Invalid Authorization header: missing Signature parameter")
	}
	return signature, nil
}
