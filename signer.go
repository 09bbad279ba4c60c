package sigv4

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/palantir/stacktrace"

	"github.com/duzhenlin/ksc-sigv4/timeutil"
)

const (
	keyAWS4                          = "AWS4"
	keyAWS4HMACSHA256                = "AWS4-HMAC-SHA256"
	keyAWS4Request                   = "aws4_request"
	keyApplicationXWWWFormURLEncoded = "application/x-www-form-urlencoded"
	keyAuthorization                 = "Authorization"
	keyCharset                       = "charset"
	keyContentType                   = "content-type"
	keyCredential                    = "Credential"
	keyDate                          = "Date"
	keyHost                          = "host"
	keySignature                     = "Signature"
	keySignedHeaders                 = "SignedHeaders"
	keyXAmzAlgorithm                 = "X-Amz-Algorithm"
	keyXAmzContentSha256             = "X-Amz-Content-Sha256"
	keyXAmzCredential                = "X-Amz-Credential"
	keyXAmzDate                      = "X-Amz-Date"
	keyXAmzExpires                   = "X-Amz-Expires"
	keyXAmzSignature                 = "X-Amz-Signature"
	keyXAmzSignedHeaders             = "X-Amz-SignedHeaders"
	sha256Empty                      = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	sha256Name                       = "SHA-256"
)

// Signer computes SigV4 signatures for outbound requests. A Signer is
// immutable after construction; concurrent Sign calls on distinct
// requests are safe as long as the caller does not mutate the
// credentials or the request mid-call.
type Signer struct {
	credentials Credentials
	clock       Clock
}

// NewSigner creates a Signer for the given credentials.
func NewSigner(credentials Credentials, options ...SignerOption) (*Signer, error) {
	if err := credentials.Validate(); err != nil {
		return nil, stacktrace.Propagate(err, "Unable to create signer")
	}

	signer := &Signer{
		credentials: credentials,
		clock:       SystemClock{},
	}

	for _, opt := range options {
		switch opt.Ident() {
		case identClock{}:
			signer.clock = opt.Value().(Clock)
		}
	}

	return signer, nil
}

// signParams are the per-call knobs collected from SignOptions. The
// presence flags distinguish an option that was given from its zero
// value; a supplied payload hash is used verbatim even when empty.
type signParams struct {
	signingTime    time.Time
	payloadHash    string
	hasPayloadHash bool
	expires        time.Duration
	hasExpires     bool
}

func (s *Signer) collectSignParams(options []SignOption) signParams {
	params := signParams{signingTime: s.clock.Now()}

	for _, opt := range options {
		switch opt.Ident() {
		case identSigningTime{}:
			params.signingTime = opt.Value().(time.Time)
		case identPayloadHash{}:
			params.payloadHash = opt.Value().(string)
			params.hasPayloadHash = true
		case identExpires{}:
			params.expires = opt.Value().(time.Duration)
			params.hasExpires = true
		}
	}

	return params
}

// Sign computes the SigV4 signature for req and returns a new request
// carrying the X-Amz-Date and Authorization headers. The input request
// is not mutated, including when signing fails. The body, if hashed, is
// left positioned for a full re-read by the transport.
func (s *Signer) Sign(req *http.Request, options ...SignOption) (*http.Request, error) {
	params := s.collectSignParams(options)

	// Long and short date both come from the same instant.
	longDate := params.signingTime.UTC().Format(timeutil.ISO8601CompactFormat)
	shortDate := longDate[:8]

	pr := parseRequest(req)
	pr.stripAuthHeaders()

	payloadHash := params.payloadHash
	if !params.hasPayloadHash {
		var err error
		if payloadHash, err = resolvePayloadHash(pr); err != nil {
			return nil, err
		}
	}

	pr.header.Set(keyXAmzDate, longDate)

	cc := canonicalize(pr, payloadHash)
	scope := s.credentials.Scope(shortDate)
	stringToSign := buildStringToSign(longDate, scope, cc.canonicalRequest)

	signingKey := deriveSigningKey(
		s.credentials.SecretKey, shortDate,
		s.credentials.Region, s.credentials.Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	pr.header.Set(keyAuthorization, buildAuthorizationHeader(
		s.credentials.AccessKey+"/"+scope, cc.signedHeaders, signature))

	return pr.rebuild(), nil
}

// canonicalize derives the canonical request and signed-headers string
// from the signing view and the payload hash. It is a pure function of
// its inputs: no clock reads, no randomness, no hidden state.
func canonicalize(pr *parsedRequest, payloadHash string) canonicalContext {
	headerLines, signedHeaders := buildCanonicalHeaders(pr.host, pr.header)

	return canonicalContext{
		canonicalRequest: buildCanonicalRequest(
			pr.method,
			canonicalURIPath(pr.uri.EscapedPath()),
			canonicalQueryString(pr.query),
			headerLines,
			signedHeaders,
			payloadHash,
		),
		signedHeaders: signedHeaders,
	}
}

// buildStringToSign assembles the string that is actually signed: the
// algorithm tag, the timestamp, the credential scope, and the hex
// SHA-256 of the canonical request, newline-separated.
func buildStringToSign(longDate, scope, canonicalRequest string) string {
	digest := sha256.Sum256([]byte(canonicalRequest))
	return keyAWS4HMACSHA256 + "\n" +
		longDate + "\n" +
		scope + "\n" +
		hex.EncodeToString(digest[:])
}

// buildAuthorizationHeader renders the Authorization header value.
func buildAuthorizationHeader(credential, signedHeaders, signature string) string {
	return keyAWS4HMACSHA256 +
		" " + keyCredential + "=" + credential +
		", " + keySignedHeaders + "=" + signedHeaders +
		", " + keySignature + "=" + signature
}
