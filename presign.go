package sigv4

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/duzhenlin/ksc-sigv4/timeutil"
)

// Presign computes a query-string-authenticated variant of the SigV4
// signature: instead of an Authorization header, the algorithm,
// credential, date, signed-headers list, and signature travel as X-Amz-*
// query parameters, which makes the resulting URL usable without any
// header control (browser downloads, redirects).
//
// It returns the presigned URL and the headers that were folded into
// the signature; the caller must send those headers unchanged. The input
// request is not mutated. Use WithExpires to bound the URL's validity.
func (s *Signer) Presign(req *http.Request, options ...SignOption) (string, http.Header, error) {
	params := s.collectSignParams(options)

	longDate := params.signingTime.UTC().Format(timeutil.ISO8601CompactFormat)
	shortDate := longDate[:8]

	pr := parseRequest(req)
	pr.stripAuthHeaders()

	payloadHash := params.payloadHash
	if !params.hasPayloadHash {
		var err error
		if payloadHash, err = resolvePayloadHash(pr); err != nil {
			return "", nil, err
		}
	}

	scope := s.credentials.Scope(shortDate)
	headerLines, signedHeaders := buildCanonicalHeaders(pr.host, pr.header)

	pr.query.Set(keyXAmzAlgorithm, keyAWS4HMACSHA256)
	pr.query.Set(keyXAmzCredential, s.credentials.AccessKey+"/"+scope)
	pr.query.Set(keyXAmzDate, longDate)
	pr.query.Set(keyXAmzSignedHeaders, signedHeaders)
	if params.hasExpires {
		pr.query.Set(keyXAmzExpires,
			strconv.FormatInt(int64(params.expires.Seconds()), 10))
	}
	pr.queryDirty = true

	canonicalRequest := buildCanonicalRequest(
		pr.method,
		canonicalURIPath(pr.uri.EscapedPath()),
		canonicalQueryString(pr.query),
		headerLines,
		signedHeaders,
		payloadHash,
	)

	stringToSign := buildStringToSign(longDate, scope, canonicalRequest)
	signingKey := deriveSigningKey(
		s.credentials.SecretKey, shortDate,
		s.credentials.Region, s.credentials.Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	pr.query.Set(keyXAmzSignature, signature)
	presigned := pr.rebuild()

	// The headers covered by the signature, in wire casing, so the
	// caller knows exactly what must accompany the URL.
	covered := make(http.Header)
	for _, line := range headerLines {
		name, value, _ := strings.Cut(line, ":")
		covered[http.CanonicalHeaderKey(name)] = []string{value}
	}

	return presigned.URL.String(), covered, nil
}
