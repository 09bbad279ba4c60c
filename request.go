package sigv4

import (
	"io"
	"net/http"
	"net/url"
)

// parsedRequest is the ephemeral signing view of one HTTP request. It is
// derived once per sign call from the caller's request, mutated freely
// during canonicalization, and discarded after the signed request is
// rebuilt. The caller's request is never touched.
type parsedRequest struct {
	method  string
	uri     *url.URL
	query   url.Values
	header  http.Header
	body    io.Reader
	getBody func() (io.ReadCloser, error)
	host    string

	// hostHeader is a literal Host entry the caller had in the header
	// map. It is kept out of canonicalization (the host contributes
	// through the host field) but restored on rebuild so the output
	// request carries exactly the caller's headers plus the signing
	// ones.
	hostHeader []string

	// queryDirty records whether the query mapping was rewritten, in
	// which case rebuild re-encodes the URI. Plain signing only reads
	// the query; presigning rewrites it.
	queryDirty bool

	original *http.Request
}

// parseRequest derives the signing view from req.
func parseRequest(req *http.Request) *parsedRequest {
	uri := *req.URL

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	// The host contributes through the dedicated field below, never
	// through a stray Host entry in the header map.
	hostHeader := header.Values(keyHost)
	header.Del(keyHost)

	var body io.Reader
	if req.Body != nil {
		body = req.Body
	}

	return &parsedRequest{
		method:     req.Method,
		uri:        &uri,
		query:      uri.Query(),
		header:     header,
		body:       body,
		getBody:    req.GetBody,
		host:       host,
		hostHeader: hostHeader,
		original:   req,
	}
}

// stripAuthHeaders removes any date and authorization headers left over
// from a previous signing of this request, so a retried or re-signed
// request never canonicalizes its own stale signature.
func (pr *parsedRequest) stripAuthHeaders() {
	pr.header.Del(keyXAmzDate)
	pr.header.Del(keyDate)
	pr.header.Del(keyAuthorization)
}

// rebuild produces the output request: a clone of the original carrying
// the headers accumulated in the signing view, with the URI re-encoded
// only if the query mapping was rewritten.
func (pr *parsedRequest) rebuild() *http.Request {
	signed := pr.original.Clone(pr.original.Context())
	signed.Header = pr.header.Clone()

	if len(pr.hostHeader) > 0 {
		signed.Header[http.CanonicalHeaderKey(keyHost)] =
			append([]string(nil), pr.hostHeader...)
	}

	if pr.queryDirty {
		uri := *pr.uri
		uri.RawQuery = pr.query.Encode()
		signed.URL = &uri
	}

	return signed
}
