// Package sigv4 computes AWS Signature Version 4 authentication
// signatures for outbound HTTP requests.
//
// This implements the client side of the SigV4 scheme
// (http://docs.aws.amazon.com/general/latest/gr/signature-version-4.html):
// a Signer receives a fully-formed *http.Request and a credential tuple,
// derives the canonical form of the request, signs it with a chained
// HMAC-SHA256 key, and returns a new request carrying the X-Amz-Date and
// Authorization headers. The caller's request is never mutated.
//
// A Verifier providing the server-side complement of the same scheme is
// included as well, so services speaking this dialect can check incoming
// signatures with the exact canonicalization rules the Signer produces.
//
// The package performs no I/O beyond reading the request body to hash
// it, and it leaves the body positioned for a full re-read by whatever
// transport eventually sends the request.
package sigv4
