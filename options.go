package sigv4

import (
	"time"

	"github.com/lestrrat-go/option"
)

type Option = option.Interface

// Identifier types for options
type identClock struct{}

func (identClock) String() string { return "WithClock" }

type identSigningTime struct{}

func (identSigningTime) String() string { return "WithSigningTime" }

type identPayloadHash struct{}

func (identPayloadHash) String() string { return "WithPayloadHash" }

type identExpires struct{}

func (identExpires) String() string { return "WithExpires" }

type identClockSkew struct{}

func (identClockSkew) String() string { return "WithClockSkew" }

// SignerOption configures a Signer at construction time.
type SignerOption interface {
	Option
	signerOption()
}

// VerifierOption configures a Verifier at construction time.
type VerifierOption interface {
	Option
	verifierOption()
}

// SignOption configures a single Sign or Presign call.
type SignOption interface {
	Option
	signOption()
}

// SignerVerifierOption is accepted by both NewSigner and NewVerifier.
type SignerVerifierOption interface {
	SignerOption
	VerifierOption
}

type signerVerifierOption struct {
	Option
}

func (signerVerifierOption) signerOption()   {}
func (signerVerifierOption) verifierOption() {}

type signOption struct {
	Option
}

func (signOption) signOption() {}

type verifierOption struct {
	Option
}

func (verifierOption) verifierOption() {}

// WithClock sets the time source used when no explicit signing time is
// given. The default is SystemClock.
func WithClock(clock Clock) SignerVerifierOption {
	return signerVerifierOption{option.New(identClock{}, clock)}
}

// WithSigningTime pins the timestamp for one Sign or Presign call
// instead of reading the clock. Both the long and the short date are
// derived from this single instant.
func WithSigningTime(t time.Time) SignOption {
	return signOption{option.New(identSigningTime{}, t)}
}

// WithPayloadHash supplies a precomputed hex-encoded SHA-256 of the
// request payload for one Sign or Presign call. The value is used
// verbatim, even when empty, and the body is not read. This takes the
// same passthrough path as an X-Amz-Content-Sha256 header already
// present on the request.
func WithPayloadHash(hash string) SignOption {
	return signOption{option.New(identPayloadHash{}, hash)}
}

// WithExpires adds an X-Amz-Expires parameter to a presigned URL,
// limiting how long the URL stays valid. It is ignored by Sign.
func WithExpires(d time.Duration) SignOption {
	return signOption{option.New(identExpires{}, d)}
}

// WithClockSkew sets how far a request timestamp may drift from the
// verifier's clock before Verify rejects it. A negative value disables
// the timestamp check entirely.
func WithClockSkew(d time.Duration) VerifierOption {
	return verifierOption{option.New(identClockSkew{}, d)}
}
