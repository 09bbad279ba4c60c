package sigv4

import (
	"github.com/palantir/stacktrace"
)

// Credentials is the tuple a Signer proves possession of. It is supplied
// by the caller's credential-management layer and never persisted here.
type Credentials struct {
	// AccessKey identifies the key pair. It appears in cleartext in the
	// Credential parameter of the Authorization header.
	AccessKey string

	// SecretKey is the signing secret. It never appears on the wire and
	// is never included in error messages. It is held as a byte slice so
	// the caller can wipe it with Zero when done.
	SecretKey []byte

	// Region the request is sent to.
	Region string

	// Service being accessed.
	Service string
}

// NewCredentials builds a Credentials tuple from string values.
func NewCredentials(accessKey, secretKey, region, service string) Credentials {
	return Credentials{
		AccessKey: accessKey,
		SecretKey: []byte(secretKey),
		Region:    region,
		Service:   service,
	}
}

// Validate returns an error if any element of the tuple is empty.
func (c Credentials) Validate() error {
	switch {
	case c.AccessKey == "":
		return stacktrace.NewError("Invalid credentials: access key is empty")
	case len(c.SecretKey) == 0:
		return stacktrace.NewError("Invalid credentials: secret key is empty")
	case c.Region == "":
		return stacktrace.NewError("Invalid credentials: region is empty")
	case c.Service == "":
		return stacktrace.NewError("Invalid credentials: service is empty")
	}
	return nil
}

// Scope returns the credential scope for the given short date:
// date/region/service/aws4_request.
func (c Credentials) Scope(shortDate string) string {
	return shortDate + "/" + c.Region + "/" + c.Service + "/" + keyAWS4Request
}

// Zero overwrites the secret key material. The Credentials value must
// not be used for signing afterwards.
func (c *Credentials) Zero() {
	for i := range c.SecretKey {
		c.SecretKey[i] = 0
	}
	c.SecretKey = nil
}

// String renders the credentials with the secret redacted, so a
// Credentials value cannot leak the secret through %v or %s verbs.
func (c Credentials) String() string {
	return "Credentials{AccessKey: " + c.AccessKey +
		", SecretKey: <redacted>, Region: " + c.Region +
		", Service: " + c.Service + "}"
}
