package sigv4

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/palantir/stacktrace"
)

// ChecksumError reports that the payload hash for a request could not be
// computed: the body is not rewindable, or hashing failed partway
// through. It is fatal to the sign operation; no retry happens here.
type ChecksumError struct {
	// Algorithm is the name of the hash algorithm that was being applied.
	Algorithm string

	// Cause is the underlying I/O failure, if there was one.
	Cause error
}

func (e *ChecksumError) Error() string {
	msg := "Failed to construct " + e.Algorithm + " checksum of request body"
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ChecksumError) Unwrap() error {
	return e.Cause
}

// IsChecksumError reports whether err is, wraps, or was propagated from
// a ChecksumError.
func IsChecksumError(err error) bool {
	var cerr *ChecksumError
	if errors.As(err, &cerr) {
		return true
	}
	_, ok := stacktrace.RootCause(err).(*ChecksumError)
	return ok
}

// resolvePayloadHash determines the hex-encoded SHA-256 payload hash for
// the request being signed.
//
// A pre-supplied X-Amz-Content-Sha256 header wins and is used verbatim,
// with no validation of its shape; servers that verify payloads check it
// themselves. Otherwise the body is hashed from position zero and the
// stream is left positioned exactly where the caller had it, since the
// transport still has to send the same bytes.
func resolvePayloadHash(pr *parsedRequest) (string, error) {
	if supplied := pr.header.Get(keyXAmzContentSha256); supplied != "" {
		return supplied, nil
	}

	if pr.body == nil || pr.body == http.NoBody {
		return sha256Empty, nil
	}

	if seeker, ok := pr.body.(io.Seeker); ok {
		return hashSeekableBody(pr.body, seeker)
	}

	// The body itself cannot be rewound, but a GetBody factory yields a
	// fresh copy of the same bytes without disturbing the original.
	if pr.getBody != nil {
		return hashBodyCopy(pr.getBody)
	}

	return "", &ChecksumError{Algorithm: sha256Name}
}

func hashSeekableBody(body io.Reader, seeker io.Seeker) (string, error) {
	position, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", &ChecksumError{Algorithm: sha256Name, Cause: err}
	}

	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return "", &ChecksumError{Algorithm: sha256Name, Cause: err}
	}

	digest := sha256.New()
	if _, err := io.Copy(digest, body); err != nil {
		// Best effort restore; the hash failure is what gets reported.
		_, _ = seeker.Seek(position, io.SeekStart)
		return "", &ChecksumError{Algorithm: sha256Name, Cause: err}
	}

	if _, err := seeker.Seek(position, io.SeekStart); err != nil {
		return "", &ChecksumError{Algorithm: sha256Name, Cause: err}
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

func hashBodyCopy(getBody func() (io.ReadCloser, error)) (string, error) {
	body, err := getBody()
	if err != nil {
		return "", &ChecksumError{Algorithm: sha256Name, Cause: err}
	}
	defer body.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, body); err != nil {
		return "", &ChecksumError{Algorithm: sha256Name, Cause: err}
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}
