package sigv4

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignAddsQueryParameters(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet,
		"https://examplebucket.s3.amazonaws.com/test.txt", nil)
	require.NoError(t, err)

	presigned, covered, err := testSigner(t).Presign(
		req, WithSigningTime(testSigningTime))
	require.NoError(t, err)

	parsed, err := url.Parse(presigned)
	require.NoError(t, err)
	query := parsed.Query()

	assert.Equal(t, keyAWS4HMACSHA256, query.Get(keyXAmzAlgorithm))
	assert.Equal(t,
		testAccessKey+"/20150830/us-east-1/service/aws4_request",
		query.Get(keyXAmzCredential))
	assert.Equal(t, "20150830T123600Z", query.Get(keyXAmzDate))
	assert.Equal(t, "host", query.Get(keyXAmzSignedHeaders))
	assert.Regexp(t, "^[0-9a-f]{64}$", query.Get(keyXAmzSignature))
	assert.Empty(t, query.Get(keyXAmzExpires))

	assert.Equal(t, "examplebucket.s3.amazonaws.com", covered.Get("Host"))
}

func TestPresignWithExpires(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet,
		"https://examplebucket.s3.amazonaws.com/test.txt", nil)
	require.NoError(t, err)

	presigned, _, err := testSigner(t).Presign(
		req, WithSigningTime(testSigningTime), WithExpires(5*time.Minute))
	require.NoError(t, err)

	parsed, err := url.Parse(presigned)
	require.NoError(t, err)
	assert.Equal(t, "300", parsed.Query().Get(keyXAmzExpires))
}

func TestPresignDoesNotMutateOriginal(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet,
		"https://examplebucket.s3.amazonaws.com/test.txt?a=1", nil)
	require.NoError(t, err)

	_, _, err = testSigner(t).Presign(req, WithSigningTime(testSigningTime))
	require.NoError(t, err)

	assert.Equal(t, "a=1", req.URL.RawQuery)
	assert.Empty(t, req.Header.Get(keyAuthorization))
}

func TestPresignDeterministic(t *testing.T) {
	build := func() *http.Request {
		req, err := http.NewRequest(http.MethodGet,
			"https://examplebucket.s3.amazonaws.com/test.txt", nil)
		require.NoError(t, err)
		return req
	}

	first, _, err := testSigner(t).Presign(build(), WithSigningTime(testSigningTime))
	require.NoError(t, err)
	second, _, err := testSigner(t).Presign(build(), WithSigningTime(testSigningTime))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPresignedURLVerifies(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet,
		"https://examplebucket.s3.amazonaws.com/test.txt?lifecycle=", nil)
	require.NoError(t, err)

	presigned, covered, err := testSigner(t).Presign(
		req, WithSigningTime(testSigningTime))
	require.NoError(t, err)

	received, err := http.NewRequest(http.MethodGet, presigned, nil)
	require.NoError(t, err)
	for name, values := range covered {
		if name == "Host" {
			received.Host = values[0]
			continue
		}
		received.Header[name] = values
	}

	err = testVerifier(t).VerifyAt(received, testSigningTime, 15*time.Minute)
	assert.NoError(t, err)
}
