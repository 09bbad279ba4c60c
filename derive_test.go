package sigv4

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSigningKeyReferenceVector(t *testing.T) {
	// Published AWS key-derivation example: the suite secret, date
	// 20150830, region us-east-1, service iam.
	key := deriveSigningKey([]byte(testSecretKey), "20150830", "us-east-1", "iam")

	assert.Equal(t,
		"c4afb1cc5771d871763a393e44b703571b55cc28424d1a5e86da6ed3c154a4b9",
		hex.EncodeToString(key))
	assert.Len(t, key, 32)
}

func TestDeriveSigningKeySensitivity(t *testing.T) {
	base := deriveSigningKey([]byte(testSecretKey), "20150830", "us-east-1", "iam")

	variants := [][]byte{
		deriveSigningKey([]byte("other-secret"), "20150830", "us-east-1", "iam"),
		deriveSigningKey([]byte(testSecretKey), "20150831", "us-east-1", "iam"),
		deriveSigningKey([]byte(testSecretKey), "20150830", "eu-west-1", "iam"),
		deriveSigningKey([]byte(testSecretKey), "20150830", "us-east-1", "s3"),
	}

	for i, variant := range variants {
		assert.NotEqual(t, base, variant, "variant %d should differ", i)
	}
}
