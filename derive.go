package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
)

// hmacSHA256 computes HMAC-SHA256 of data under key.
func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// deriveSigningKey runs the SigV4 key derivation chain:
//
//	kDate    = HMAC("AWS4" + secret, shortDate)
//	kRegion  = HMAC(kDate, region)
//	kService = HMAC(kRegion, service)
//	kSigning = HMAC(kService, "aws4_request")
//
// Every intermediate stage is raw binary; only the final signature HMAC
// is hex-encoded. The key is re-derived on every sign call rather than
// cached, keeping each call free of shared state.
func deriveSigningKey(secret []byte, shortDate, region, service string) []byte {
	kDate := hmacSHA256(append([]byte(keyAWS4), secret...), []byte(shortDate))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(keyAWS4Request))
}
