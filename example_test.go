package sigv4_test

import (
	"fmt"
	"net/http"
	"time"

	sigv4 "github.com/duzhenlin/ksc-sigv4"
)

func ExampleSigner_Sign() {
	credentials := sigv4.NewCredentials(
		"AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		"us-east-1", "service")

	signer, err := sigv4.NewSigner(credentials)
	if err != nil {
		panic(err)
	}

	req, err := http.NewRequest(http.MethodGet, "https://example.amazonaws.com/", nil)
	if err != nil {
		panic(err)
	}

	signingTime := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)
	signed, err := signer.Sign(req, sigv4.WithSigningTime(signingTime))
	if err != nil {
		panic(err)
	}

	fmt.Println(signed.Header.Get("X-Amz-Date"))
	fmt.Println(signed.Header.Get("Authorization"))
	// Output:
	// 20150830T123600Z
	// AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20150830/us-east-1/service/aws4_request, SignedHeaders=host;x-amz-date, Signature=5fa00fa31553b73ebf1942676e86291e8372ff2a2260956d9b8aae1d763fbf31
}
