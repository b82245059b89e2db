package validate

import "testing"

func TestNonceRoundTrip(t *testing.T) {
	n := CreateNonce("secret", "8.8.8.8")
	if len(n) != 10 {
		t.Fatalf("unexpected nonce length: %d", len(n))
	}
	if !VerifyNonce("secret", "8.8.8.8", n) {
		t.Error("freshly minted nonce must verify")
	}
	if VerifyNonce("secret", "1.2.3.4", n) {
		t.Error("nonce is bound to the IP")
	}
	if VerifyNonce("other", "8.8.8.8", n) {
		t.Error("nonce is bound to the key")
	}
	if VerifyNonce("secret", "8.8.8.8", "") {
		t.Error("empty nonce must fail")
	}
	if VerifyNonce("", "8.8.8.8", n) {
		t.Error("empty key must fail")
	}
}
