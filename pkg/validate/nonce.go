package validate

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// NonceQueryKey is the request parameter (or X- header without the prefix)
// that carries the zero-day exploit prevention token.
const NonceQueryKey = "geoblock-auth-nonce"

// nonceTick is the token rotation period. A token stays valid through the
// tick it was minted in plus the following one, so a form rendered just
// before rotation still submits.
const nonceTick = 12 * time.Hour

func nonceAt(key, ip string, tick int64) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(ip))
	mac.Write([]byte{'|'})
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(tick >> (8 * i))
	}
	mac.Write(buf[:])
	return hex.EncodeToString(mac.Sum(nil))[:10]
}

// CreateNonce mints the current token for an IP.
func CreateNonce(key, ip string) string {
	return nonceAt(key, ip, time.Now().Unix()/int64(nonceTick/time.Second))
}

// VerifyNonce checks a token against the current and previous tick.
func VerifyNonce(key, ip, nonce string) bool {
	if key == "" || nonce == "" {
		return false
	}
	tick := time.Now().Unix() / int64(nonceTick/time.Second)
	for _, t := range []int64{tick, tick - 1} {
		if subtle.ConstantTimeCompare([]byte(nonceAt(key, ip, t)), []byte(nonce)) == 1 {
			return true
		}
	}
	return false
}
