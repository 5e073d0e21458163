package paymentgateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "verif-hash"

// Sign returns the hex HMAC-SHA256 of the compacted JSON body. Whitespace
// differences between sender and receiver do not change the signature.
func Sign(secret string, raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(buf.Bytes())
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func VerifySignature(secret string, raw []byte, signature string) (bool, error) {
	expected, err := Sign(secret, raw)
	if err != nil {
		return false, err
	}
	given := strings.ToLower(strings.TrimSpace(signature))
	return hmac.Equal([]byte(expected), []byte(given)), nil
}
