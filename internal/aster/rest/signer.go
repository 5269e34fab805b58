package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// sign returns the hex HMAC-SHA256 of query under secret. The venue
// verifies the signature against the exact byte sequence it receives,
// so callers must pass the final encoded query string.
func sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedQuery encodes params sorted by key, signs the result, and
// appends the signature as the last parameter. The venue requires the
// signature parameter to terminate the query.
func signedQuery(params url.Values, secret string) string {
	encoded := params.Encode()
	return encoded + "&signature=" + sign(secret, encoded)
}
