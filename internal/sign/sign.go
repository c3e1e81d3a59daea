package sign

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMissingToken signals that the session cookies carry no _m_h5_tk token.
// Callers use it to distinguish "need fresh cookies" from transport errors.
var ErrMissingToken = errors.New("missing _m_h5_tk cookie token")

// TokenCookie is the cookie the platform stores its request-signing token in.
const TokenCookie = "_m_h5_tk"

// Sign computes the request signature the platform's h5 endpoints expect:
// the lowercase hex MD5 of "token&timestamp&appKey&data".
//
// The concatenation order and the "&" separator are a frozen wire contract;
// the server recomputes the same digest and rejects any mismatch.
func Sign(token, timestampMillis, appKey, data string) string {
	sum := md5.Sum([]byte(token + "&" + timestampMillis + "&" + appKey + "&" + data))
	return strings.ToLower(hex.EncodeToString(sum[:]))
}

// TokenFromCookie extracts the signing token from a raw _m_h5_tk cookie
// value. The cookie is "token_timestamp"; only the part before the first
// underscore participates in the signature.
func TokenFromCookie(value string) (string, error) {
	if value == "" {
		return "", ErrMissingToken
	}
	if i := strings.Index(value, "_"); i >= 0 {
		return value[:i], nil
	}
	return value, nil
}

// TokenFromCookieSet finds the _m_h5_tk cookie in a name->value set and
// extracts the token from it.
func TokenFromCookieSet(cookies map[string]string) (string, error) {
	raw, ok := cookies[TokenCookie]
	if !ok {
		return "", ErrMissingToken
	}
	return TokenFromCookie(raw)
}
