package sharing

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// SharePathPrefix is the gateway path under which share links resolve.
const SharePathPrefix = "/fula/share/"

// BuildSecretLink encodes a share token as a URL. The server-visible part
// carries only the opaque share ID; all key material lives in the fragment,
// which browsers never send on the wire. Callers must blank the fragment
// before any telemetry emission.
func BuildSecretLink(token *ShareToken, gatewayURL string) (string, error) {
	body, err := token.Marshal()
	if err != nil {
		return "", err
	}
	gw := strings.TrimRight(gatewayURL, "/")
	return gw + SharePathPrefix + token.ShareIDHex() + "#" + base64.RawURLEncoding.EncodeToString(body), nil
}

// ParseSecretLink reverses BuildSecretLink and checks that the path's share
// ID matches the token inside the fragment.
func ParseSecretLink(url string) (*ShareToken, error) {
	hashIdx := strings.Index(url, "#")
	if hashIdx < 0 {
		return nil, fmt.Errorf("%w: no fragment", ErrMalformedLink)
	}
	base, fragment := url[:hashIdx], url[hashIdx+1:]

	prefixIdx := strings.Index(base, SharePathPrefix)
	if prefixIdx < 0 {
		return nil, fmt.Errorf("%w: missing share path", ErrMalformedLink)
	}
	idHex := base[prefixIdx+len(SharePathPrefix):]

	body, err := base64.RawURLEncoding.DecodeString(fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: fragment encoding", ErrMalformedLink)
	}
	token, err := TokenFromBytes(body)
	if err != nil {
		return nil, err
	}
	if token.ShareIDHex() != idHex {
		return nil, fmt.Errorf("%w: share id mismatch", ErrMalformedLink)
	}
	return token, nil
}

// ExtractShareID returns the opaque share ID of a secret link without
// touching the fragment. Safe for request routing and logging.
func ExtractShareID(url string) (string, error) {
	base := url
	if hashIdx := strings.Index(url, "#"); hashIdx >= 0 {
		base = url[:hashIdx]
	}
	prefixIdx := strings.Index(base, SharePathPrefix)
	if prefixIdx < 0 {
		return "", fmt.Errorf("%w: missing share path", ErrMalformedLink)
	}
	return base[prefixIdx+len(SharePathPrefix):], nil
}
