package page

import (
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/crypto/blake2b"
)

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveEmptyPortSeparator

// Normalize reduces rawURL to origin + path. Query string and fragment are
// dropped so that every view of the same logical page shares one identity.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("page: url %q is not absolute", rawURL)
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	return purell.NormalizeURL(u, normalizeFlags), nil
}

// Hash is the page identity: hex BLAKE2b-256 of the normalized URL.
func Hash(rawURL string) (string, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}
