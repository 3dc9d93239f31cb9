package bookmarks

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxURLLength = 2048

var urlValidator = validator.New()

// NormalizeURL validates rawInput as an absolute URI and returns the form used as the
// per-owner identity key: lower-case scheme and host, default port dropped, empty path
// replaced by "/", fragment removed.
func NormalizeURL(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if len(trimmed) > maxURLLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidURL, maxURLLength)
	}
	if err := urlValidator.Var(trimmed, "url"); err != nil {
		return "", fmt.Errorf("%w: not an absolute uri", ErrInvalidURL)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: missing scheme or host", ErrInvalidURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = normalizeHost(parsed.Scheme, parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	if parsed.Path == "" {
		parsed.Path = "/"
		parsed.RawPath = ""
	}
	return parsed.String(), nil
}

func normalizeHost(scheme, host string) string {
	lowered := strings.ToLower(host)
	hostname, port, err := net.SplitHostPort(lowered)
	if err != nil {
		return lowered
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.Contains(hostname, ":") {
			return "[" + hostname + "]"
		}
		return hostname
	}
	return lowered
}
