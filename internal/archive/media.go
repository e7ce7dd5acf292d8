package archive

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUntrustedMediaURL is returned for a recording URL that is not served by Vonage.
// The application JWT must never be sent to such a host.
var ErrUntrustedMediaURL = errors.New("untrusted media url")

var (
	mediaHosts        = []string{"api.nexmo.com"}
	mediaHostSuffixes = []string{".vonage.com", ".nexmo.com"}
)

// CheckMediaURL accepts only https URLs on a Vonage media host.
func CheckMediaURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedMediaURL, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUntrustedMediaURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: userinfo not allowed", ErrUntrustedMediaURL)
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range mediaHosts {
		if host == h {
			return nil
		}
	}
	for _, s := range mediaHostSuffixes {
		if strings.HasSuffix(host, s) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q", ErrUntrustedMediaURL, host)
}
