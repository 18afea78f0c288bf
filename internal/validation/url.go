// Package validation checks URLs before they reach the browser launcher or
// the HTTP client.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL validates URLs handed to the system browser launcher. It
// rejects anything a shell or protocol handler could interpret.
func ValidateURL(rawURL string) error {
	if _, err := ValidateBaseURL(rawURL); err != nil {
		return err
	}

	dangerous := []string{";", "&", "|", "`", "$", "(", ")", "<", ">", "\"", "'", "\\", "\n", "\r"}
	for _, char := range dangerous {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("URL contains dangerous character: %s", char)
		}
	}

	if strings.Contains(rawURL, " ") {
		return fmt.Errorf("URL contains spaces")
	}

	return nil
}

// ValidateBaseURL checks that rawURL is an absolute http(s) URL with a host
// and no credentials, as required for the project API base URL.
func ValidateBaseURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL scheme: %q (only http/https allowed)", parsed.Scheme)
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("URL must have a valid hostname")
	}

	if parsed.User != nil {
		return nil, fmt.Errorf("URL must not carry credentials")
	}

	return parsed, nil
}
