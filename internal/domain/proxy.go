package domain

import (
	"fmt"
	"net/url"
	"strings"
)

type ProxyDescriptor struct {
	URL              string
	Username         string
	Password         string
	TargetCompatible bool
}

func (p ProxyDescriptor) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("proxy url is required")
	}
	parsed, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("proxy host is required")
	}
	return nil
}

// Redacted returns the proxy URL without credentials, for logs.
func (p ProxyDescriptor) Redacted() string {
	parsed, err := url.Parse(p.URL)
	if err != nil {
		return "invalid"
	}
	parsed.User = nil
	return parsed.String()
}
