package domain

import (
	"fmt"
	"strings"
)

type Viewport struct {
	Width  int
	Height int
}

// IdentityProfile is one browser fingerprint the host can present.
type IdentityProfile struct {
	Name        string
	UserAgent   string
	Platform    string
	Locale      string
	Viewport    Viewport
	ClientHints map[string]string
}

func (p IdentityProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if strings.TrimSpace(p.UserAgent) == "" {
		return fmt.Errorf("profile %q: user agent is required", p.Name)
	}
	if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 {
		return fmt.Errorf("profile %q: viewport must be positive", p.Name)
	}
	return nil
}

func DefaultIdentityProfiles() []IdentityProfile {
	return []IdentityProfile{
		{
			Name:      "chrome-windows",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			Platform:  "Windows",
			Locale:    "en-US",
			Viewport:  Viewport{Width: 1920, Height: 1080},
			ClientHints: map[string]string{
				"sec-ch-ua":          `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
				"sec-ch-ua-platform": `"Windows"`,
				"sec-ch-ua-mobile":   "?0",
			},
		},
		{
			Name:      "chrome-macos",
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
			Platform:  "macOS",
			Locale:    "en-US",
			Viewport:  Viewport{Width: 1440, Height: 900},
			ClientHints: map[string]string{
				"sec-ch-ua":          `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`,
				"sec-ch-ua-platform": `"macOS"`,
				"sec-ch-ua-mobile":   "?0",
			},
		},
		{
			Name:      "edge-windows",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
			Platform:  "Windows",
			Locale:    "en-GB",
			Viewport:  Viewport{Width: 1536, Height: 864},
			ClientHints: map[string]string{
				"sec-ch-ua":          `"Microsoft Edge";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
				"sec-ch-ua-platform": `"Windows"`,
				"sec-ch-ua-mobile":   "?0",
			},
		},
	}
}
