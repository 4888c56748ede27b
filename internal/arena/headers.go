package arena

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

const base64CookiePrefix = "base64-"

// RewriteHeaders copies the page's headers, drops values invalidated by the new body and attaches
// the stored credential.
func RewriteHeaders(original http.Header, credential string) http.Header {
	headers := original.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Del("Content-Length")
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "text/plain;charset=UTF-8")
	}
	if credential != "" {
		headers.Set("Authorization", "Bearer "+credential)
	}
	return headers
}

// ExtractCredential finds the access token stored under key. Stored values may be the bare token,
// a JSON session object, or such an object base64-encoded behind a "base64-" prefix.
func ExtractCredential(stored map[string]string, key string) string {
	raw := strings.TrimSpace(stored[key])
	if raw == "" {
		return ""
	}

	decoded := raw
	if strings.HasPrefix(raw, base64CookiePrefix) {
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, base64CookiePrefix))
		if err != nil {
			data, err = base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, base64CookiePrefix))
		}
		if err != nil {
			return ""
		}
		decoded = string(data)
	}

	if strings.HasPrefix(decoded, "{") {
		var session struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal([]byte(decoded), &session); err != nil {
			return ""
		}
		return session.AccessToken
	}

	return decoded
}

// MatchesEndpoint reports whether url targets the evaluation endpoint described by pattern.
func MatchesEndpoint(url, pattern string) bool {
	return pattern != "" && strings.Contains(url, pattern)
}

// IsAuthRejection reports whether status means the service refused the caller's credentials.
func IsAuthRejection(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
