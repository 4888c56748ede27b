package toml

import "fmt"

const currentSchemaVersion = 1

type profilesFile struct {
	Version  int             `toml:"version"`
	Profiles []profileSchema `toml:"profiles"`
}

type proxiesFile struct {
	Version int           `toml:"version"`
	Proxies []proxySchema `toml:"proxies"`
}

type profileSchema struct {
	Name        string            `toml:"name"`
	UserAgent   string            `toml:"user_agent"`
	Platform    string            `toml:"platform,omitempty"`
	Locale      string            `toml:"locale,omitempty"`
	Width       int               `toml:"width"`
	Height      int               `toml:"height"`
	ClientHints map[string]string `toml:"client_hints,omitempty"`
}

type proxySchema struct {
	URL              string `toml:"url"`
	Username         string `toml:"username,omitempty"`
	Password         string `toml:"password,omitempty"`
	TargetCompatible bool   `toml:"target_compatible"`
}

func validateVersion(kind string, version int) error {
	if version > currentSchemaVersion {
		return fmt.Errorf("unsupported %s schema version %d (current %d)", kind, version, currentSchemaVersion)
	}
	return nil
}

func versionOrDefault(version int) int {
	if version == 0 {
		return currentSchemaVersion
	}
	return version
}
