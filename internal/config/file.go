package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the optional on-disk configuration format, letting an
// operator check a broker URL and topology into version control instead
// of repeating CLI flags. CLI flags, where given, always win over values
// loaded from file.
type FileConfig struct {
	BrokerURL       string `toml:"broker_url"`
	NServers        int    `toml:"n_servers"`
	Threshold       int    `toml:"threshold"`
	HTTPBindAddr    string `toml:"http_bind_addr"`
	MetricsBindAddr string `toml:"metrics_bind_addr"`
	FreshnessWindow string `toml:"freshness_window"`
	CollectTimeout  string `toml:"collect_timeout"`
}

// LoadFile parses a FileConfig from path.
func LoadFile(path string) (*FileConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &fc, nil
}

// ParseDuration parses a duration string from a FileConfig field, falling
// back to def when s is empty.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	return d, nil
}
