package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/sliceview/chunkmanager"
	"github.com/janelia-flyem/sliceview/rpc"
	"github.com/janelia-flyem/sliceview/sliceview"
	"github.com/janelia-flyem/sliceview/sv"
)

const (
	// DefaultWebAddress is the default URL of the sliceview web server
	DefaultWebAddress = "localhost:8000"

	// DefaultRPCAddress is the default RPC address of the sliceview server
	DefaultRPCAddress = rpc.DefaultAddress
)

// Config is the parsed TOML configuration.
type Config struct {
	Server       serverConfig
	Logging      sv.LogConfig
	Prefetch     sliceview.PrefetchConfig
	Chunkmanager chunkmanager.Config
	Volume       map[string]volumeConfig
}

type serverConfig struct {
	HTTPAddress   string   `toml:"httpAddress"`
	RPCAddress    string   `toml:"rpcAddress"`
	CORSDomains   []string `toml:"corsDomains"`
	DebounceMS    int      `toml:"debounce_ms"`
	ShutdownDelay int      `toml:"shutdownDelay"` // seconds
}

type volumeConfig struct {
	Ref string `toml:"ref"` // gocloud blob URL, e.g., gs://bucket/path
}

// DefaultConfig returns the configuration used for any setting not in the TOML file.
func DefaultConfig() *Config {
	return &Config{
		Server: serverConfig{
			HTTPAddress:   DefaultWebAddress,
			RPCAddress:    DefaultRPCAddress,
			ShutdownDelay: 5,
		},
		Prefetch: sliceview.DefaultPrefetchConfig(),
		Volume:   make(map[string]volumeConfig),
	}
}

// LoadConfig reads a TOML configuration file.  Relative log file paths are taken
// relative to the configuration file's directory.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server TOML configuration file provided")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	c, err := DecodeConfig(string(data))
	if err != nil {
		return nil, err
	}
	if c.Logging.Logfile != "" && !filepath.IsAbs(c.Logging.Logfile) {
		c.Logging.Logfile = filepath.Join(filepath.Dir(filename), c.Logging.Logfile)
	}
	return c, nil
}

// DecodeConfig parses TOML configuration text over the defaults.
func DecodeConfig(text string) (*Config, error) {
	c := DefaultConfig()
	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		sv.Warningf("Ignoring unknown TOML configuration keys: %s\n", strings.Join(keys, ", "))
	}
	if err := c.Prefetch.Validate(); err != nil {
		return nil, fmt.Errorf("bad [prefetch] config: %v", err)
	}
	if c.Server.DebounceMS < 0 {
		return nil, fmt.Errorf("debounce_ms must be non-negative, got %d", c.Server.DebounceMS)
	}
	for name, vc := range c.Volume {
		if vc.Ref == "" {
			return nil, fmt.Errorf("volume %q has no ref", name)
		}
	}
	return c, nil
}
