package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/clearline/agentvoice/internal/util"
)

// Signaling holds the connection settings for the call server.
type Signaling struct {
	// URL is the websocket endpoint of the signaling server (ws:// or wss://).
	URL string `json:"url"`

	// Token is an optional bearer credential sent as a query parameter.
	Token string `json:"token,omitempty"`
}

// Media holds the WebRTC transport settings.
type Media struct {
	// STUNServers are stun: URLs used for ICE gathering.
	STUNServers []string `json:"stun_servers"`

	// CandidatePool is the pre-gathered ICE candidate pool size.
	CandidatePool int `json:"candidate_pool"`
}

// HTTP holds the local console API settings.
type HTTP struct {
	// Addr is the listen address for the console API (host:port).
	Addr string `json:"addr"`
}

// Paths holds filesystem locations.
type Paths struct {
	// DataDir is where the call history database lives.
	DataDir string `json:"data_dir"`
}

// Config is the root of config.json.
type Config struct {
	Signaling Signaling `json:"signaling"`
	Media     Media     `json:"media"`
	HTTP      HTTP      `json:"http"`
	Paths     Paths     `json:"paths"`
}

// Default returns a fully-initialized config suitable for first run.
func Default() Config {
	return Config{
		Signaling: Signaling{
			URL: "ws://127.0.0.1:8089/ws",
		},
		Media: Media{
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			CandidatePool: 0,
		},
		HTTP: HTTP{
			Addr: "127.0.0.1:8790",
		},
		Paths: Paths{
			DataDir: "data",
		},
	}
}

// Validate checks the config for values that would fail at runtime.
func (c *Config) Validate() error {
	if err := validateSignalingURL(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}

	for _, s := range c.Media.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") {
			return fmt.Errorf("media.stun_servers: %q must start with stun: or turn:", s)
		}
	}
	if c.Media.CandidatePool < 0 || c.Media.CandidatePool > 16 {
		return errors.New("media.candidate_pool must be between 0 and 16")
	}

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr must not be empty")
	}

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must not be empty")
	}

	return nil
}

func validateSignalingURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("must not be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
