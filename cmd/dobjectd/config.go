package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// fileConfig is the shape of the TOML config file dobjectd loads before
// flags are applied on top of it (SPEC_FULL.md §10.3).
type fileConfig struct {
	Peer struct {
		Name        string `toml:"name"`
		Initiator   bool   `toml:"initiator"`
		WatchLabel  string `toml:"watch_label"`
	} `toml:"peer"`

	Transport struct {
		Kind string `toml:"kind"` // "nats", "ws", or "loopback"
		NATS struct {
			URL   string `toml:"url"`
			Group string `toml:"group"`
		} `toml:"nats"`
		WS struct {
			HubURL string `toml:"hub_url"`
			Listen string `toml:"listen"`
		} `toml:"ws"`
	} `toml:"transport"`

	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("dobjectd: failed decoding config %s: %w", path, err)
	}
	return cfg, nil
}
