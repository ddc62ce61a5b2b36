/*
Copyright © 2025 AWEAR Health
*/
package cmd

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

const blacklistKey = "blacklisted_ports"

// viperSkipStore persists permanently blacklisted ports in the CLI's
// viper config file, so hardware the firmware can never run on is not
// re-probed on every start. Saves arrive from concurrent probe
// goroutines and viper is not goroutine-safe, so they are serialized.
type viperSkipStore struct {
	mu sync.Mutex
}

func (s *viperSkipStore) Load() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return viper.GetStringSlice(blacklistKey), nil
}

func (s *viperSkipStore) Save(ports []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	viper.Set(blacklistKey, ports)

	if viper.ConfigFileUsed() != "" {
		return viper.WriteConfig()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	return viper.WriteConfigAs(filepath.Join(home, ".awear-link.yaml"))
}
