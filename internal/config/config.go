package config

import (
	"encoding/json"
	"fmt"
	"os"
)

func NewConfig() *Config {
	return &Config{}
}

// Read loads the JSON config at path into c.
func (c *Config) Read(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
