// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config

import (
	"os"
	"path/filepath"
)

// Environment variables read by envctl.
const (
	ConfigEnvKey        = "ENVCTL_CONFIG"
	StateDirEnvKey      = "ENVCTL_STATE_DIR"
	LoggingConfigEnvKey = "ENVCTL_LOGGING_CONFIG"
	SubscriptionEnvKey  = "AZURE_SUBSCRIPTION_ID"
)

// DefaultConfigFile is read from the working directory when neither
// --config nor $ENVCTL_CONFIG name a file.
const DefaultConfigFile = "envctl.yaml"

// Path returns the configuration file to read. An explicit flag value
// wins over the environment.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(ConfigEnvKey); path != "" {
		return path
	}
	return DefaultConfigFile
}

// StateDirPath returns the directory holding the deployment records,
// cleanup schedules and cost reports of the project. It is a directory
// named after the project, under $ENVCTL_STATE_DIR, the configured
// state-dir or $XDG_DATA_HOME/envctl, in that order.
func (c *Config) StateDirPath() string {
	return filepath.Join(c.stateRoot(), c.Project)
}

func (c *Config) stateRoot() string {
	if dir := os.Getenv(StateDirEnvKey); dir != "" {
		return dir
	}
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(dataHome(), "envctl")
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}
