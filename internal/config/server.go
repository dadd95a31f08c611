package config

import (
	"os"
	"path/filepath"
)

// ServerConfig locates on-disk state and the two HTTP listeners spec §6
// describes: the MCP server itself and its dashboard.
type ServerConfig struct {
	DataDir       string `yaml:"data_dir"`
	HTTPHost      string `yaml:"http_host"`
	HTTPPort      int    `yaml:"http_port"`
	DashboardPort int    `yaml:"dashboard_port"`
}

// DefaultServerConfig returns spec §6's defaults: user-home/.mcptools/data,
// 127.0.0.1:4269 for the MCP server, 4270 for the dashboard.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		DataDir:       defaultDataDir(),
		HTTPHost:      "127.0.0.1",
		HTTPPort:      4269,
		DashboardPort: 4270,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcptools/data"
	}
	return filepath.Join(home, ".mcptools", "data")
}

// DBPath returns the path to the embedded store's database file under DataDir.
func (s ServerConfig) DBPath() string {
	return filepath.Join(s.DataDir, "zmcp.db")
}
