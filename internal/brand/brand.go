// Package brand holds the product name and default filesystem layout.
//
// Values come from brand.json, embedded at compile time so packaging
// scripts read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand is the decoded brand.json.
type Brand struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Description      string `json:"description"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultStateDir  string `json:"defaultStateDir"`
	DefaultRunDir    string `json:"defaultRunDir"`
	BinaryName       string `json:"binaryName"`
	ConfigFileName   string `json:"configFileName"`
	StateFileName    string `json:"stateFileName"`
}

var b = mustParse(brandJSON)

var (
	Name             = b.Name
	LowerName        = b.LowerName
	Description      = b.Description
	ConfigEnvPrefix  = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultStateDir  = b.DefaultStateDir
	DefaultRunDir    = b.DefaultRunDir
	BinaryName       = b.BinaryName
	ConfigFileName   = b.ConfigFileName
	StateFileName    = b.StateFileName

	// Set at build time via -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
)

func mustParse(data []byte) Brand {
	var out Brand
	if err := json.Unmarshal(data, &out); err != nil {
		panic("brand.json: " + err.Error())
	}
	return out
}

// Get returns the full Brand.
func Get() Brand {
	return b
}

// dir resolves a directory from <PREFIX>_<kind>_DIR, then <PREFIX>_PREFIX/sub,
// then def.
func dir(kind, sub, def string) string {
	if d := os.Getenv(ConfigEnvPrefix + "_" + kind + "_DIR"); d != "" {
		return d
	}
	if p := os.Getenv(ConfigEnvPrefix + "_PREFIX"); p != "" {
		return filepath.Join(p, sub)
	}
	return def
}

// GetStateDir returns the directory holding the state database.
func GetStateDir() string { return dir("STATE", "state", DefaultStateDir) }

// GetConfigDir returns the directory holding the HCL config.
func GetConfigDir() string { return dir("CONFIG", "config", DefaultConfigDir) }

// GetRunDir returns the directory holding the daemon PID file.
func GetRunDir() string { return dir("RUN", "run", DefaultRunDir) }

// DefaultConfigPath is the config file used when -config is not given.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// DefaultStatePath is the SQLite database holding persisted intent.
func DefaultStatePath() string {
	return filepath.Join(GetStateDir(), StateFileName)
}

// PIDPath is where the daemon records its PID.
func PIDPath() string {
	return filepath.Join(GetRunDir(), LowerName+".pid")
}
