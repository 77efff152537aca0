// Package setup registers the CDSS MCP server with desktop MCP clients and
// reports whether a local installation is ready to serve.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ServerName is the key the server is registered under in client configs.
const ServerName = "cdss"

// DataDirEnv names the data directory for the standalone server.
const DataDirEnv = "CDSS_DATA_DIR"

// ClientConfig is the subset of a desktop client configuration file we touch.
// Unknown top-level keys are preserved.
type ClientConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
	extra      map[string]json.RawMessage
}

// MCPServerConfig is one server entry.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options controls registration.
type Options struct {
	// ServerType is "lite" for the standalone binary or "full" for `cdss mcp`.
	ServerType string
	BinaryPath string
	DataDir    string
	CorpusPath string
	AliasPath  string
	// ConfigPath overrides the client configuration location.
	ConfigPath string
}

// DefaultConfigPath returns the desktop client configuration path for this OS.
func DefaultConfigPath() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
	return filepath.Join(dir, "claude_desktop_config.json"), nil
}

func (o Options) configPath() (string, error) {
	if o.ConfigPath != "" {
		return o.ConfigPath, nil
	}
	return DefaultConfigPath()
}

// LoadClientConfig reads path. A missing file yields an empty configuration.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{MCPServers: map[string]MCPServerConfig{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if servers, ok := raw["mcpServers"]; ok {
		if err := json.Unmarshal(servers, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(raw, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]MCPServerConfig{}
	}
	cfg.extra = raw
	return cfg, nil
}

// SaveClientConfig writes cfg to path, creating the directory.
func SaveClientConfig(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]interface{}, len(cfg.extra)+1)
	for k, v := range cfg.extra {
		out[k] = v
	}
	out["mcpServers"] = cfg.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Entry builds the server entry for opts without touching the filesystem.
func Entry(opts Options, binaryPath string) MCPServerConfig {
	entry := MCPServerConfig{Command: binaryPath, Env: map[string]string{}}
	if opts.ServerType == "full" {
		entry.Args = []string{"mcp"}
	}
	if opts.DataDir != "" {
		entry.Env[DataDirEnv] = opts.DataDir
	}
	if opts.CorpusPath != "" {
		entry.Env["CDSS_CORPUS_PATH"] = opts.CorpusPath
	}
	if opts.AliasPath != "" {
		entry.Env["CDSS_ALIAS_PATH"] = opts.AliasPath
	}
	if len(entry.Env) == 0 {
		entry.Env = nil
	}
	return entry
}

// Configure adds or replaces the server entry in the client configuration and
// returns the path it wrote.
func Configure(opts Options) (string, error) {
	path, err := opts.configPath()
	if err != nil {
		return "", err
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		return "", err
	}

	binary := opts.BinaryPath
	if binary == "" {
		if binary, err = findBinary(opts.ServerType); err != nil {
			return "", fmt.Errorf("could not find server binary: %w", err)
		}
	}

	cfg.MCPServers[ServerName] = Entry(opts, binary)
	return path, SaveClientConfig(path, cfg)
}

// Remove deletes the server entry. It reports whether an entry existed.
func Remove(opts Options) (bool, error) {
	path, err := opts.configPath()
	if err != nil {
		return false, err
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		return false, err
	}
	if _, ok := cfg.MCPServers[ServerName]; !ok {
		return false, nil
	}
	delete(cfg.MCPServers, ServerName)
	return true, SaveClientConfig(path, cfg)
}

func binaryName(serverType string) string {
	if serverType == "full" {
		return "cdss"
	}
	return "cdss-mcp"
}

func findBinary(serverType string) (string, error) {
	name := binaryName(serverType)
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./" + name,
		"./build/" + name,
		filepath.Join(home, ".local", "bin", name),
		"/usr/local/bin/" + name,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}
	return "", fmt.Errorf("binary %q not found in common locations", name)
}

// Status describes the current installation.
type Status struct {
	ConfigPath     string   `json:"config_path"`
	Configured     bool     `json:"configured"`
	ServerPath     string   `json:"server_path,omitempty"`
	DataDir        string   `json:"data_dir"`
	RegistryExists bool     `json:"registry_exists"`
	Issues         []string `json:"issues"`
	Warnings       []string `json:"warnings"`
}

// Ready reports whether no blocking issue was found.
func (s *Status) Ready() bool { return len(s.Issues) == 0 }

// GetStatus inspects the client configuration and the data directory.
func GetStatus(opts Options) *Status {
	st := &Status{Issues: []string{}, Warnings: []string{}, DataDir: opts.DataDir}

	path, err := opts.configPath()
	if err != nil {
		st.Issues = append(st.Issues, fmt.Sprintf("Could not determine client config path: %v", err))
	} else {
		st.ConfigPath = path
		cfg, err := LoadClientConfig(path)
		switch {
		case err != nil:
			st.Issues = append(st.Issues, fmt.Sprintf("Could not load client config: %v", err))
		default:
			entry, ok := cfg.MCPServers[ServerName]
			if !ok {
				st.Issues = append(st.Issues, "CDSS server is not registered with the client")
				break
			}
			st.Configured = true
			st.ServerPath = entry.Command
			if info, err := os.Stat(entry.Command); err != nil {
				st.Issues = append(st.Issues, fmt.Sprintf("Server binary not found: %s", entry.Command))
			} else if info.Mode()&0111 == 0 {
				st.Issues = append(st.Issues, fmt.Sprintf("Server binary is not executable: %s", entry.Command))
			}
			if dir := entry.Env[DataDirEnv]; dir != "" && st.DataDir == "" {
				st.DataDir = dir
			}
		}
	}

	if st.DataDir == "" {
		st.DataDir = DefaultDataDir()
	}
	if _, err := os.Stat(st.DataDir); os.IsNotExist(err) {
		st.Warnings = append(st.Warnings, fmt.Sprintf("Data directory will be created on first run: %s", st.DataDir))
	}
	if _, err := os.Stat(filepath.Join(st.DataDir, "artifacts.db")); err == nil {
		st.RegistryExists = true
	} else {
		st.Warnings = append(st.Warnings, "No artifact registry yet; train a model before assessing risk")
	}
	return st
}

// DefaultDataDir returns ~/.cdss.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cdss")
}
