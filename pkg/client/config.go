package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/ipk24chat/pkg/protocol"
	"github.com/aeolun/ipk24chat/pkg/transport"
)

// Config represents the structure of the client config file
type Config struct {
	Connection ConnectionSection `toml:"connection"`
	Local      LocalSection      `toml:"local"`
	UI         UISection         `toml:"ui"`
	Log        LogSection        `toml:"log"`
	Metrics    MetricsSection    `toml:"metrics"`
}

type ConnectionSection struct {
	Transport    string `toml:"transport"` // tcp, udp, ws; empty uses connection history, then tcp
	Server       string `toml:"server"`
	Port         int    `toml:"port"`
	UDPTimeoutMS int    `toml:"udp_timeout_ms"`
	UDPRetries   int    `toml:"udp_retries"`
	WSPath       string `toml:"ws_path"`
	SSHJump      string `toml:"ssh_jump"`
	SSHInsecure  bool   `toml:"ssh_insecure"`
}

type LocalSection struct {
	DisplayName string `toml:"display_name"`
	StateDB     string `toml:"state_db"` // empty disables the local store
}

type UISection struct {
	Notifications bool `toml:"notifications"`
	Color         bool `toml:"color"`
}

type LogSection struct {
	Verbose bool   `toml:"verbose"`
	File    string `toml:"file"`
}

type MetricsSection struct {
	Listen string `toml:"listen"` // e.g. "127.0.0.1:9464"; empty disables the endpoint
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Path, e.Message, e.LineNumber)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func getXDGConfigHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

func getXDGDataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share")
}

// DefaultConfigPath is where LoadConfig looks when no --config flag is given.
func DefaultConfigPath() string {
	return filepath.Join(getXDGConfigHome(), "ipk24chat", "config.toml")
}

// DefaultStatePath is the state database location suggested by a generated config file.
func DefaultStatePath() string {
	return filepath.Join(getXDGDataHome(), "ipk24chat", "state.db")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Connection: ConnectionSection{
			Port:         transport.DefaultPort,
			UDPTimeoutMS: int(transport.DefaultTimeout / time.Millisecond),
			UDPRetries:   transport.DefaultRetries,
			WSPath:       "/",
		},
		Local: LocalSection{
			DisplayName: DefaultDisplayName,
		},
		UI: UISection{
			Color: true,
		},
	}
}

// LoadConfig reads path on top of the defaults. A missing file is not an
// error: the defaults are returned unchanged.
func LoadConfig(path string) (Config, error) {
	path, err := expandHome(path)
	if err != nil {
		return Config{}, err
	}

	config := DefaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config, nil
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, &ConfigError{
			Path:       path,
			Message:    cleanErrorMessage(err.Error()),
			LineNumber: extractLineNumber(err),
		}
	}

	if err := validateConfig(&config); err != nil {
		return Config{}, &ConfigError{Path: path, Message: err.Error()}
	}

	return config, nil
}

// Validate checks values that may have come from flags rather than the file.
func (c *Config) Validate() error {
	return validateConfig(c)
}

// UDPTimeout returns the confirmation timeout as a duration.
func (c *Config) UDPTimeout() time.Duration {
	return time.Duration(c.Connection.UDPTimeoutMS) * time.Millisecond
}

// StatePath returns the state database path with ~ expanded, or "" when disabled.
func (c *Config) StatePath() (string, error) {
	if strings.TrimSpace(c.Local.StateDB) == "" {
		return "", nil
	}
	return expandHome(c.Local.StateDB)
}

var lineNumberRe = regexp.MustCompile(`line (\d+)`)

// extractLineNumber pulls the line number out of a TOML parse error
func extractLineNumber(err error) int {
	var perr toml.ParseError
	if errors.As(err, &perr) {
		return perr.Position.Line
	}
	matches := lineNumberRe.FindStringSubmatch(err.Error())
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

func cleanErrorMessage(errMsg string) string {
	return strings.TrimPrefix(errMsg, "toml: ")
}

func validateConfig(config *Config) error {
	var problems []string

	conn := config.Connection
	if conn.Transport != "" && !transport.Valid(conn.Transport) {
		problems = append(problems, fmt.Sprintf("invalid transport: %q (must be one of %s)", conn.Transport, strings.Join(transport.Names, ", ")))
	}
	if conn.Port < 1 || conn.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port number: %d (must be 1-65535)", conn.Port))
	}
	if conn.UDPTimeoutMS <= 0 {
		problems = append(problems, fmt.Sprintf("invalid UDP timeout: %dms (must be positive)", conn.UDPTimeoutMS))
	}
	if conn.UDPRetries < 0 {
		problems = append(problems, fmt.Sprintf("invalid UDP retries: %d (cannot be negative)", conn.UDPRetries))
	}
	if !protocol.ValidDisplayName(config.Local.DisplayName) {
		problems = append(problems, fmt.Sprintf("invalid display name %q: %v", config.Local.DisplayName, protocol.ErrInvalidDisplayName))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  • %s", strings.Join(problems, "\n  • "))
	}
	return nil
}

// WriteDefaultConfig writes a commented default config to path. An existing
// file is first copied to a dated backup.
func WriteDefaultConfig(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.backup-%s", path, time.Now().Format("2006-01-02"))
		if err := copyFile(path, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# ipk24chat client configuration
# Command line flags take precedence over these values.

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	config := DefaultConfig()
	config.Local.StateDB = DefaultStatePath()
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
