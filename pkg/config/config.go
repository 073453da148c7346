package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".rdbg"
	configFile string = "config.yml"
)

const (
	defaultRPCTimeout     = 5 * time.Second
	defaultConnections    = 4
	defaultCallRetries    = 3
	defaultRetiredIDCache = 256
	defaultEventPoll      = time.Second
	defaultMaxPayload     = 16 << 20
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// RPCTimeout bounds every call made to the remote agent.
	RPCTimeout time.Duration `yaml:"rpc-timeout,omitempty"`
	// Connections is the number of independent connections opened to the
	// agent. Each one carries at most one outstanding call.
	Connections int `yaml:"connections,omitempty"`
	// CallRetries is the number of times an idempotent call (clearing a
	// breakpoint or watchpoint, listing locations) is retried after a
	// transport failure.
	CallRetries *int `yaml:"call-retries,omitempty"`
	// RetiredIDCache is the number of removed identifiers remembered to tell
	// stale events apart from bogus ones.
	RetiredIDCache int `yaml:"retired-id-cache,omitempty"`
	// EventPoll is how long a single wait for target events may block.
	EventPoll time.Duration `yaml:"event-poll,omitempty"`
	// MaxPayload is the largest frame accepted from the agent.
	MaxPayload int `yaml:"max-payload,omitempty"`
}

// Defaults fills every unset field with its default value and returns c.
func (c *Config) Defaults() *Config {
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = defaultRPCTimeout
	}
	if c.Connections <= 0 {
		c.Connections = defaultConnections
	}
	if c.CallRetries == nil {
		n := defaultCallRetries
		c.CallRetries = &n
	}
	if c.RetiredIDCache <= 0 {
		c.RetiredIDCache = defaultRetiredIDCache
	}
	if c.EventPoll <= 0 {
		c.EventPoll = defaultEventPoll
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = defaultMaxPayload
	}
	return c
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return (&Config{}).Defaults()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return (&Config{}).Defaults()
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		f, err := createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return (&Config{}).Defaults()
		}
		f.Close()
	}

	c, err := LoadConfigFile(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return (&Config{}).Defaults()
	}
	return c
}

// LoadConfigFile reads and decodes the configuration file at p.
func LoadConfigFile(p string) (*Config, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	return c.Defaults(), nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return saveConfigFile(fullConfigFile, conf)
}

func saveConfigFile(p string, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the rdbg remote debugger front end.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Maximum time a single call to the remote agent may take.
# rpc-timeout: 5s

# Number of connections opened to the remote agent.
# connections: 4

# Number of retries for idempotent calls after a transport failure.
# call-retries: 3

# Number of removed breakpoint identifiers remembered for stale event detection.
# retired-id-cache: 256

# Maximum time a single wait for target events blocks.
# event-poll: 1s

# Largest frame accepted from the agent, in bytes.
# max-payload: 16777216
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv("RDBG_CONFIG_DIR"); dir != "" {
		return path.Join(dir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
