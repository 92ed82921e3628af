package am

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/weave/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WEAVE"

// ConfigFileName is the file looked up in each config location.
const ConfigFileName = "am.toml"

// Source says where a setting came from.
type Source string

const (
	SourceDefault     Source = "default"
	SourceSystem      Source = "system"      // /etc/weave/am.toml
	SourceUser        Source = "user"        // ~/.weave/am.toml
	SourceProject     Source = "project"     // nearest am.toml upwards
	SourceFile        Source = "file"        // explicit LoadFromFile path
	SourceEnvironment Source = "environment" // WEAVE_* env vars
)

// SourceInfo locates a setting's origin. Path is a file or an env var name.
type SourceInfo struct {
	Source Source
	Path   string
}

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
	sources       map[string]SourceInfo
)

// Load reads the merged configuration. The result is cached until Reset.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalConfig != nil {
		return globalConfig, nil
	}
	cfg, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

// GetViper returns the Viper instance behind Load.
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return initViper()
}

// LoadWithViper unmarshals a prepared Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// LoadFromFile reads defaults plus one file, ignoring the other locations
// and the environment.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Reset drops the cached configuration.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
	sources = nil
}

// SourceOf reports where key was set.
func SourceOf(key string) SourceInfo {
	mu.Lock()
	defer mu.Unlock()
	initViper()
	if s, ok := sources[key]; ok {
		return s
	}
	return SourceInfo{Source: SourceDefault}
}

// Keys returns every known setting in sorted order.
func Keys() []string {
	keys := GetViper().AllKeys()
	sort.Strings(keys)
	return keys
}

// Get returns a configuration value using dot notation.
func Get(key string) interface{} {
	return GetViper().Get(key)
}

// GetString returns a configuration value as string.
func GetString(key string) string {
	return GetViper().GetString(key)
}

// EnvName is the environment variable overriding key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// initViper must be called with mu held.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	sources = make(map[string]SourceInfo)
	mergeConfigFiles(v, sources)
	for _, key := range v.AllKeys() {
		if name := EnvName(key); os.Getenv(name) != "" {
			sources[key] = SourceInfo{Source: SourceEnvironment, Path: name}
		}
	}

	viperInstance = v
	return v
}

// findProjectConfig walks up from the working directory looking for am.toml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// UserConfigPath is ~/.weave/am.toml.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".weave", ConfigFileName)
}

// mergeConfigFiles merges config files lowest precedence first.
func mergeConfigFiles(v *viper.Viper, track map[string]SourceInfo) {
	type location struct {
		path   string
		source Source
	}
	locations := []location{{filepath.Join("/etc/weave", ConfigFileName), SourceSystem}}
	if user := UserConfigPath(); user != "" {
		locations = append(locations, location{user, SourceUser})
	}
	if project := findProjectConfig(); project != "" {
		locations = append(locations, location{project, SourceProject})
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc.path); err != nil {
			continue
		}
		tmp := viper.New()
		tmp.SetConfigFile(loc.path)
		tmp.SetConfigType("toml")
		if err := tmp.ReadInConfig(); err != nil {
			continue
		}
		if err := v.MergeConfigMap(tmp.AllSettings()); err != nil {
			continue
		}
		for _, key := range tmp.AllKeys() {
			track[key] = SourceInfo{Source: loc.source, Path: loc.path}
		}
	}
}
