package main

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/utilitywarehouse/mirror-discovery/provider/github"
	"github.com/utilitywarehouse/mirror-discovery/provider/gitlab"
	"gopkg.in/yaml.v3"
)

const (
	defaultProvider      = "gitlab"
	defaultGitLabURL     = "https://gitlab.com"
	defaultOutput        = "yaml"
	defaultListenAddress = ":9001"
)

var (
	supportedProviders = []string{"gitlab", "github"}
	supportedOutputs   = []string{"yaml", "json", "text"}

	durationType = reflect.TypeOf(time.Duration(0))
)

// Config is the configuration of mirror-discovery, it can be loaded from
// a yaml file and every value can be overridden by flags
type Config struct {
	// Provider selects the hosting service, 'gitlab' or 'github'
	Provider string `yaml:"provider"`

	// Output format of the discovered mirrors 'yaml', 'json' or 'text'
	Output string `yaml:"output"`

	// Interval between discoveries, if 0 discovery runs once and mirrors
	// are printed to stdout
	Interval time.Duration `yaml:"interval"`

	// ListenAddress of the status and metrics server, only used with interval
	ListenAddress string `yaml:"listen_address"`

	GitLab gitlab.Config `yaml:"gitlab"`
	GitHub github.Config `yaml:"github"`
}

func applyDefaults(conf *Config) {
	if conf.Provider == "" {
		conf.Provider = defaultProvider
	}

	if conf.Output == "" {
		conf.Output = defaultOutput
	}

	if conf.ListenAddress == "" {
		conf.ListenAddress = defaultListenAddress
	}

	if conf.GitLab.URL == "" {
		conf.GitLab.URL = defaultGitLabURL
	}
}

func (conf *Config) validate() error {
	if !slices.Contains(supportedProviders, conf.Provider) {
		return fmt.Errorf("unsupported provider %q, supported providers are %v", conf.Provider, supportedProviders)
	}
	if !slices.Contains(supportedOutputs, conf.Output) {
		return fmt.Errorf("unsupported output %q, supported outputs are %v", conf.Output, supportedOutputs)
	}
	if conf.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}
	return nil
}

func parseConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(yamlFile); err != nil {
		return nil, err
	}

	conf := &Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}

	return conf, nil
}

// validateConfig checks every section of the config for unexpected keys
func validateConfig(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	return validateSection(raw, reflect.TypeOf(Config{}), "")
}

func validateSection(raw map[string]interface{}, typ reflect.Type, path string) error {
	allowedKeys := getAllowedKeys(typ)
	if key := findUnexpectedKey(raw, allowedKeys); key != "" {
		return fmt.Errorf("unexpected key: %s.%v", path, key)
	}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.Type.Kind() != reflect.Struct || field.Type == durationType {
			continue
		}
		key := yamlKey(field)
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		section, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s.%s config section is not valid", path, key)
		}
		if err := validateSection(section, field.Type, path+"."+key); err != nil {
			return err
		}
	}

	return nil
}

func yamlKey(field reflect.StructField) string {
	tag, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
	return tag
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct type
func getAllowedKeys(typ reflect.Type) []string {
	var allowedKeys []string
	for i := 0; i < typ.NumField(); i++ {
		key := yamlKey(typ.Field(i))
		if key != "" && key != "-" {
			allowedKeys = append(allowedKeys, key)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw map[string]interface{}, allowedKeys []string) string {
	for key := range raw {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}
