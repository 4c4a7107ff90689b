package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration file.
type Config struct {
	API               string `json:"api,omitempty"           yaml:"api,omitempty"`
	Username          string `json:"username,omitempty"      yaml:"username,omitempty"`
	Output            string `json:"output,omitempty"        yaml:"output,omitempty"`
	PageSize          int    `json:"page_size,omitempty"     yaml:"page_size,omitempty"`
	TokenDir          string `json:"token_dir,omitempty"     yaml:"token_dir,omitempty"`
	ClientConfig      string `json:"client_config,omitempty" yaml:"client_config,omitempty"`
	LogFormat         string `json:"log_format,omitempty"    yaml:"log_format,omitempty"`
	SkipSSLValidation bool   `json:"skip_ssl_validation"     yaml:"skip_ssl_validation"`
}

// configKeys lists the keys accepted by config set and unset.
var configKeys = map[string]func(*Config, string) error{
	"api":                 func(c *Config, v string) error { c.API = v; return nil },
	"username":            func(c *Config, v string) error { c.Username = v; return nil },
	"output":              setOutput,
	"page_size":           setPageSize,
	"token_dir":           func(c *Config, v string) error { c.TokenDir = v; return nil },
	"client_config":       func(c *Config, v string) error { c.ClientConfig = v; return nil },
	"log_format":          func(c *Config, v string) error { c.LogFormat = v; return nil },
	"skip_ssl_validation": setSkipSSLValidation,
}

var configMutex sync.Mutex

func setOutput(c *Config, value string) error {
	switch value {
	case "", constants.FormatTable, constants.FormatJSON, constants.FormatYAML:
		c.Output = value

		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOutputFormat, value)
	}
}

func setPageSize(c *Config, value string) error {
	if value == "" {
		c.PageSize = 0

		return nil
	}

	size, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid page size: %w", err)
	}

	c.PageSize = size

	return nil
}

func setSkipSSLValidation(c *Config, value string) error {
	if value == "" {
		c.SkipSSLValidation = false

		return nil
	}

	skip, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean: %w", err)
	}

	c.SkipSSLValidation = skip

	return nil
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Show and change the drfctl configuration file",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigUnsetCommand())
	cmd.AddCommand(newConfigPathCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the effective CLI configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeOutput(cmd.OutOrStdout(), loadConfig())
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long:  "Set a configuration value. Keys: " + configKeyList(),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := persistConfigValues(map[string]string{args[0]: args[1]})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", args[0])

			return nil
		},
	}
}

func newConfigUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset KEY",
		Short: "Unset a configuration value",
		Long:  "Remove a configuration value. Keys: " + configKeyList(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := persistConfigValues(map[string]string{args[0]: ""})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])

			return nil
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  "Print the configuration file and token directory in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := configFile()
			if err != nil {
				return err
			}

			dir, err := tokenDir()
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), map[string]string{"config_file": file, "token_dir": dir})
		},
	}
}

func configKeyList() string {
	keys := make(map[string]interface{}, len(configKeys))
	for key := range configKeys {
		keys[key] = nil
	}

	list := ""

	for i, key := range sortedKeys(keys) {
		if i > 0 {
			list += ", "
		}

		list += key
	}

	return list
}

func loadConfig() *Config {
	return &Config{
		API:               viper.GetString("api"),
		Username:          viper.GetString("username"),
		Output:            viper.GetString("output"),
		PageSize:          viper.GetInt("page_size"),
		TokenDir:          viper.GetString("token_dir"),
		ClientConfig:      viper.GetString("client_config"),
		LogFormat:         viper.GetString("log_format"),
		SkipSSLValidation: viper.GetBool("skip_ssl_validation"),
	}
}

// configFile returns the file in use, or ~/.drfctl/config.yml.
func configFile() (string, error) {
	if file := viper.ConfigFileUsed(); file != "" {
		return file, nil
	}

	dir, err := configDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, configFileName), nil
}

// readConfigFile loads only what is stored on disk, without flag or env
// overrides, so saving never persists a one-off flag.
func readConfigFile(path string) (*Config, error) {
	config := &Config{}

	// #nosec G304 -- path is the CLI config file
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// persistConfigValues applies key/value updates to the config file. An
// empty value resets the key.
func persistConfigValues(values map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	path, err := configFile()
	if err != nil {
		return err
	}

	config, err := readConfigFile(path)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		set, ok := configKeys[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
		}

		err = set(config, values[key])
		if err != nil {
			return err
		}
	}

	return saveConfigStruct(path, config)
}

func saveConfigStruct(path string, config *Config) error {
	err := os.MkdirAll(filepath.Dir(path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	err = os.WriteFile(path, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
