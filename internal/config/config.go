package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// loadedConfig stores the loaded configuration for use by other packages
// once Load has run.
var loadedConfig *Config

// Config holds every setting the execution core reads from the environment.
type Config struct {
	DBPath        string
	APIHost       string
	APIPort       int
	KubeNamespace string
	Debug         bool
}

func setDefaults() {
	viper.SetDefault("db_path", "./workflowcore.db")
	viper.SetDefault("api_host", "0.0.0.0")
	viper.SetDefault("api_port", 8090)
	viper.SetDefault("kube_namespace", "default")
	viper.SetDefault("debug", false)
}

// bindEnvVars binds the environment variables named in the external
// interface to their viper keys. Env vars always win over config file values
// because viper resolves bound env vars before file-sourced keys.
func bindEnvVars() {
	viper.BindEnv("db_path", "DB_PATH")
	viper.BindEnv("api_host", "API_HOST")
	viper.BindEnv("api_port", "API_PORT")
	viper.BindEnv("kube_namespace", "KUBE_NAMESPACE")
	viper.BindEnv("debug", "DEBUG")
}

// InitViper prepares viper to read an optional config file plus environment
// overrides. Call it once before Load.
func InitViper(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err == nil {
			fmt.Fprintf(os.Stderr, "[config] using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	viper.AutomaticEnv()
	bindEnvVars()
	return nil
}

// Load materializes a Config from whatever InitViper bound and caches it for
// GetConfig.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:        viper.GetString("db_path"),
		APIHost:       viper.GetString("api_host"),
		APIPort:       viper.GetInt("api_port"),
		KubeNamespace: viper.GetString("kube_namespace"),
		Debug:         viper.GetBool("debug"),
	}

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db_path must not be empty")
	}

	loadedConfig = cfg
	return cfg, nil
}

// GetConfig returns the config loaded by the most recent call to Load, or
// nil if Load has not run yet.
func GetConfig() *Config {
	return loadedConfig
}
