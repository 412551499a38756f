package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper()
	if err := InitViper(""); err != nil {
		t.Fatalf("InitViper: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DBPath != "./workflowcore.db" {
		t.Errorf("expected default db path, got %s", cfg.DBPath)
	}
	if cfg.APIPort != 8090 {
		t.Errorf("expected default api port 8090, got %d", cfg.APIPort)
	}
	if cfg.APIHost != "0.0.0.0" {
		t.Errorf("expected default api host, got %s", cfg.APIHost)
	}
	if cfg.KubeNamespace != "default" {
		t.Errorf("expected default namespace, got %s", cfg.KubeNamespace)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	resetViper()
	os.Setenv("DB_PATH", "/tmp/custom.db")
	os.Setenv("API_PORT", "9999")
	defer os.Unsetenv("DB_PATH")
	defer os.Unsetenv("API_PORT")

	if err := InitViper(""); err != nil {
		t.Fatalf("InitViper: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("expected env override of db path, got %s", cfg.DBPath)
	}
	if cfg.APIPort != 9999 {
		t.Errorf("expected env override of api port, got %d", cfg.APIPort)
	}
}

func TestGetConfig_AfterLoad(t *testing.T) {
	resetViper()
	InitViper("")
	cfg, _ := Load()

	if GetConfig() != cfg {
		t.Errorf("GetConfig should return the most recently loaded config")
	}
}
