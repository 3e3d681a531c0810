package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "memkv" {
		t.Fatalf("unexpected storage backend: %q", cfg.Storage.Backend)
	}
	if cfg.Engine.FuelLimit != 5_000_000 {
		t.Fatalf("unexpected fuel limit: %d", cfg.Engine.FuelLimit)
	}
	if cfg.HTTP.ListenAddr != ":8080" {
		t.Fatalf("unexpected http listen addr: %q", cfg.HTTP.ListenAddr)
	}
}

func TestLoadFromEnvUsesEnvVar(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	os.Unsetenv("HOSTRUNTIME_ENV")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging level: %q", cfg.Logging.Level)
	}
}
