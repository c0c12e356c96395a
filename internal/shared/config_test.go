package shared

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Database.Path == "" {
		t.Error("expected default database path")
	}
	if config.Server.Port == 0 {
		t.Error("expected default server port")
	}
	if config.Poller.PageSize == 0 {
		t.Error("expected default poller page size")
	}
	if config.Poller.FetchLimit == 0 {
		t.Error("expected default poller fetch limit")
	}
	if config.Tasks.StalenessMinutes == 0 {
		t.Error("expected default staleness window")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")

		content := `
[credentials.spotify]
client_id = "abc"
client_secret = "xyz"

[database]
path = "test.db"
max_open_conns = 4
max_idle_conns = 2

[poller]
page_size = 10
pacing_seconds = 0.5

[tasks]
signing_secret = "shhh"
staleness_minutes = 15
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		config, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Credentials.Spotify.ClientID != "abc" {
			t.Errorf("expected client_id abc, got %s", config.Credentials.Spotify.ClientID)
		}
		if config.Database.Path != "test.db" {
			t.Errorf("expected database path test.db, got %s", config.Database.Path)
		}
		if config.Poller.PageSize != 10 {
			t.Errorf("expected page size 10, got %d", config.Poller.PageSize)
		}
		if config.Tasks.SigningSecret != "shhh" {
			t.Errorf("expected signing secret, got %s", config.Tasks.SigningSecret)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")
		if err := os.WriteFile(path, []byte("not [valid toml"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		if _, err := LoadConfig(path); err == nil {
			t.Error("expected error for malformed config file")
		}
	})
}

func TestCreateConfigFile(t *testing.T) {
	t.Run("creates file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(path); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected config file to exist: %v", err)
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := CreateConfigFile(path); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if err := CreateConfigFile(path); err == nil {
			t.Error("expected error when config file already exists")
		}
	})
}
