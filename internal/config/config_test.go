package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range []string{
		"KEYWARD_CONFIG", "KEYWARD_LISTEN_ADDR", "KEYWARD_DATA_PATH",
		"KEYWARD_PKI_DIR", "KEYWARD_STORE_BACKEND", "KEYWARD_MIN_KEY_BITS",
	} {
		t.Setenv(e, "")
		os.Unsetenv(e)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	Load("")

	if Cfg.ListenAddr != ":8400" {
		t.Errorf("ListenAddr: got %q, want :8400", Cfg.ListenAddr)
	}
	if Cfg.StoreBackend != "fs" {
		t.Errorf("StoreBackend: got %q, want fs", Cfg.StoreBackend)
	}
	if Cfg.MinKeyBits != 2048 {
		t.Errorf("MinKeyBits: got %d, want 2048", Cfg.MinKeyBits)
	}
	if Cfg.PKIDir != filepath.Join(Cfg.DataPath, "pki") {
		t.Errorf("PKIDir not derived from DataPath: %q", Cfg.PKIDir)
	}
	if Cfg.GenDir != filepath.Join(Cfg.PKIDir, "generated") {
		t.Errorf("GenDir not derived from PKIDir: %q", Cfg.GenDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "master.yaml")
	content := "listen_addr: \":9999\"\nstore_backend: sqlite\nmin_key_bits: 4096\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	Load(path)

	if Cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr: got %q, want :9999", Cfg.ListenAddr)
	}
	if Cfg.StoreBackend != "sqlite" {
		t.Errorf("StoreBackend: got %q, want sqlite", Cfg.StoreBackend)
	}
	if Cfg.MinKeyBits != 4096 {
		t.Errorf("MinKeyBits: got %d, want 4096", Cfg.MinKeyBits)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "master.yaml")
	if err := os.WriteFile(path, []byte("store_backend: sqlite\n"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("KEYWARD_STORE_BACKEND", "fs")
	Load(path)

	if Cfg.StoreBackend != "fs" {
		t.Errorf("environment should win over file: got %q, want fs", Cfg.StoreBackend)
	}
}

func TestExplicitPathsNotOverwritten(t *testing.T) {
	clearEnv(t)

	t.Setenv("KEYWARD_PKI_DIR", "/srv/pki")
	Load("")

	if Cfg.PKIDir != "/srv/pki" {
		t.Errorf("PKIDir: got %q, want /srv/pki", Cfg.PKIDir)
	}
}
