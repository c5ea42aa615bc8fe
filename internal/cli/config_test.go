package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paydirt.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
all_accounts = true
role_name = "OrgS3ReadRole"
lookback_days = 7
outfile = "inventory.csv"
storage_types = ["StandardStorage", "GlacierStorage"]

[columns]
enable = ["account_id", "StandardStorage"]
disable = ["tags"]
`)
	got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	want := Config{
		AllAccounts:  true,
		RoleName:     "OrgS3ReadRole",
		LookbackDays: 7,
		Outfile:      "inventory.csv",
		StorageTypes: []string{"StandardStorage", "GlacierStorage"},
		Columns: ColumnsConfig{
			Enable:  []string{"account_id", "StandardStorage"},
			Disable: []string{"tags"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loadConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigEmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if diff := cmp.Diff(Config{}, got); diff != "" {
		t.Errorf("loadConfig() of empty file mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("loadConfig() of missing file did not fail")
	}
}

func TestLoadConfigBadToml(t *testing.T) {
	path := writeConfig(t, "all_accounts = [broken")
	if _, err := loadConfig(path); err == nil {
		t.Error("loadConfig() of malformed file did not fail")
	}
}
