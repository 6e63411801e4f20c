package dcm2nii

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("got %+v, expected defaults", cfg)
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcm2nii.yaml")
	if err := os.WriteFile(path, []byte("forceSliceOrderBy: instanceNumber\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ForceSliceOrderBy != OrderByInstanceNumber {
		t.Errorf("got order %q", cfg.ForceSliceOrderBy)
	}
	if !cfg.Reorient || cfg.AssumeLittleEndian {
		t.Errorf("keys absent from the file lost their defaults: %+v", cfg)
	}
}

func TestLoadConfigRejectsUnknownOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcm2nii.yaml")
	if err := os.WriteFile(path, []byte("forceSliceOrderBy: acquisitionTime\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("expected an error for an unknown slice order")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dcm2nii.yaml")
	want := Config{AssumeLittleEndian: true, ForceSliceOrderBy: OrderByInstanceNumber, Reorient: false}

	if err := SaveConfig(want, path); err != nil {
		t.Fatal(err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v want %+v", got, want)
	}
}
