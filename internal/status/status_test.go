package status

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestLoadMissing(t *testing.T) {
	f, err := Load(afero.NewMemMapFs(), "/root/status.toml")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if f.Status != Unknown {
		t.Errorf("Status = %v, want unknown", f.Status)
	}
}

func TestSaveAndLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/fanling/status.toml"

	if err := Set(fs, path, Built, "1.2.0"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if ok, _ := afero.Exists(fs, path+".tmp"); ok {
		t.Error("temporary file left behind")
	}
	data, _ := afero.ReadFile(fs, path)
	if !strings.Contains(string(data), `status = "built"`) {
		t.Errorf("file = %s", data)
	}

	f, err := Load(fs, path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if f.Status != Built || f.Version != "1.2.0" || f.Updated.IsZero() {
		t.Errorf("Load() = %+v", f)
	}

	if err := Set(fs, path, Bad, ""); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	f, _ = Load(fs, path)
	if f.Status != Bad {
		t.Errorf("Status = %v, want bad", f.Status)
	}

	if err := Remove(fs, path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := Remove(fs, path); err != nil {
		t.Errorf("second Remove() failed: %v", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/s.toml", []byte("status = ["), 0o644)
	if _, err := Load(fs, "/s.toml"); err == nil {
		t.Error("Load() accepted a corrupt file")
	}
}

func TestUnknownValue(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/s.toml", []byte(`status = "rebuilding"`), 0o644)
	f, err := Load(fs, "/s.toml")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if f.Status != Unknown {
		t.Errorf("Status = %v, want unknown", f.Status)
	}
}
