package nnet

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	src := testNet(t, 20)
	path, err := SaveCheckpoint(src, dir)
	if err != nil {
		t.Fatal(err)
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "model_") || !strings.HasSuffix(name, ".pth") {
		t.Errorf("checkpoint name %s, want model_<timestamp>.pth", name)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("checkpoint dir has %d files, want 1", len(files))
	}

	dst := testNet(t, 21)
	if err = LoadCheckpoint(dst, path); err != nil {
		t.Fatal(err)
	}
	for i, p := range src.Params {
		sd := p.Value.Data().([]float32)
		dd := dst.Params[i].Value.Data().([]float32)
		for j := range sd {
			if sd[j] != dd[j] {
				t.Fatalf("param %s differs after restore at %d", p.Name, j)
			}
		}
	}
}

func TestCheckpointStateMismatch(t *testing.T) {
	dir := t.TempDir()
	src := testNet(t, 22)
	path, err := SaveCheckpoint(src, dir)
	if err != nil {
		t.Fatal(err)
	}
	conf := testConfig()
	conf.Model.BaseChannels = 4
	other, err := New(conf, []int{2, 16, 16})
	if err != nil {
		t.Fatal(err)
	}
	if err = LoadCheckpoint(other, path); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("err = %v, want state mismatch", err)
	}
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	net := testNet(t, 23)
	if err := LoadCheckpoint(net, filepath.Join(t.TempDir(), "nope.pth")); err == nil {
		t.Error("expected error for missing checkpoint file")
	}
}
