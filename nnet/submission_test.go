package nnet

import (
	"bytes"
	"encoding/binary"
	"gorgonia.org/tensor"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveSubmission(t *testing.T) {
	rng := rand.New(rand.NewSource(40))
	flow := randFlow(t, rng, 3, 2, 4, 5)
	path := filepath.Join(t.TempDir(), "submission.npy")
	if err := SaveSubmission(flow, path); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("\x93NUMPY\x01\x00")) {
		t.Fatalf("bad npy magic: %q", raw[:8])
	}
	hlen := int(binary.LittleEndian.Uint16(raw[8:10]))
	if (10+hlen)%64 != 0 {
		t.Errorf("header block of %d bytes is not 64 byte aligned", 10+hlen)
	}
	header := string(raw[10 : 10+hlen])
	for _, want := range []string{"'descr': '<f4'", "'fortran_order': False", "'shape': (3, 2, 4, 5)"} {
		if !bytes.Contains([]byte(header), []byte(want)) {
			t.Errorf("header %q missing %q", header, want)
		}
	}
	payload := raw[10+hlen:]
	src := flow.Data().([]float32)
	if len(payload) != 4*len(src) {
		t.Fatalf("payload is %d bytes, want %d", len(payload), 4*len(src))
	}
	got := make([]float32, len(src))
	if err = binary.Read(bytes.NewReader(payload), binary.LittleEndian, got); err != nil {
		t.Fatal(err)
	}
	for i := range src {
		if got[i] != src[i] {
			t.Fatalf("payload value %d = %v, want %v", i, got[i], src[i])
		}
	}
}

func TestSaveSubmissionOverwrites(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	path := filepath.Join(t.TempDir(), "submission.npy")
	if err := os.WriteFile(path, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}
	flow := randFlow(t, rng, 1, 2, 2, 2)
	if err := SaveSubmission(flow, path); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("stale")) {
		t.Error("old file content survived the overwrite")
	}
}

func TestSaveSubmissionBadPath(t *testing.T) {
	flow := tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.Of(tensor.Float32))
	if err := SaveSubmission(flow, filepath.Join(t.TempDir(), "missing", "out.npy")); err == nil {
		t.Error("expected error writing to a missing directory")
	}
}
