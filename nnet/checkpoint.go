package nnet

import (
	"encoding/gob"
	"fmt"
	"gorgonia.org/tensor"
	"os"
	"path/filepath"
	"time"
)

// SaveCheckpoint writes the full parameter state of net to a new file
// under dir, named from the current wall clock time, and returns its
// path. The directory is created if needed; each run produces a new
// distinctly named file and nothing is ever rotated.
func SaveCheckpoint(net *Network, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	state := make(map[string]*tensor.Dense, len(net.Params))
	for _, p := range net.Params {
		state[p.Name] = p.Value
	}
	path := filepath.Join(dir, "model_"+time.Now().Format("20060102150405")+".pth")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err = gob.NewEncoder(f).Encode(state); err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", path, err)
	}
	fmt.Println("model saved to", path)
	return path, nil
}

// LoadCheckpoint restores parameter state from path onto net. The
// stored parameter names and shapes must match the model exactly:
// there is no partial loading.
func LoadCheckpoint(net *Network, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var state map[string]*tensor.Dense
	if err = gob.NewDecoder(f).Decode(&state); err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if len(state) != len(net.Params) {
		return fmt.Errorf("checkpoint %s: %w: has %d parameters, model has %d",
			path, ErrStateMismatch, len(state), len(net.Params))
	}
	for _, p := range net.Params {
		st, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint %s: %w: missing %s", path, ErrStateMismatch, p.Name)
		}
		if !st.Shape().Eq(p.Value.Shape()) {
			return fmt.Errorf("checkpoint %s: %w: %s has shape %v, model wants %v",
				path, ErrStateMismatch, p.Name, st.Shape(), p.Value.Shape())
		}
	}
	for _, p := range net.Params {
		copy(p.Value.Data().([]float32), state[p.Name].Data().([]float32))
	}
	fmt.Println("model loaded from", path)
	return nil
}
