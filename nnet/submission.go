package nnet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"gorgonia.org/tensor"
	"io"
	"os"
	"strings"
)

const npyMagic = "\x93NUMPY"

// SaveSubmission serializes flow as a numpy .npy file (version 1.0,
// little endian float32) at path, silently overwriting any existing
// file. The row order of flow is the submission row order.
func SaveSubmission(flow *tensor.Dense, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err = writeNpy(w, flow); err != nil {
		f.Close()
		return fmt.Errorf("submission %s: %w", path, err)
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	fmt.Println("submission saved to", path)
	return nil
}

// writeNpy emits the npy 1.0 header followed by the raw float32 data.
func writeNpy(w io.Writer, t *tensor.Dense) error {
	dims := make([]string, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = fmt.Sprintf("%d", d)
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }",
		strings.Join(dims, ", "))
	// total header block (magic + version + length + text) padded to 64 bytes
	pad := 64 - (len(npyMagic)+4+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"
	if _, err := w.Write([]byte(npyMagic)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.Data().([]float32))
}
