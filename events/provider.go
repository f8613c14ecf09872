package events

import (
	"encoding/gob"
	"fmt"
	"github.com/evcam/flownet/nnet"
	"os"
	"path/filepath"
	"sort"
)

// Sample is one recorded event window, with optional ground truth flow
// for training sequences. Samples are stored as gob encoded .dat files.
type Sample struct {
	Events []Event
	T0, T1 int64
	Flow   []float32 // 2*Height*Width values, nil for test samples
}

// Provider loads train and test samples from a dataset directory laid
// out as <root>/train/*.dat and <root>/test/*.dat.
type Provider struct {
	root     string
	rep      Representation
	deltaTUs int64
	numBins  int
}

// NewProvider checks the dataset root and returns a sample provider.
func NewProvider(root string, rep Representation, deltaTMs, numBins int) (*Provider, error) {
	if numBins < 2 {
		return nil, fmt.Errorf("provider: num bins must be >= 2 (got %d)", numBins)
	}
	if deltaTMs <= 0 {
		return nil, fmt.Errorf("provider: delta t must be > 0 (got %dms)", deltaTMs)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("provider: %s is not a directory", root)
	}
	return &Provider{root: root, rep: rep, deltaTUs: int64(deltaTMs) * 1000, numBins: numBins}, nil
}

// Train loads the training samples, which must carry ground truth flow.
func (p *Provider) Train() (nnet.Data, error) {
	return p.load("train", true)
}

// Test loads the held out samples in deterministic name order.
func (p *Provider) Test() (nnet.Data, error) {
	return p.load("test", false)
}

func (p *Provider) load(subdir string, withFlow bool) (nnet.Data, error) {
	pattern := filepath.Join(p.root, subdir, "*.dat")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("provider: no samples matching %s", pattern)
	}
	sort.Strings(files)
	d := &eventData{provider: p}
	for _, file := range files {
		s, err := LoadSample(file)
		if err != nil {
			return nil, err
		}
		if withFlow && len(s.Flow) != 2*Height*Width {
			return nil, fmt.Errorf("provider: %s: flow has %d values, want %d", file, len(s.Flow), 2*Height*Width)
		}
		d.samples = append(d.samples, s)
	}
	d.withFlow = withFlow
	fmt.Printf("loaded %d %s samples from %s\n", len(d.samples), subdir, p.root)
	return d, nil
}

// LoadSample decodes a single gob .dat sample file.
func LoadSample(path string) (Sample, error) {
	var s Sample
	f, err := os.Open(path)
	if err != nil {
		return s, err
	}
	defer f.Close()
	if err = gob.NewDecoder(f).Decode(&s); err != nil {
		return s, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

// SaveSample encodes a sample to a gob .dat file, creating parent
// directories as needed. Used to build fixture datasets.
func SaveSample(s Sample, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(s)
}

// eventData voxelizes samples on demand and implements nnet.Data.
type eventData struct {
	provider *Provider
	samples  []Sample
	withFlow bool
}

func (d *eventData) Len() int { return len(d.samples) }

func (d *eventData) Shape() []int { return []int{d.provider.numBins, Height, Width} }

func (d *eventData) HasFlow() bool { return d.withFlow }

func (d *eventData) Input(index []int, buf []float32) {
	nfeat := d.provider.numBins * Height * Width
	for i, ix := range index {
		s := d.samples[ix]
		t0 := s.T1 - d.provider.deltaTUs
		if t0 < s.T0 {
			t0 = s.T0
		}
		Voxelize(s.Events, d.provider.rep, d.provider.numBins, Height, Width, t0, s.T1, buf[i*nfeat:(i+1)*nfeat])
	}
}

func (d *eventData) Flow(index []int, buf []float32) {
	nfeat := 2 * Height * Width
	for i, ix := range index {
		copy(buf[i*nfeat:(i+1)*nfeat], d.samples[ix].Flow)
	}
}
