package nnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
)

// Config holds the settings for one training and inference run.
type Config struct {
	Seed           int64
	DatasetPath    string
	Representation string
	DeltaTMs       int
	NumBins        int
	TrainBatch     int
	TrainShuffle   bool
	TestBatch      int
	TestShuffle    bool
	Epochs         int
	LearnRate      float64
	WeightDecay    float64
	ValidSplit     float64
	CheckpointDir  string
	ModelPath      string
	SubmissionPath string
	PlotPath       string
	MonitorAddr    string
	DebugLevel     int
	Model          ModelConfig
}

// ModelConfig is forwarded verbatim to network construction.
type ModelConfig struct {
	BaseChannels  int
	FlowScale     float64
	NormalWeights bool
}

// DefaultConfig returns the settings matching the reference run.
func DefaultConfig() Config {
	return Config{
		Seed:           42,
		Representation: "voxel",
		DeltaTMs:       100,
		NumBins:        4,
		TrainBatch:     4,
		TrainShuffle:   true,
		TestBatch:      1,
		Epochs:         10,
		LearnRate:      1e-4,
		WeightDecay:    1e-5,
		CheckpointDir:  "checkpoints",
		SubmissionPath: "submission.npy",
		Model:          ModelConfig{BaseChannels: 32, FlowScale: 256},
	}
}

// LoadConfig reads a config from a JSON file on top of the defaults.
func LoadConfig(path string) (c Config, err error) {
	c = DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return c, err
	}
	defer f.Close()
	fmt.Println("loading config from", path)
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err = dec.Decode(&c); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks that the run is fully specified before any work
// starts. All failures here are fatal configuration errors.
func (c Config) Validate() error {
	if c.DatasetPath == "" {
		return fmt.Errorf("config: dataset path is required")
	}
	if c.NumBins < 2 {
		return fmt.Errorf("config: num bins must be >= 2 (got %d)", c.NumBins)
	}
	if c.DeltaTMs <= 0 {
		return fmt.Errorf("config: delta t must be > 0 (got %dms)", c.DeltaTMs)
	}
	if c.TrainBatch <= 0 {
		return fmt.Errorf("config: train batch must be > 0 (got %d)", c.TrainBatch)
	}
	if c.TestBatch <= 0 {
		return fmt.Errorf("config: test batch must be > 0 (got %d)", c.TestBatch)
	}
	if c.TestShuffle {
		// submission rows carry no sample ids: test order is the contract
		return fmt.Errorf("config: test loader must not shuffle")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("config: epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.LearnRate <= 0 {
		return fmt.Errorf("config: learning rate must be > 0 (got %g)", c.LearnRate)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("config: weight decay must be >= 0 (got %g)", c.WeightDecay)
	}
	if c.ValidSplit < 0 || c.ValidSplit >= 1 {
		return fmt.Errorf("config: valid split must be in [0,1) (got %g)", c.ValidSplit)
	}
	if c.CheckpointDir == "" {
		return fmt.Errorf("config: checkpoint dir is required")
	}
	if c.SubmissionPath == "" {
		return fmt.Errorf("config: submission path is required")
	}
	if dir := filepath.Dir(c.SubmissionPath); dir != "." {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("config: submission dir %s is not writable", dir)
		}
	}
	if c.ModelPath != "" {
		if _, err := os.Stat(c.ModelPath); err != nil {
			return fmt.Errorf("config: model path: %w", err)
		}
	}
	if c.Model.BaseChannels <= 0 {
		return fmt.Errorf("config: base channels must be > 0 (got %d)", c.Model.BaseChannels)
	}
	if c.Model.FlowScale <= 0 {
		return fmt.Errorf("config: flow scale must be > 0 (got %g)", c.Model.FlowScale)
	}
	return nil
}

func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField()-1)
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) String() string {
	str := []string{"== Config =="}
	for _, key := range c.Fields() {
		str = append(str, fmt.Sprintf("%-14s: %v", key, c.Get(key)))
	}
	str = append(str, fmt.Sprintf("%-14s: %+v", "Model", c.Model))
	return strings.Join(str, "\n")
}
