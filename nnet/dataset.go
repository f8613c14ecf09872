package nnet

import (
	"gorgonia.org/tensor"
	"math/rand"
	"sync"
)

// Data is the raw sample source behind a Dataset. Input and Flow fill
// buf with the voxelized event volumes and ground truth flow for the
// given sample indexes. Flow is only valid when HasFlow reports true.
type Data interface {
	Len() int
	Shape() []int // per sample input shape [C, H, W]
	Input(index []int, buf []float32)
	Flow(index []int, buf []float32)
	HasFlow() bool
}

// Dataset batches a Data source into tensors. The next batch is
// collated in the background while the current one is in use, using
// two alternating buffers. A Dataset built without an rng can never
// shuffle, which is what keeps test iteration order deterministic.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	xBuf      [2][]float32
	yBuf      [2][]float32
	x, y      [2]*tensor.Dense
	indexes   []int
	batch     int
	buf       int
	rng       *rand.Rand
	sync.WaitGroup
}

// NewDataset wraps data with batch collation. batchSize <= 0 or larger
// than the sample count means one batch with everything in it.
func NewDataset(data Data, batchSize int, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), rng: rng}
	if batchSize <= 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	d.Batches = d.Samples / d.BatchSize
	if d.Samples%d.BatchSize != 0 {
		d.Batches++
	}
	shape := data.Shape()
	nfeat := Prod(shape)
	nflow := FlowChannels * shape[1] * shape[2]
	for i := range d.xBuf {
		d.xBuf[i] = make([]float32, nfeat*d.BatchSize)
		if data.HasFlow() {
			d.yBuf[i] = make([]float32, nflow*d.BatchSize)
		}
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	return d
}

// collate next batch of data in the background
func (d *Dataset) loadBatch() {
	d.Add(1)
	go func() {
		start := d.batch * d.BatchSize
		end := start + d.BatchSize
		if end > d.Samples {
			end = d.Samples
		}
		index := d.indexes[start:end]
		b := len(index)
		shape := d.Shape()
		nfeat := Prod(shape)
		buf := d.xBuf[d.buf][:b*nfeat]
		d.Input(index, buf)
		d.x[d.buf] = tensor.New(
			tensor.WithShape(append([]int{b}, shape...)...),
			tensor.WithBacking(buf))
		if d.HasFlow() {
			nflow := FlowChannels * shape[1] * shape[2]
			fbuf := d.yBuf[d.buf][:b*nflow]
			d.Flow(index, fbuf)
			d.y[d.buf] = tensor.New(
				tensor.WithShape(b, FlowChannels, shape[1], shape[2]),
				tensor.WithBacking(fbuf))
		} else {
			d.y[d.buf] = nil
		}
		d.Done()
	}()
}

// NextBatch returns the event volumes and, for training data, the
// ground truth flow of the next batch. flow is nil for test data.
func (d *Dataset) NextBatch() (x, flow *tensor.Dense) {
	d.Wait()
	x, flow = d.x[d.buf], d.y[d.buf]
	d.batch = (d.batch + 1) % d.Batches
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return
}

// NextEpoch rewinds to the first batch and starts collating it.
func (d *Dataset) NextEpoch() {
	d.Wait()
	d.batch = 0
	d.loadBatch()
}

// Shuffle permutes the sample order. Panics on a dataset built without
// an rng: the test loader must never end up here.
func (d *Dataset) Shuffle() {
	if d.rng == nil {
		panic("dataset: shuffle requires an rng")
	}
	d.Wait()
	d.indexes = d.rng.Perm(d.Samples)
}

// memData is an in memory Data implementation, used for fixtures and
// validation splits.
type memData struct {
	shape  []int
	inputs []float32
	flows  []float32
}

// NewData wraps pre-voxelized sample and flow slices as a Data source.
// flows may be nil for test style data.
func NewData(shape []int, inputs, flows []float32) Data {
	return &memData{shape: shape, inputs: inputs, flows: flows}
}

func (d *memData) Len() int { return len(d.inputs) / Prod(d.shape) }

func (d *memData) Shape() []int { return d.shape }

func (d *memData) HasFlow() bool { return d.flows != nil }

func (d *memData) Input(index []int, buf []float32) {
	nfeat := Prod(d.shape)
	for i, ix := range index {
		copy(buf[i*nfeat:], d.inputs[ix*nfeat:(ix+1)*nfeat])
	}
}

func (d *memData) Flow(index []int, buf []float32) {
	nflow := FlowChannels * d.shape[1] * d.shape[2]
	for i, ix := range index {
		copy(buf[i*nflow:], d.flows[ix*nflow:(ix+1)*nflow])
	}
}

// subset remaps indexes into a base Data source.
type subset struct {
	Data
	idx []int
}

func (s subset) Len() int { return len(s.idx) }

func (s subset) Input(index []int, buf []float32) {
	s.Data.Input(s.remap(index), buf)
}

func (s subset) Flow(index []int, buf []float32) {
	s.Data.Flow(s.remap(index), buf)
}

func (s subset) remap(index []int) []int {
	mapped := make([]int, len(index))
	for i, ix := range index {
		mapped[i] = s.idx[ix]
	}
	return mapped
}

// Split divides d into disjoint training and validation views, holding
// out frac of the samples chosen by a seeded permutation.
func Split(d Data, frac float64, rng *rand.Rand) (train, valid Data) {
	n := d.Len()
	nv := int(frac * float64(n))
	if nv < 1 {
		nv = 1
	}
	if nv >= n {
		nv = n - 1
	}
	perm := rng.Perm(n)
	return subset{Data: d, idx: perm[nv:]}, subset{Data: d, idx: perm[:nv]}
}
