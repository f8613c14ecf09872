package main

import (
	"flag"
	"fmt"
	"github.com/evcam/flownet/events"
	"github.com/evcam/flownet/nnet"
	"github.com/evcam/flownet/stats"
	"github.com/evcam/flownet/web"
	"math/rand"
)

func main() {
	conf := nnet.DefaultConfig()
	cfgPath := flag.String("config", "", "JSON config file")
	seed := flag.Int64("seed", conf.Seed, "random number seed")
	data := flag.String("data", conf.DatasetPath, "dataset root directory")
	epochs := flag.Int("epochs", conf.Epochs, "number of training epochs")
	lr := flag.Float64("lr", conf.LearnRate, "initial learning rate")
	decay := flag.Float64("decay", conf.WeightDecay, "weight decay")
	batch := flag.Int("batch", conf.TrainBatch, "train batch size")
	testBatch := flag.Int("testbatch", conf.TestBatch, "test batch size")
	out := flag.String("out", conf.SubmissionPath, "submission output path")
	model := flag.String("model", conf.ModelPath, "checkpoint to load for inference")
	monitor := flag.String("monitor", conf.MonitorAddr, "live monitor listen address")
	debug := flag.Int("debug", conf.DebugLevel, "debug logging level")
	flag.Parse()

	if *cfgPath != "" {
		var err error
		conf, err = nnet.LoadConfig(*cfgPath)
		nnet.CheckErr(err)
	}
	// command line settings win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			conf.Seed = *seed
		case "data":
			conf.DatasetPath = *data
		case "epochs":
			conf.Epochs = *epochs
		case "lr":
			conf.LearnRate = *lr
		case "decay":
			conf.WeightDecay = *decay
		case "batch":
			conf.TrainBatch = *batch
		case "testbatch":
			conf.TestBatch = *testBatch
		case "out":
			conf.SubmissionPath = *out
		case "model":
			conf.ModelPath = *model
		case "monitor":
			conf.MonitorAddr = *monitor
		case "debug":
			conf.DebugLevel = *debug
		}
	})
	nnet.CheckErr(run(conf))
}

// run drives one complete training and inference pass from an explicit
// config value: seed, load data, train, checkpoint, reload, predict,
// write the submission.
func run(conf nnet.Config) error {
	if err := conf.Validate(); err != nil {
		return err
	}
	fmt.Println(conf)
	nnet.SetSeed(conf.Seed)
	rng := rand.New(rand.NewSource(conf.Seed))

	rep, err := events.ParseRepresentation(conf.Representation)
	if err != nil {
		return err
	}
	provider, err := events.NewProvider(conf.DatasetPath, rep, conf.DeltaTMs, conf.NumBins)
	if err != nil {
		return err
	}
	trainData, err := provider.Train()
	if err != nil {
		return err
	}
	testData, err := provider.Test()
	if err != nil {
		return err
	}
	var validSet *nnet.Dataset
	if conf.ValidSplit > 0 {
		var validData nnet.Data
		trainData, validData = nnet.Split(trainData, conf.ValidSplit, rng)
		validSet = nnet.NewDataset(validData, conf.TestBatch, nil)
	}
	trainSet := nnet.NewDataset(trainData, conf.TrainBatch, rng)
	testSet := nnet.NewDataset(testData, conf.TestBatch, nil)

	net, err := nnet.New(conf, trainData.Shape())
	if err != nil {
		return err
	}
	net.InitWeights(rng)

	history := &stats.History{}
	onBatch := func(epoch, batch int, loss float64) {
		history.AddBatch(loss)
	}
	var mon *web.Monitor
	if conf.MonitorAddr != "" {
		mon = web.NewMonitor(conf.MonitorAddr)
		mon.Start()
		defer mon.Close()
		onBatch = func(epoch, batch int, loss float64) {
			history.AddBatch(loss)
			mon.Batch(epoch, batch, loss)
		}
	}
	onEpoch := func(s nnet.Stats) {
		history.Add(stats.Point{Epoch: s.Epoch, Loss: s.Loss, Valid: s.Valid, HasValid: s.HasValid})
		if mon != nil {
			mon.Epoch(s)
		}
	}

	tester := nnet.NewTestLogger(validSet, onEpoch)
	if err = nnet.Train(net, trainSet, tester, onBatch); err != nil {
		return err
	}

	saved, err := nnet.SaveCheckpoint(net, conf.CheckpointDir)
	if err != nil {
		return err
	}
	// the inference weights default to the checkpoint just written but
	// can point at any compatible earlier run
	modelPath := conf.ModelPath
	if modelPath == "" {
		modelPath = saved
	}
	if err = nnet.LoadCheckpoint(net, modelPath); err != nil {
		return err
	}

	flow, err := net.Predict(testSet)
	if err != nil {
		return err
	}
	if err = nnet.SaveSubmission(flow, conf.SubmissionPath); err != nil {
		return err
	}
	if conf.PlotPath != "" {
		if err = history.SavePlot(conf.PlotPath); err != nil {
			return err
		}
	}
	return nil
}
