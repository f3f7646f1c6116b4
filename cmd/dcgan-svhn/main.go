package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	dcgan "github.com/LdDl/dcgan-go"
)

func main() {
	cfg := dcgan.DefaultConfig()

	dataDir := flag.String("data-dir", "./data", "directory holding the dataset archives")
	dataURL := flag.String("data-url", "", "base URL hosting the .npz archives, fetched when absent locally (empty disables fetching; place the archives in -data-dir manually)")
	outputDir := flag.String("out", "./output", "directory for sample grids, the generator checkpoint and the loss chart")
	flag.IntVar(&cfg.ImageHeight, "height", cfg.ImageHeight, "real image height")
	flag.IntVar(&cfg.ImageWidth, "width", cfg.ImageWidth, "real image width")
	flag.IntVar(&cfg.ImageChannels, "channels", cfg.ImageChannels, "real image channels")
	flag.IntVar(&cfg.ZDim, "z-dim", cfg.ZDim, "noise vector length")
	flag.IntVar(&cfg.BaseDepth, "base-depth", cfg.BaseDepth, "generator projection depth")
	flag.Float64Var(&cfg.LearningRate, "lr", cfg.LearningRate, "Adam learning rate")
	flag.Float64Var(&cfg.Beta1, "beta1", cfg.Beta1, "Adam first-moment decay")
	flag.Float64Var(&cfg.Alpha, "alpha", cfg.Alpha, "leaky rectifier negative slope")
	flag.Float64Var(&cfg.LabelSmoothing, "smooth", cfg.LabelSmoothing, "one-sided label smoothing for real targets")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "mini-batch size")
	flag.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "number of training epoches")
	flag.IntVar(&cfg.PrintEvery, "print-every", cfg.PrintEvery, "loss logging interval, in steps")
	flag.IntVar(&cfg.ShowEvery, "show-every", cfg.ShowEvery, "sample generation interval, in steps")
	flag.Float64Var(&cfg.ValidFraction, "valid-fraction", cfg.ValidFraction, "fraction of the test set used for validation")
	flag.IntVar(&cfg.SampleRows, "sample-rows", cfg.SampleRows, "rows in rendered sample grids")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	flag.Parse()

	logger := log.New(os.Stderr, "dcgan: ", log.LstdFlags)

	if *dataURL != "" {
		if err := dcgan.FetchDataset(*dataDir, *dataURL, dcgan.TrainArchive, dcgan.TestArchive); err != nil {
			logger.Fatalf("can't fetch dataset: %v", err)
		}
	}
	trainImages, trainLabels, err := dcgan.LoadArchive(filepath.Join(*dataDir, dcgan.TrainArchive))
	if err != nil {
		logger.Fatalf("can't load training archive: %v", err)
	}
	testImages, testLabels, err := dcgan.LoadArchive(filepath.Join(*dataDir, dcgan.TestArchive))
	if err != nil {
		logger.Fatalf("can't load test archive: %v", err)
	}
	ds, err := dcgan.NewDataset(trainImages, trainLabels, testImages, testLabels, cfg.ValidFraction, cfg.Seed)
	if err != nil {
		logger.Fatalf("can't build dataset: %v", err)
	}
	logger.Printf("dataset ready: %d train / %d validation / %d test samples",
		ds.TrainImages.Shape()[0], ds.ValidImages.Shape()[0], ds.TestImages.Shape()[0])

	trainer := &dcgan.Trainer{
		Config:    cfg,
		OutputDir: *outputDir,
		Logger:    logger,
	}
	history, samples, err := trainer.Run(ds)
	if err != nil {
		logger.Fatalf("training failed: %v", err)
	}
	logger.Printf("training done: %d loss records, %d sample batches persisted to %s", len(history), len(samples), *outputDir)
}
