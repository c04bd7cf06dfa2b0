package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"sort"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"

	"github.com/sugarme/unetreg/config"
	"github.com/sugarme/unetreg/dataloader"
	"github.com/sugarme/unetreg/model"
	"github.com/sugarme/unetreg/unet"
	"github.com/sugarme/unetreg/viz"
)

var (
	ConfigPath string
	Task       string
	UseCuda    bool
	ShowData   bool
	Weights    string
	Synthetic  int
)

func init() {
	flag.StringVar(&ConfigPath, "config", "config.yaml", "Path to YAML config file.")
	flag.StringVar(&Task, "task", "all", "Specify a task to run: 'train', 'evaluate', 'all', 'model'.")
	flag.BoolVar(&UseCuda, "cuda", false, "Run on CUDA if available.")
	flag.BoolVar(&ShowData, "show", false, "Log data shapes and write a preview image when loading data.")
	flag.StringVar(&Weights, "weights", "", "Checkpoint to evaluate. Required for 'evaluate'.")
	flag.IntVar(&Synthetic, "synthetic", 200, "Number of synthetic training samples used when data.path is empty.")
}

func main() {
	flag.Parse()

	if Task == "model" {
		printModel()
		return
	}

	cfg, err := config.Load(ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	device := gotch.CPU
	if UseCuda {
		device = gotch.CPU.CudaIfAvailable()
	}

	var loader model.DataLoader
	if cfg.Data.Path == "" {
		log.Printf("data.path not set, using %v synthetic samples\n", Synthetic)
		loader = dataloader.NewSyntheticLoader(Synthetic, Synthetic/10+1, cfg.Train.Seed)
	} else {
		loader = dataloader.NewDirLoader(cfg.Data.Path, cfg.Data.Manifest)
	}
	plotDir := filepath.Join(cfg.Model.ModelPath, cfg.Model.ExperimentName, "plots")
	plotter := viz.NewResultPlotter(plotDir, cfg.Eval.Samples)

	m := model.New(cfg, loader, plotter, model.WithDevice(device))

	switch Task {
	case "train":
		runTrain(m)
	case "evaluate":
		runEvaluate(m)
	case "all":
		runTrain(m)
		if err := m.Evaluate(); err != nil {
			log.Fatal(err)
		}
		log.Printf("plots written to %q\n", plotDir)
	default:
		log.Fatalf("Unspecified/Invalid task option: '%v'.\n", Task)
	}
}

func runTrain(m *model.UNetModel) {
	if err := m.LoadData(ShowData); err != nil {
		log.Fatal(err)
	}
	if err := m.Build(); err != nil {
		log.Fatal(err)
	}
	if err := m.Checkpoint(); err != nil {
		log.Fatal(err)
	}
	if err := m.TensorBoard(); err != nil {
		log.Fatal(err)
	}

	history, err := m.Train()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("trained %v epochs, history saved to %q\n", history.Len(), m.HistoryPath())
}

func runEvaluate(m *model.UNetModel) {
	if Weights == "" {
		log.Fatal("'-weights' is required for task 'evaluate'")
	}
	if err := m.LoadData(ShowData); err != nil {
		log.Fatal(err)
	}
	if err := m.Build(); err != nil {
		log.Fatal(err)
	}
	if err := m.LoadWeights(Weights); err != nil {
		log.Fatal(err)
	}
	if err := m.Evaluate(); err != nil {
		log.Fatal(err)
	}
}

// printModel prints the layer table and variables sorted by name.
func printModel() {
	vs := nn.NewVarStore(gotch.CPU)
	net := unet.NewUNet(vs.Root())
	for _, l := range net.Layers() {
		fmt.Printf("%-22v %-16v %4v -> %-4v k=%v %v\n", l.Name, l.Kind, l.In, l.Out, l.Kernel, l.Padding)
	}

	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	var total int64
	for _, n := range names {
		size := vars[n].MustSize()
		count := int64(1)
		for _, d := range size {
			count *= d
		}
		total += count
		fmt.Printf("%v \t\t %v\n", n, size)
	}
	fmt.Printf("Total parameters: %v\n", total)
}
