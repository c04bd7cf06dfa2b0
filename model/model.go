package model

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/unetreg/callback"
	"github.com/sugarme/unetreg/config"
	"github.com/sugarme/unetreg/dutil"
	"github.com/sugarme/unetreg/metric"
	"github.com/sugarme/unetreg/schedule"
	"github.com/sugarme/unetreg/unet"
)

var (
	ErrDataNotLoaded          = errors.New("model: data not loaded")
	ErrModelNotBuilt          = errors.New("model: model not built")
	ErrCallbacksNotConfigured = errors.New("model: checkpoint and tensorboard callbacks not configured")
	ErrShapeMismatch          = errors.New("model: unexpected tensor shape")
)

// AccuracyThreshold binarizes predictions and targets for the accuracy
// metric.
const AccuracyThreshold = 0.5

// DataLoader supplies train and test tensors. Inputs are [N 2 50 50],
// outputs [N 1 50 50].
type DataLoader interface {
	Load(show bool) (trainIn, trainOut, testIn, testOut *ts.Tensor, err error)
}

// Plotter renders predictions against ground truth.
type Plotter interface {
	PlotResults(truth, input, pred *ts.Tensor) error
}

// Option configures UNetModel.
type Option func(*UNetModel)

// WithDevice runs the model on device. Default is CPU.
func WithDevice(device gotch.Device) Option {
	return func(m *UNetModel) {
		m.device = device
	}
}

// UNetModel wraps the UNet with its data, optimizer, callbacks and
// training history.
//
// Methods are expected in order: LoadData, Build, Checkpoint, TensorBoard,
// Train, Evaluate.
type UNetModel struct {
	cfg     *config.Config
	loader  DataLoader
	plotter Plotter
	device  gotch.Device

	trainIn  *ts.Tensor
	trainOut *ts.Tensor
	testIn   *ts.Tensor
	testOut  *ts.Tensor

	vs    *nn.VarStore
	net   *unet.UNet
	opt   *nn.Optimizer
	sched schedule.Schedule
	step  int

	checkpoint *callback.ModelCheckpoint
	summary    *callback.SummaryWriter

	history  *History
	testLoss float64
}

// New creates UNetModel.
func New(cfg *config.Config, loader DataLoader, plotter Plotter, opts ...Option) *UNetModel {
	m := &UNetModel{
		cfg:      cfg,
		loader:   loader,
		plotter:  plotter,
		device:   gotch.CPU,
		testLoss: math.NaN(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadData loads train and test tensors from the data loader and checks
// their shapes.
func (m *UNetModel) LoadData(show bool) error {
	trainIn, trainOut, testIn, testOut, err := m.loader.Load(show)
	if err != nil {
		return err
	}
	if err := checkPair("train", trainIn, trainOut); err != nil {
		return err
	}
	if err := checkPair("test", testIn, testOut); err != nil {
		return err
	}

	m.trainIn, m.trainOut = trainIn, trainOut
	m.testIn, m.testOut = testIn, testOut
	return nil
}

func checkPair(name string, in, out *ts.Tensor) error {
	if in == nil || out == nil {
		return fmt.Errorf("%w: %s tensors missing", ErrShapeMismatch, name)
	}
	if err := checkShape(name+" input", in, unet.InChannels); err != nil {
		return err
	}
	if err := checkShape(name+" output", out, unet.OutChannels); err != nil {
		return err
	}
	if n, k := in.MustSize()[0], out.MustSize()[0]; n != k {
		return fmt.Errorf("%w: %s has %v inputs and %v outputs", ErrShapeMismatch, name, n, k)
	}
	return nil
}

func checkShape(name string, x *ts.Tensor, channels int64) error {
	size := x.MustSize()
	want := []int64{channels, unet.Height, unet.Width}
	if len(size) != 4 || size[0] == 0 || size[1] != want[0] || size[2] != want[1] || size[3] != want[2] {
		return fmt.Errorf("%w: %s is %v, want [N %v %v %v]", ErrShapeMismatch, name, size, want[0], want[1], want[2])
	}
	return nil
}

// Build creates the network, its Adam optimizer and the learning rate
// schedule.
func (m *UNetModel) Build() error {
	t := m.cfg.Train
	vs := nn.NewVarStore(m.device)
	net := unet.NewUNet(vs.Root())

	opt, err := nn.DefaultAdamConfig().Build(vs, t.InitialLearningRate)
	if err != nil {
		return err
	}

	m.vs = vs
	m.net = net
	m.opt = opt
	m.sched = schedule.NewExponentialDecay(t.InitialLearningRate, t.DecaySteps, t.DecayRate, t.Staircase)
	m.step = 0
	return nil
}

// Checkpoint configures best-only checkpointing on validation loss into
// <model_path>/<experiment>/checkpoints.
func (m *UNetModel) Checkpoint() error {
	if m.cfg.Model.ModelPath == "" || m.cfg.Model.ExperimentName == "" {
		return fmt.Errorf("%w: model.model_path, model.experiment_name", config.ErrMissingKey)
	}
	m.checkpoint = callback.NewModelCheckpoint(m.CheckpointDir())
	return nil
}

// TensorBoard configures the summary writer logging into
// <model_path>/logs/<experiment>/<timestamp>.
func (m *UNetModel) TensorBoard() error {
	if m.cfg.Model.ModelPath == "" || m.cfg.Model.ExperimentName == "" {
		return fmt.Errorf("%w: model.model_path, model.experiment_name", config.ErrMissingKey)
	}
	base := filepath.Join(m.cfg.Model.ModelPath, "logs", m.cfg.Model.ExperimentName)
	m.summary = callback.NewSummaryWriter(callback.TimestampedDir(base, time.Now()))
	return nil
}

// CheckpointDir returns the directory checkpoints are saved to.
func (m *UNetModel) CheckpointDir() string {
	return filepath.Join(m.cfg.Model.ModelPath, m.cfg.Model.ExperimentName, "checkpoints")
}

// LogDir returns the summary directory, or "" before TensorBoard.
func (m *UNetModel) LogDir() string {
	if m.summary == nil {
		return ""
	}
	return m.summary.Dir
}

// HistoryPath returns the file the training history is saved to.
func (m *UNetModel) HistoryPath() string {
	return filepath.Join(m.cfg.Model.ModelPath, m.cfg.Model.ExperimentName, HistoryFile)
}

// Train fits the model on the training split, validating on the held-out
// part each epoch, then saves the history.
func (m *UNetModel) Train() (*History, error) {
	if m.vs == nil {
		return nil, ErrModelNotBuilt
	}
	if m.trainIn == nil {
		return nil, ErrDataNotLoaded
	}
	if m.checkpoint == nil || m.summary == nil {
		return nil, ErrCallbacksNotConfigured
	}

	t := m.cfg.Train
	gen, err := dutil.NewImageDataGenerator(dutil.GeneratorConfig{
		ValidationSplit: t.ValidationSplit,
		HorizontalFlip:  t.HorizontalFlip,
		VerticalFlip:    t.VerticalFlip,
		Seed:            t.Seed,
	})
	if err != nil {
		return nil, err
	}

	hasVal := gen.SplitIndex(m.trainIn.MustSize()[0]) > 0
	subset := dutil.SubsetTraining
	if !hasVal {
		subset = dutil.SubsetAll
	}
	trainIt, err := gen.Flow(m.trainIn, m.trainOut, t.TrainBatchSize, subset, t.Shuffle)
	if err != nil {
		return nil, err
	}
	defer trainIt.Drop()

	var valIt *dutil.Iterator
	if hasVal {
		valIt, err = gen.Flow(m.trainIn, m.trainOut, t.ValBatchSize, dutil.SubsetValidation, t.Shuffle)
		if err != nil {
			return nil, err
		}
		defer valIt.Drop()
	} else {
		log.Printf("No validation samples with validation split %v.\n", t.ValidationSplit)
	}

	steps := trainIt.Len()
	if t.StepsPerEpoch > 0 {
		steps = t.StepsPerEpoch
	}
	log.Printf("Training on %v samples, %v steps per epoch\n", trainIt.Samples(), steps)

	callbacks := []callback.Callback{m.checkpoint, m.summary}
	for _, cb := range callbacks {
		if err := cb.OnTrainBegin(m.vs); err != nil {
			return nil, err
		}
	}

	history := new(History)
	for e := 1; e <= t.Epochs; e++ {
		start := time.Now()
		logs, err := m.trainEpoch(trainIt, steps)
		if err != nil {
			return nil, err
		}
		logs.Epoch = e
		logs.ValLoss, logs.ValAccuracy = math.NaN(), math.NaN()
		if valIt != nil {
			logs.ValLoss, logs.ValAccuracy, err = m.validate(valIt)
			if err != nil {
				return nil, err
			}
		}

		fmt.Printf("Epoch %02d/%02d\t loss: %6.4f\t accuracy: %6.4f\t val_loss: %6.4f\t val_accuracy: %6.4f\t lr: %.6f\t Taken time: %0.2fMin\n",
			e, t.Epochs, logs.Loss, logs.Accuracy, logs.ValLoss, logs.ValAccuracy, logs.LR, time.Since(start).Minutes())

		history.Append(logs)
		for _, cb := range callbacks {
			if err := cb.OnEpochEnd(m.vs, logs); err != nil {
				return nil, err
			}
		}
	}

	for _, cb := range callbacks {
		if err := cb.OnTrainEnd(); err != nil {
			return nil, err
		}
	}
	m.history = history

	if err := os.MkdirAll(filepath.Dir(m.HistoryPath()), 0755); err != nil {
		return history, err
	}
	if err := history.Save(m.HistoryPath()); err != nil {
		return history, fmt.Errorf("save history: %w", err)
	}

	return history, nil
}

// trainEpoch runs steps optimizer steps. The iterator restarts when a pass
// runs out before steps are done.
func (m *UNetModel) trainEpoch(it *dutil.Iterator, steps int) (callback.EpochLogs, error) {
	var (
		lossSum float64
		accSum  float64
		seen    int
	)
	for s := 0; s < steps; s++ {
		if !it.HasNext() {
			it.Reset()
		}
		x, y, err := it.Next()
		if err != nil {
			return callback.EpochLogs{}, err
		}
		input := x.MustTo(m.device, true)
		target := y.MustTo(m.device, true)

		m.opt.SetLR(m.sched.LR(m.step))
		pred := m.net.ForwardT(input, true)
		loss := metric.MAELoss(pred, target)
		m.opt.BackwardStep(loss)
		m.step++

		bs := float64(input.MustSize()[0])
		lossSum += metric.Float(loss) * bs
		accSum += metric.BinaryAccuracy(pred, target, AccuracyThreshold) * bs
		seen += int(bs)

		input.MustDrop()
		target.MustDrop()
		pred.MustDrop()
		loss.MustDrop()
	}

	logs := callback.EpochLogs{LR: m.sched.LR(m.step)}
	if seen > 0 {
		logs.Loss = lossSum / float64(seen)
		logs.Accuracy = accSum / float64(seen)
	}
	return logs, nil
}

// validate runs one full pass over it without gradients.
func (m *UNetModel) validate(it *dutil.Iterator) (loss, acc float64, err error) {
	var (
		lossSum float64
		accSum  float64
		seen    int
	)
	it.Reset()
	for it.HasNext() {
		x, y, err := it.Next()
		if err != nil {
			return 0, 0, err
		}
		input := x.MustTo(m.device, true)
		target := y.MustTo(m.device, true)

		ts.NoGrad(func() {
			pred := m.net.ForwardT(input, false)
			l := metric.MAELoss(pred, target)
			bs := float64(input.MustSize()[0])
			lossSum += metric.Float(l) * bs
			accSum += metric.BinaryAccuracy(pred, target, AccuracyThreshold) * bs
			seen += int(bs)
			pred.MustDrop()
			l.MustDrop()
		})

		input.MustDrop()
		target.MustDrop()
	}
	if seen == 0 {
		return math.NaN(), math.NaN(), nil
	}

	return lossSum / float64(seen), accSum / float64(seen), nil
}

// Predict runs batched inference on x ([N 2 50 50]) and returns the
// predictions on CPU.
func (m *UNetModel) Predict(x *ts.Tensor) (*ts.Tensor, error) {
	if m.vs == nil {
		return nil, ErrModelNotBuilt
	}
	if err := checkShape("input", x, unet.InChannels); err != nil {
		return nil, err
	}

	batchSize := int64(m.cfg.Train.ValBatchSize)
	if batchSize <= 0 {
		batchSize = 32
	}

	n := x.MustSize()[0]
	var preds []ts.Tensor
	for start := int64(0); start < n; start += batchSize {
		length := batchSize
		if start+length > n {
			length = n - start
		}
		input := x.MustNarrow(0, start, length, false).MustTo(m.device, true)
		ts.NoGrad(func() {
			pred := m.net.ForwardT(input, false)
			preds = append(preds, *pred.MustTo(gotch.CPU, true))
		})
		input.MustDrop()
	}

	out := ts.MustCat(preds, 0)
	for i := range preds {
		preds[i].MustDrop()
	}
	return out, nil
}

// Evaluate predicts the test inputs, logs the test loss and hands
// (truth, input, prediction) to the plotter.
func (m *UNetModel) Evaluate() error {
	if m.testIn == nil {
		return ErrDataNotLoaded
	}
	if m.vs == nil {
		return ErrModelNotBuilt
	}

	pred, err := m.Predict(m.testIn)
	if err != nil {
		return err
	}
	defer pred.MustDrop()

	truth := m.testOut.MustTo(gotch.CPU, false)
	defer truth.MustDrop()
	loss := metric.MAELoss(pred, truth)
	m.testLoss = metric.Float(loss)
	acc := metric.BinaryAccuracy(pred, truth, AccuracyThreshold)
	loss.MustDrop()
	log.Printf("test loss: %6.4f\t test accuracy: %6.4f\n", m.testLoss, acc)

	if m.plotter == nil {
		return nil
	}
	input := m.testIn.MustTo(gotch.CPU, false)
	defer input.MustDrop()
	return m.plotter.PlotResults(truth, input, pred)
}

// LoadWeights restores the var store from a checkpoint file.
func (m *UNetModel) LoadWeights(path string) error {
	if m.vs == nil {
		return ErrModelNotBuilt
	}
	if err := m.vs.Load(path); err != nil {
		return fmt.Errorf("load weights %v: %w", path, err)
	}
	return nil
}

// History returns the history of the last Train call, or nil.
func (m *UNetModel) History() *History {
	return m.history
}

// TestLoss returns the mean absolute error of the last Evaluate call, NaN
// before it.
func (m *UNetModel) TestLoss() float64 {
	return m.testLoss
}
