package callback

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/sugarme/gotch/nn"
)

// CheckpointPath returns the file a checkpoint of the given epoch is saved
// to: <dir>/weights-<epoch:02d>-<loss:.4f>-<val_loss:.4f>.
func CheckpointPath(dir string, epoch int, loss, valLoss float64) string {
	return filepath.Join(dir, fmt.Sprintf("weights-%02d-%.4f-%.4f", epoch, loss, valLoss))
}

// ModelCheckpoint saves the whole var store once per epoch when validation
// loss improves on the best value seen so far.
type ModelCheckpoint struct {
	Dir string

	best  float64
	saved []string
}

// NewModelCheckpoint creates ModelCheckpoint writing to dir.
func NewModelCheckpoint(dir string) *ModelCheckpoint {
	return &ModelCheckpoint{
		Dir:  dir,
		best: math.Inf(1),
	}
}

// OnTrainBegin implements Callback.
func (c *ModelCheckpoint) OnTrainBegin(vs *nn.VarStore) error {
	return os.MkdirAll(c.Dir, 0755)
}

// OnEpochEnd implements Callback.
func (c *ModelCheckpoint) OnEpochEnd(vs *nn.VarStore, logs EpochLogs) error {
	if math.IsNaN(logs.ValLoss) {
		log.Printf("Can save best model only with val_loss available, skipping epoch %02d.\n", logs.Epoch)
		return nil
	}
	if logs.ValLoss >= c.best {
		return nil
	}

	path := CheckpointPath(c.Dir, logs.Epoch, logs.Loss, logs.ValLoss)
	if err := vs.Save(path); err != nil {
		return fmt.Errorf("save checkpoint %v: %w", path, err)
	}
	c.best = logs.ValLoss
	c.saved = append(c.saved, path)

	return nil
}

// OnTrainEnd implements Callback.
func (c *ModelCheckpoint) OnTrainEnd() error {
	return nil
}

// Best returns the best validation loss seen so far.
func (c *ModelCheckpoint) Best() float64 {
	return c.best
}

// Saved returns the checkpoint files written, oldest first.
func (c *ModelCheckpoint) Saved() []string {
	return append([]string(nil), c.saved...)
}
