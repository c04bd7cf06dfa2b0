package model

import (
	"encoding/gob"
	"os"

	"github.com/sugarme/unetreg/callback"
)

// HistoryFile is the file name the training history is saved to.
const HistoryFile = "model_history.pkl"

// History holds per-epoch metrics of a training run, indexed by epoch.
type History struct {
	Epoch       []int
	Loss        []float64
	Accuracy    []float64
	ValLoss     []float64
	ValAccuracy []float64
	LR          []float64
}

// Append records the logs of one epoch.
func (h *History) Append(logs callback.EpochLogs) {
	h.Epoch = append(h.Epoch, logs.Epoch)
	h.Loss = append(h.Loss, logs.Loss)
	h.Accuracy = append(h.Accuracy, logs.Accuracy)
	h.ValLoss = append(h.ValLoss, logs.ValLoss)
	h.ValAccuracy = append(h.ValAccuracy, logs.ValAccuracy)
	h.LR = append(h.LR, logs.LR)
}

// Len returns the number of recorded epochs.
func (h *History) Len() int {
	return len(h.Epoch)
}

// Save writes the history to path, creating or truncating it.
func (h *History) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(h); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadHistory reads a history written by Save.
func LoadHistory(path string) (*History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := new(History)
	if err := gob.NewDecoder(f).Decode(h); err != nil {
		return nil, err
	}
	return h, nil
}
