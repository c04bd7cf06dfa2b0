package callback

import (
	"github.com/sugarme/gotch/nn"
)

// EpochLogs holds the metrics reported at the end of an epoch.
// Epoch is 1-based. ValLoss and ValAccuracy are NaN without validation data.
type EpochLogs struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
	LR          float64
}

// Callback hooks into the training loop.
type Callback interface {
	OnTrainBegin(vs *nn.VarStore) error
	OnEpochEnd(vs *nn.VarStore, logs EpochLogs) error
	OnTrainEnd() error
}
