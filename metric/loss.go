package metric

import (
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// MAELoss is the mean absolute error between prediction and target.
// The result is a scalar tensor that can be back-propagated.
func MAELoss(pred, target *ts.Tensor) *ts.Tensor {
	diff := pred.MustSub(target, false)
	abs := diff.MustAbs(true)

	return abs.MustMean(gotch.Float, true)
}

// BinaryAccuracy is the fraction of pixels where the prediction thresholded
// at `threshold` equals the target.
//
// NOTE. reported for parity with the classification-style "accuracy" metric;
// it carries little meaning for continuous targets.
func BinaryAccuracy(pred, target *ts.Tensor, threshold float64) float64 {
	p := pred.MustGt(ts.FloatScalar(threshold), false).MustTotype(gotch.Float, true)
	diff := p.MustSub(target, true).MustAbs(true)
	eq := diff.MustLt(ts.FloatScalar(1e-6), true).MustTotype(gotch.Double, true)
	mean := eq.MustMean(gotch.Double, true)
	acc := mean.Float64Values()[0]
	mean.MustDrop()

	return acc
}

// Float returns the value of a single element tensor.
func Float(x *ts.Tensor) float64 {
	return x.Float64Values()[0]
}
