// Package main is a command that loads a camera calibration file and verifies
// the model's analytic Jacobians and projection round trips numerically.
package main

import (
	"flag"
	"math/rand"

	"go.viam.com/vio/camera"
	"go.viam.com/vio/logging"
)

func main() {
	samples := flag.Int("samples", 200, "number of random bearings to test")
	seed := flag.Int64("seed", 1, "random seed")
	index := flag.Float64("index", 0, "override the refractive index, 0 keeps the calibrated value")

	flag.Parse()
	logger := logging.NewDevelopmentLogger("modelcheck")

	if flag.NArg() < 1 {
		logger.Fatal("need a calibration file argument")
	}

	model, err := camera.NewModelFromJSONFile(flag.Arg(0))
	if err != nil {
		logger.Fatalw("cannot load calibration", "file", flag.Arg(0), "error", err)
	}
	logger.Infow("loaded camera model",
		"file", flag.Arg(0),
		"model", model.Distortion.ModelType(),
		"width", model.Intrinsics.Width,
		"height", model.Intrinsics.Height,
	)
	if *index != 0 {
		if _, ok := model.RefractiveIndex(); !ok {
			logger.Fatalw("calibration has no refractive component to override", "model", model.Distortion.ModelType())
		}
		model.SetRefractiveIndex(*index)
	}

	rng := rand.New(rand.NewSource(*seed))
	if err := model.SelfCheck(rng, *samples, logger); err != nil {
		logger.Fatalw("model self check failed", "error", err)
	}
	logger.Infow("model self check passed", "samples", *samples)
}
