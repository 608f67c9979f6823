// Package main calibrates camera intrinsics and initial poses from
// checkerboard detections.
package main

import (
	"log"
	"math/rand"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/sfm/calibration"
	"go.viam.com/sfm/chessboard"
	"go.viam.com/sfm/refine"
	"go.viam.com/sfm/scene"
)

const (
	inputFlag         = "input"
	checkersFlag      = "checkers"
	outputFlag        = "output"
	squareSizeFlag    = "square-size"
	nestedFlag        = "nested"
	simplePinholeFlag = "simple-pinhole"
	distanceFlag      = "distance"
	seedFlag          = "seed"
	debugFlag         = "debug"
)

func main() {
	var logger golog.Logger

	app := &cli.App{
		Name:  "intrinsics_calibration",
		Usage: "calibrate camera intrinsics and initial poses from checkerboard detections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     inputFlag,
				Usage:    "scene JSON `FILE` with views and initial intrinsics",
				Required: true,
			},
			&cli.StringFlag{
				Name:     checkersFlag,
				Usage:    "`DIR` holding checkers_<view>.json detection files",
				Required: true,
			},
			&cli.StringFlag{
				Name:  outputFlag,
				Usage: "write the calibrated scene to `FILE` instead of overwriting the input",
			},
			&cli.Float64Flag{
				Name:  squareSizeFlag,
				Value: 1.,
				Usage: "physical edge length of one checkerboard square",
			},
			&cli.BoolFlag{
				Name:  nestedFlag,
				Usage: "calibrate a single image of a nested board target instead of multiple views",
			},
			&cli.BoolFlag{
				Name:  simplePinholeFlag,
				Usage: "constrain nested calibration to square pixels, a centered principal point, and no distortion",
			},
			&cli.Float64Flag{
				Name:  distanceFlag,
				Usage: "soft prior on the camera to target distance during refinement",
			},
			&cli.Int64Flag{
				Name:  seedFlag,
				Value: 1,
				Usage: "seed for the robust estimators",
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(debugFlag) {
				logger = golog.NewDebugLogger("intrinsics_calibration")
			} else {
				logger = golog.NewDevelopmentLogger("intrinsics_calibration")
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return runCalibration(c, logger)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runCalibration(c *cli.Context, logger golog.Logger) error {
	sc, err := scene.Load(c.String(inputFlag))
	if err != nil {
		return errors.Wrap(err, "cannot load the scene")
	}
	detections, err := chessboard.LoadDetectionsForViews(c.String(checkersFlag), sc.ViewIDs())
	if err != nil {
		return errors.Wrap(err, "cannot load the detections")
	}
	if len(detections) == 0 {
		return errors.Errorf("no detection files for any view under %s", c.String(checkersFlag))
	}

	adjuster, err := refine.NewNloptAdjuster(refine.Config{
		Summary:  true,
		Distance: c.Float64(distanceFlag),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(c.Int64(seedFlag)))

	if c.Bool(nestedFlag) {
		opts := calibration.NestedOptions{SimplePinhole: c.Bool(simplePinholeFlag)}
		// without a physical reference the base square size is synthetic
		if c.IsSet(squareSizeFlag) {
			opts.BaseSquareSize = c.Float64(squareSizeFlag)
		}
		err = calibration.CalibrateNestedBoards(sc, detections, opts, adjuster, rng, logger)
	} else {
		err = calibration.CalibrateMultiView(sc, detections, c.Float64(squareSizeFlag), adjuster, rng, logger)
	}
	if err != nil {
		return err
	}

	output := c.String(outputFlag)
	if output == "" {
		output = c.String(inputFlag)
	}
	if err := scene.Save(sc, output); err != nil {
		return errors.Wrap(err, "cannot save the calibrated scene")
	}
	logger.Infof("calibrated scene written to %s", output)
	return nil
}
