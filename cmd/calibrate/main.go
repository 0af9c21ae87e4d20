package main

import (
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"flyassay/internal/calibration"
	"flyassay/internal/config"
	"flyassay/internal/logger"
	"flyassay/internal/vision"
)

func main() {
	cfg := config.Load()
	log := logger.NewWriterLogger(os.Stderr)

	root := &cobra.Command{
		Use:          "calibrate",
		Short:        "Camera lens calibration for the activity rig",
		SilenceUsage: true,
	}
	root.PersistentFlags().IntVar(&cfg.CameraDevice, "device", cfg.CameraDevice, "camera device index")
	root.PersistentFlags().StringVar(&cfg.CalibrationPath, "file", cfg.CalibrationPath, "calibration JSON")
	root.AddCommand(
		newCalibrateCommand(cfg, log),
		newPreviewCommand(cfg, log),
		newTestCommand(cfg, log),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openCamera(cfg *config.Config, calib *calibration.Data, log *logger.Logger) (*vision.Camera, error) {
	var u *vision.Undistorter
	if calib != nil {
		var err error
		if u, err = vision.NewUndistorter(calib); err != nil {
			return nil, err
		}
	}
	cam, err := vision.OpenCamera(cfg.CameraDevice, cfg.WarmupFrames, u, log)
	if err != nil && u != nil {
		u.Close()
	}
	return cam, err
}

func newCalibrateCommand(cfg *config.Config, log *logger.Logger) *cobra.Command {
	var (
		samples int
		cols    int
		rows    int
		show    bool
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Collect chessboard views and compute the camera matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			cam, err := openCamera(cfg, nil, log)
			if err != nil {
				return err
			}
			defer cam.Close()

			c := vision.NewCalibrator(image.Pt(cols, rows), samples, log)
			c.Show = show
			data, err := c.Run(cam)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reprojection error: %.4f\nCamera matrix: %v\nDistortion: %v\n",
				data.ReprojectionError, data.CameraMatrix, data.DistCoeff)

			if !save {
				return nil
			}
			if err := calibration.Save(cfg.CalibrationPath, data); err != nil {
				return err
			}
			log.Info("💾 Calibration saved to %s", cfg.CalibrationPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&samples, "samples", 150, "chessboard views to collect")
	cmd.Flags().IntVar(&cols, "cols", vision.DefaultPattern.X, "inner corners per chessboard row")
	cmd.Flags().IntVar(&rows, "rows", vision.DefaultPattern.Y, "inner corners per chessboard column")
	cmd.Flags().BoolVar(&show, "show", true, "display detections while collecting")
	cmd.Flags().BoolVar(&save, "save", true, "write the result to --file")
	return cmd
}

func newPreviewCommand(cfg *config.Config, log *logger.Logger) *cobra.Command {
	var corrected bool
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Stream the camera, raw or lens-corrected",
		RunE: func(cmd *cobra.Command, args []string) error {
			var calib *calibration.Data
			if corrected {
				var err error
				if calib, err = calibration.Load(cfg.CalibrationPath); err != nil {
					return err
				}
			}
			cam, err := openCamera(cfg, calib, log)
			if err != nil {
				return err
			}
			defer cam.Close()
			return vision.Show("preview", cam.ReadMat)
		},
	}
	cmd.Flags().BoolVar(&corrected, "corrected", false, "apply the saved calibration")
	return cmd
}

func newTestCommand(cfg *config.Config, log *logger.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Show original and corrected frames side by side",
		RunE: func(cmd *cobra.Command, args []string) error {
			calib, err := calibration.Load(cfg.CalibrationPath)
			if err != nil {
				return err
			}
			u, err := vision.NewUndistorter(calib)
			if err != nil {
				return err
			}
			defer u.Close()

			cam, err := openCamera(cfg, nil, log)
			if err != nil {
				return err
			}
			defer cam.Close()

			return vision.Show("original | corrected", func() (gocv.Mat, error) {
				raw, err := cam.ReadRaw()
				if err != nil {
					return gocv.Mat{}, err
				}
				defer raw.Close()
				return vision.SideBySide(raw, u), nil
			})
		},
	}
}
