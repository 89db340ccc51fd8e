package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/app"
	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/config"
	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/inference"
	"github.com/ayusman/senas/internal/server"
)

var (
	serveAddr string
	serveLive bool
	videoPath string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override server.addr")
	serveCmd.Flags().BoolVar(&serveLive, "live", false, "also run the camera loop and push results on /api/live")
	serveCmd.Flags().StringVar(&videoPath, "video", "", "read frames from a video file instead of the camera")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve predictions over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		st, err := openStore(cfg)
		if err != nil {
			return errors.Wrap(err, "open store")
		}
		defer st.Close()

		svc := inference.New(log.Named("inference"))
		if err := svc.Load(cfg.Model.Dir); err != nil {
			log.Warn("serving without a model; predictions return 503 until a reload succeeds", zap.Error(err))
		}

		staticDir := cfg.Server.StaticDir
		if staticDir == "" {
			staticDir = findWebDir()
		}

		hub := server.NewHub(log.Named("live"))
		srvCfg := server.Config{
			StaticDir: staticDir,
			Service:   svc,
			Store:     st,
			Hub:       hub,
			RateLimit: cfg.Server.RateLimit,
			Burst:     cfg.Server.Burst,
			Logger:    log.Named("server"),
		}

		if serveLive {
			live, err := newLiveApp(cfg, svc, hub, log)
			if err != nil {
				return err
			}
			if err := live.Start(); err != nil {
				return errors.Wrap(err, "start camera loop")
			}
			defer live.Stop()
			srvCfg.Frames = live
		}

		ctx, cancel := signalContext()
		defer cancel()
		return server.New(srvCfg).ListenAndServe(ctx, cfg.Server.Addr)
	},
}

// newLiveApp wires the camera loop. Landmark models need the MediaPipe
// helper; image models classify raw frames.
func newLiveApp(cfg config.Config, svc *inference.Service, pub app.Publisher, log *zap.Logger) (*app.App, error) {
	cam := capture.NewCamera(cfg.Camera.DeviceID)
	if videoPath != "" {
		cam = capture.NewVideoFile(videoPath)
	}

	var det detector.Detector
	if svc.Mode() != features.ModeImage {
		mp, err := detector.NewMediaPipeDetector(cfg.Detector, log.Named("detector"))
		if err != nil {
			return nil, errors.Wrap(err, "hand detector")
		}
		det = mp
	}

	return app.New(app.Config{
		Camera:          cam,
		Detector:        det,
		Service:         svc,
		Publisher:       pub,
		MotionThreshold: cfg.Camera.MotionThreshold,
		Smoothing:       cfg.Live.Smoothing,
		Threshold:       cfg.Live.Threshold,
		Logger:          log.Named("live"),
	})
}
