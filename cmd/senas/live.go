package main

import (
	"os/exec"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/app"
	"github.com/ayusman/senas/internal/inference"
	"github.com/ayusman/senas/internal/tray"
)

var liveTray bool

func init() {
	liveCmd.Flags().BoolVar(&liveTray, "tray", false, "show the last sign in the system tray (overrides live.tray)")
	liveCmd.Flags().StringVar(&videoPath, "video", "", "read frames from a video file instead of the camera")
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "classify the camera feed and log recognized signs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		svc := inference.New(log.Named("inference"))
		if err := svc.Load(cfg.Model.Dir); err != nil {
			return errors.Wrap(err, "the live loop needs a model")
		}

		live, err := newLiveApp(cfg, svc, nil, log)
		if err != nil {
			return err
		}
		if err := live.Start(); err != nil {
			return errors.Wrap(err, "start camera loop")
		}
		defer live.Stop()

		ctx, cancel := signalContext()
		defer cancel()

		if !liveTray && !cfg.Live.Tray {
			select {
			case <-ctx.Done():
			case <-live.Done():
			}
			return nil
		}

		t := tray.New()
		t.OnToggle(func(enabled bool) {
			live.SetEnabled(enabled)
			log.Info("recognition toggled", zap.Bool("enabled", enabled))
		})
		t.OnQuit(cancel)
		t.OnDashboard(func() {
			if err := openBrowser(dashboardURL(cfg.Server.Addr)); err != nil {
				log.Warn("failed to open dashboard", zap.Error(err))
			}
		})
		live.OnDecision(func(ev app.Event) {
			t.SetLast(ev.Prediction, ev.Confidence)
		})
		go func() {
			select {
			case <-ctx.Done():
			case <-live.Done():
			}
			t.Quit()
		}()
		t.Run()
		return nil
	},
}

func dashboardURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) error {
	name := "xdg-open"
	if runtime.GOOS == "darwin" {
		name = "open"
	}
	return exec.Command(name, url).Start()
}
