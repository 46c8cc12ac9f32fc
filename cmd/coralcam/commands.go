package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/coralcam/internal/debug"
	"github.com/cjeanneret/coralcam/internal/frame"
	"github.com/cjeanneret/coralcam/internal/logic/capture"
	"github.com/cjeanneret/coralcam/internal/web"
)

func closeRig(r *rig) {
	if err := r.Close(); err != nil {
		debug.Warn("rig teardown: %v", err)
	}
}

// lightUp switches the light on at the configured brightness, if any.
func lightUp(r *rig) {
	if b, _ := r.light.Brightness(); b > 0 {
		if err := r.light.On(); err != nil {
			debug.Warn("Light: %v", err)
		}
	}
}

func newScanCmd(a *app) *cobra.Command {
	var (
		output  string
		name    string
		count   int
		delay   time.Duration
		enhance bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Shoot one full turntable revolution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.cfg.Capture
			req := capture.Request{
				OutputDir:         c.OutputDir,
				BaseName:          c.BaseName,
				ImageCount:        c.ImageCount,
				InterCaptureDelay: a.cfg.InterCaptureDelay(),
				ApplyEnhancement:  c.ApplyEnhancement,
			}
			f := cmd.Flags()
			if f.Changed("output") {
				req.OutputDir = output
			}
			if f.Changed("name") {
				req.BaseName = name
			}
			if f.Changed("count") {
				req.ImageCount = count
			}
			if f.Changed("delay") {
				req.InterCaptureDelay = delay
			}
			if f.Changed("enhance") {
				req.ApplyEnhancement = enhance
			}
			return runScan(cmd, a, req)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default: capture.output_dir)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "base name of the image set (default: capture.base_name)")
	cmd.Flags().IntVarP(&count, "count", "c", 0, "images per revolution (default: capture.image_count)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "wait before each frame (default: capture.inter_capture_delay_ms)")
	cmd.Flags().BoolVar(&enhance, "enhance", false, "apply the enhancement pipeline to saved frames")
	return cmd
}

func runScan(cmd *cobra.Command, a *app, req capture.Request) error {
	ctx := cmd.Context()
	r, err := openRig(ctx, a.cfg, partAll)
	if err != nil {
		return err
	}
	defer closeRig(r)
	lightUp(r)

	bar := progressbar.NewOptions(max(req.ImageCount, 1),
		progressbar.OptionSetDescription("Scanning "+req.BaseName),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
	)
	if _, err := r.seq.Run(ctx, req, func(p capture.Progress) {
		_ = bar.Set(p.Frame + 1)
	}, nil); err != nil {
		return err
	}
	res, _ := r.seq.Wait()
	_ = bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s %s: %d/%d frames, %d files in %s\n",
		res.RunID, res.State, res.FramesCompleted, req.ImageCount, len(res.Files), res.Dir)
	for _, m := range res.Missing {
		fmt.Fprintf(out, "  missing frame %03d camera %d: %s\n", m.Frame, m.CameraID, m.Error)
	}
	for _, m := range res.MotionFailures {
		fmt.Fprintf(out, "  rotation after frame %03d failed: %s\n", m.Frame, m.Error)
	}
	if res.State == capture.Aborted {
		return fmt.Errorf("scan aborted after %d/%d frames", res.FramesCompleted, req.ImageCount)
	}
	return nil
}

func newSnapCmd(a *app) *cobra.Command {
	var (
		ids     []int
		output  string
		name    string
		enhance bool
	)
	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Capture one still per camera without moving the turntable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("output") {
				output = a.cfg.Capture.OutputDir
			}
			if err := os.MkdirAll(output, 0o755); err != nil {
				return err
			}
			r, err := openRig(cmd.Context(), a.cfg, partCameras|partLight)
			if err != nil {
				return err
			}
			defer closeRig(r)
			lightUp(r)

			if len(ids) == 0 {
				ids = r.cams.IDs()
			}
			var errs []error
			for _, id := range ids {
				path := filepath.Join(output, frame.FileName(name, 0, id, r.cams.Ext()))
				if err := r.cams.CaptureToFile(id, path, enhance); err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().IntSliceVar(&ids, "camera", nil, "camera ids (default: all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default: capture.output_dir)")
	cmd.Flags().StringVarP(&name, "name", "n", "snap", "file base name")
	cmd.Flags().BoolVar(&enhance, "enhance", false, "apply the enhancement pipeline")
	return cmd
}

func newLevelsCmd(a *app) *cobra.Command {
	var ids []int
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Suggest levels limits from the preview stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRig(cmd.Context(), a.cfg, partCameras|partLight)
			if err != nil {
				return err
			}
			defer closeRig(r)
			lightUp(r)

			if len(ids) == 0 {
				ids = r.cams.IDs()
			}
			var errs []error
			for _, id := range ids {
				lo, hi, err := r.cams.SuggestLevels(id)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "camera %d: lower_limit %d upper_limit %d\n", id, lo, hi)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().IntSliceVar(&ids, "camera", nil, "camera ids (default: all)")
	return cmd
}

func newRotateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rotate [--] DEGREES",
		Short:   "Turn the turntable by a relative angle",
		Long:    "Turn the turntable by a relative angle. A negative angle turns backwards;\nput it after -- so it is not read as a flag.",
		Example: "  coralcam rotate 90\n  coralcam rotate -- -90",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deg, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("degrees: %w", err)
			}
			r, err := openRig(cmd.Context(), a.cfg, partTurntable)
			if err != nil {
				return err
			}
			defer closeRig(r)

			if err := r.table.Enable(); err != nil {
				return err
			}
			return r.table.Rotate(deg)
		},
	}
}

// parseLight accepts "on", "off" or a brightness percentage.
func parseLight(arg string) (on bool, percent float64, hasPercent bool, err error) {
	switch strings.ToLower(arg) {
	case "on":
		return true, 0, false, nil
	case "off":
		return false, 0, false, nil
	}
	p, err := strconv.ParseFloat(strings.TrimSuffix(arg, "%"), 64)
	if err != nil || p < 0 || p > 100 {
		return false, 0, false, fmt.Errorf("light: want on, off or 0-100, got %q", arg)
	}
	return p > 0, p, true, nil
}

func newLightCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "light on|off|PERCENT",
		Short: "Set the ring light; it stays on until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, pct, hasPct, err := parseLight(args[0])
			if err != nil {
				return err
			}
			r, err := openRig(cmd.Context(), a.cfg, partLight)
			if err != nil {
				return err
			}
			defer closeRig(r)

			switch {
			case !on:
				return r.light.Off()
			case hasPct:
				err = r.light.SetBrightness(pct)
			default:
				err = r.light.On()
			}
			if err != nil {
				return err
			}
			b, _ := r.light.Brightness()
			fmt.Fprintf(cmd.OutOrStdout(), "Light on at %.0f%%, interrupt to switch off\n", b)
			<-cmd.Context().Done()
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web control panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Web.Addr
			}
			r, err := openRig(cmd.Context(), cfg, partAll)
			if err != nil {
				return err
			}
			defer closeRig(r)
			lightUp(r)

			broadcaster := web.NewStatusBroadcaster()
			debug.SetOutput(web.BroadcastWriter(broadcaster))
			defer debug.SetOutput(nil)

			form := web.FormConfig{
				OutputDir:           cfg.Capture.OutputDir,
				BaseName:            cfg.Capture.BaseName,
				ImageCount:          cfg.Capture.ImageCount,
				InterCaptureDelayMs: cfg.Capture.InterCaptureDelayMs,
				ApplyEnhancement:    cfg.Capture.ApplyEnhancement,
			}
			srv, err := web.NewServer(addr, broadcaster, web.Deps{
				Sequencer: r.seq,
				Cameras:   r.cams,
				Light:     r.light,
				Turntable: r.table,
			}, form, web.Options{
				MaxBodyBytes:    cfg.Web.MaxBodyBytes,
				PreviewInterval: cfg.PreviewInterval(),
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error {
				<-gctx.Done()
				r.seq.Stop()
				r.seq.Wait()
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: web.addr)")
	return cmd
}
