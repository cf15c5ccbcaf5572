package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"eyegames/internal/handlerclient"
	"eyegames/internal/tracker"
	"eyegames/internal/tracker/relay"
	"eyegames/internal/tracker/trackertest"

	"github.com/spf13/cobra"
)

var (
	trackerHost string
	trackerPort int
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Eye tracker commands",
	Long:  `Inspect, calibrate and stream from an eye tracker server, or run a simulated one.`,
}

func connectTracker(ctx context.Context) (*tracker.Client, error) {
	opts := tracker.DefaultOptions()
	opts.Transport.HeartbeatInterval = cfg.HeartbeatInterval
	opts.RequestTimeout = cfg.RequestTimeout
	opts.FrameTimeout = cfg.FrameTimeout
	opts.Logger = slog.Default()
	return tracker.Connect(ctx, trackerHost, trackerPort, opts)
}

var trackerInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show tracker state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		client, err := connectTracker(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		version, err := client.Version(ctx)
		if err != nil {
			return err
		}
		width, height, err := client.ScreenResolution(ctx)
		if err != nil {
			return err
		}
		rate, err := client.FrameRate(ctx)
		if err != nil {
			return err
		}
		state, err := client.TrackerState(ctx)
		if err != nil {
			return err
		}
		calibrated, err := client.IsCalibrated(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Tracker:     %s\n", net.JoinHostPort(trackerHost, strconv.Itoa(trackerPort)))
		fmt.Fprintf(out, "Version:     %d\n", version)
		fmt.Fprintf(out, "Screen:      %dx%d\n", width, height)
		fmt.Fprintf(out, "Frame rate:  %d\n", rate)
		fmt.Fprintf(out, "State:       %d\n", state)
		fmt.Fprintf(out, "Calibrated:  %t\n", calibrated)
		return nil
	},
}

var trackerCalibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run a calibration",
	Long: `Run a full calibration on a shuffled grid of targets.
Supported point counts are 9, 12 and 16.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		points, _ := cmd.Flags().GetInt("points")
		margin, _ := cmd.Flags().GetInt("margin")
		dwell, _ := cmd.Flags().GetDuration("dwell")

		ctx, cancel := signalContext(cmd)
		defer cancel()

		client, err := connectTracker(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		width, height, err := client.ScreenResolution(ctx)
		if err != nil {
			return err
		}
		plan := tracker.DefaultCalibrationPlan(tracker.CalibrationGrid(points, width, height, margin, nil))
		if dwell > 0 {
			plan.Dwell = dwell
		}
		out := cmd.OutOrStdout()
		plan.OnPoint = func(p tracker.Point) {
			fmt.Fprintf(out, "  target (%d, %d)\n", p.X, p.Y)
		}

		fmt.Fprintf(out, "Calibrating %d points on %dx%d\n", len(plan.Points), width, height)
		result, err := client.Calibrate(ctx, plan)
		if err != nil {
			return err
		}
		if !result.Result {
			fmt.Fprintln(out, "Calibration failed")
			return nil
		}
		fmt.Fprintf(out, "Calibration ok: %.2f deg (left %.2f, right %.2f)\n",
			result.Degrees, result.DegreesLeft, result.DegreesRight)
		return nil
	},
}

var trackerStreamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream gaze frames",
	Long: `Read frames for a while and print the average gaze point.
With --out every frame is written as a JSON line tagged with --round and --feedback.
With --push the tracker streams frames and --raw records them verbatim.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		interval, _ := cmd.Flags().GetDuration("interval")
		push, _ := cmd.Flags().GetBool("push")
		rawPath, _ := cmd.Flags().GetString("raw")
		outPath, _ := cmd.Flags().GetString("out")
		round, _ := cmd.Flags().GetInt("round")
		feedback, _ := cmd.Flags().GetBool("feedback")

		if rawPath != "" && !push {
			return fmt.Errorf("--raw requires --push")
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()
		ctx, stop := context.WithTimeout(ctx, duration)
		defer stop()

		client, err := connectTracker(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		if rawPath != "" {
			f, err := os.Create(rawPath)
			if err != nil {
				return err
			}
			if err := client.RecordTo(bufio.NewWriter(f)); err != nil {
				f.Close()
				return err
			}
			defer func() {
				client.RecordTo(nil)
				f.Close()
			}()
		}
		if push {
			if err := client.SetPushMode(ctx, true); err != nil {
				return err
			}
		}

		var packets *json.Encoder
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w := bufio.NewWriter(f)
			defer w.Flush()
			packets = json.NewEncoder(w)
		}
		tag := handlerclient.RoundTag{Round: round, Mode: handlerclient.ContributionMode}
		if feedback {
			tag.Mode = handlerclient.FeedbackMode
		}

		out := cmd.OutOrStdout()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		frames := 0
		for {
			select {
			case <-ctx.Done():
				fmt.Fprintf(out, "%d frames\n", frames)
				return nil
			case <-client.Done():
				return client.Err()
			case <-ticker.C:
			}

			raw, err := client.RawFrame(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				return err
			}
			frames++

			var frame tracker.Frame
			if err := json.Unmarshal(raw, &frame); err == nil {
				fmt.Fprintf(out, "%s  gaze (%.1f, %.1f)\n", frame.Timestamp, frame.Avg.X, frame.Avg.Y)
			}
			if packets != nil {
				values, _ := json.Marshal(map[string]json.RawMessage{"frame": raw})
				if err := packets.Encode(tag.Packet(values)); err != nil {
					return err
				}
			}
		}
	},
}

var trackerDriftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Estimate the tracker clock offset",
	RunE: func(cmd *cobra.Command, args []string) error {
		samples, _ := cmd.Flags().GetInt("samples")
		tolerance, _ := cmd.Flags().GetDuration("tolerance")

		ctx, cancel := signalContext(cmd)
		defer cancel()

		client, err := connectTracker(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		opts := tracker.DefaultDriftOptions()
		opts.Samples = samples
		opts.Tolerance = tolerance
		result, err := client.EstimateClockOffset(ctx, opts)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if result.Indeterminate {
			fmt.Fprintln(out, "Offset indeterminate, sample again later")
			return nil
		}
		fmt.Fprintf(out, "Offset %s (local minus tracker, %d samples)\n", result.Offset, result.Used)
		return nil
	},
}

var trackerSimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated tracker server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("listen")

		ctx, cancel := signalContext(cmd)
		defer cancel()

		srv, err := trackertest.Start(addr)
		if err != nil {
			return err
		}
		defer srv.Close()

		slog.Info("simulated_tracker_started", "addr", srv.Addr())
		<-ctx.Done()
		return nil
	},
}

var trackerRelayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay tracker frames to websocket observers",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("listen-port")
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, cancel := signalContext(cmd)
		defer cancel()

		client, err := connectTracker(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		hub := relay.NewHub(slog.Default())
		go hub.Run(ctx)

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           relay.NewRouter(hub),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("relay_started", "addr", httpSrv.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("relay_http_error", "error", err)
				cancel()
			}
		}()
		defer httpSrv.Close()

		return relay.New(client, hub, interval, slog.Default()).Run(ctx)
	},
}

func registerTrackerFlags() {
	trackerCmd.PersistentFlags().StringVar(&trackerHost, "host", cfg.TrackerHost, "tracker server host")
	trackerCmd.PersistentFlags().IntVar(&trackerPort, "port", cfg.TrackerPort, "tracker server port")

	trackerCalibrateCmd.Flags().Int("points", 9, "number of targets (9, 12 or 16)")
	trackerCalibrateCmd.Flags().Int("margin", 100, "distance of the outer targets from the screen edge in pixels")
	trackerCalibrateCmd.Flags().Duration("dwell", 0, "sampling time per target (default 1s)")

	trackerStreamCmd.Flags().Duration("duration", 10*time.Second, "how long to stream")
	trackerStreamCmd.Flags().Duration("interval", 33*time.Millisecond, "time between frame reads")
	trackerStreamCmd.Flags().Bool("push", false, "ask the tracker to stream frames")
	trackerStreamCmd.Flags().String("raw", "", "record pushed frame lines to this file")
	trackerStreamCmd.Flags().String("out", "", "write tagged frame packets to this file")
	trackerStreamCmd.Flags().Int("round", 1, "round number for tagged packets")
	trackerStreamCmd.Flags().Bool("feedback", false, "tag packets with the feedback mode")

	trackerDriftCmd.Flags().Int("samples", 200, "number of frames to sample")
	trackerDriftCmd.Flags().Duration("tolerance", time.Millisecond, "maximum round trip deviation of a usable sample")

	trackerSimulateCmd.Flags().String("listen", fmt.Sprintf("127.0.0.1:%d", tracker.DefaultPort), "address to listen on")

	trackerRelayCmd.Flags().Int("listen-port", cfg.RelayPort, "HTTP port for observers")
	trackerRelayCmd.Flags().Duration("interval", 33*time.Millisecond, "time between relayed frames")

	trackerCmd.AddCommand(trackerInfoCmd, trackerCalibrateCmd, trackerStreamCmd, trackerDriftCmd, trackerSimulateCmd, trackerRelayCmd)
	rootCmd.AddCommand(trackerCmd)
}
