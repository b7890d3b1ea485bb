package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/vardash/internal/dashboard"
	"github.com/manash/vardash/internal/display"
	"github.com/manash/vardash/internal/image"
	"github.com/manash/vardash/internal/realtime"
	"github.com/manash/vardash/internal/security"
	"github.com/manash/vardash/pkg/models"
)

const defaultWait = 5 * time.Minute

var (
	flagWatch bool
	flagOut   string
	flagShow  bool
	flagCount int
	flagWait  time.Duration
)

func newUploadCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an image and start generating variations",
		Long: `Upload an image and ask the backend to generate variations of it.

With --watch the command stays subscribed to the user's channel and prints each
variation as it arrives, until --count variations were received, --wait elapsed,
or it is interrupted. --out and --show act on the received variations.

Examples:
  vardash upload cat.png
  vardash upload cat.png --watch --count 4 --out variations
  vardash upload cat.png --watch --show`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runUpload(ctx, args[0], app)
		},
	}

	cmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "wait for generated variations")
	cmd.Flags().StringVarP(&flagOut, "out", "o", "", "directory to save received variations into (implies --watch)")
	cmd.Flags().BoolVar(&flagShow, "show", false, "display received variations inline (implies --watch)")
	cmd.Flags().IntVarP(&flagCount, "count", "n", 0, "stop watching after this many variations (0 waits until --wait)")
	cmd.Flags().DurationVar(&flagWait, "wait", defaultWait, "maximum time to watch for variations")

	return cmd
}

func runUpload(ctx context.Context, path string, app *App) error {
	if flagOut != "" {
		if err := image.ValidateSaveDir(flagOut); err != nil {
			return fmt.Errorf("invalid output directory: %w", err)
		}
	}
	watch := flagWatch || flagOut != "" || flagShow

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	sel, err := models.NewSelection(filepath.Base(path), "", data)
	if err != nil {
		return err
	}

	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	b, user, err := app.signIn(ctx, cfg)
	if err != nil {
		return err
	}

	var sub realtime.Subscriber
	if watch {
		if sub, err = app.subscriber(cfg); err != nil {
			return fmt.Errorf("cannot watch for variations: %w", err)
		}
		defer sub.Close()
	}

	recorder, closeHistory := app.openRecorder(cfg)
	defer closeHistory()

	urls := security.NewURLPolicy(security.TrustedHostOf(cfg.BackendURL))
	opts := []dashboard.Option{dashboard.WithBaseURL(cfg.BackendURL)}
	if recorder != nil {
		opts = append(opts, dashboard.WithRecorder(recorder))
	}
	dash := dashboard.NewUserDashboard(user.ID, b, sub, opts...)
	defer dash.Close()
	dash.Mount(ctx)

	updates, stop := dash.Watch()
	defer stop()

	fmt.Fprintf(app.Out, "Uploading %s (%s)...\n", sel.Filename, humanize.Bytes(uint64(sel.Size())))
	dash.Select(sel)
	uploadErr := dash.Upload(ctx)

	snap := dash.Snapshot()
	fmt.Fprintln(app.Out, snap.UploadStatus)
	if snap.GenerationMessage != "" {
		fmt.Fprintln(app.Out, snap.GenerationMessage)
	}
	if uploadErr != nil {
		return uploadErr
	}
	if snap.ImageID != 0 {
		fmt.Fprintf(app.Out, "Image ID: %d\n", snap.ImageID)
	}
	if !watch {
		return nil
	}
	if !snap.IsGenerating {
		return errors.New("the backend did not start generating variations")
	}

	fmt.Fprintln(app.Out, "Generating image variations...")
	images := waitForVariations(ctx, app.Out, updates, flagCount, flagWait)
	fmt.Fprintf(app.Out, "Received %d variation(s).\n", len(images))
	if len(images) == 0 {
		return nil
	}

	fetcher := app.NewFetcher(cfg.HTTPTimeout)
	if flagOut != "" {
		saver := image.NewSaver(cfg.HTTPTimeout, urls, image.WithFetcher(fetcher))
		paths, err := saver.SaveAll(ctx, images, flagOut)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintf(app.Out, "Saved: %s\n", p)
		}
	}
	if flagShow {
		if !display.IsTerminalSupported(app.Out, app.GetEnv) {
			fmt.Fprintf(app.Err, "Warning: %v\n", display.ErrUnsupportedTerminal)
			return nil
		}
		if err := display.New(app.Out, fetcher, urls).ShowAll(ctx, images); err != nil {
			fmt.Fprintf(app.Err, "Warning: failed to display: %v\n", err)
		}
	}
	return nil
}

// waitForVariations prints variations as they arrive and returns every one received
// before count is reached, wait elapses or ctx ends.
func waitForVariations(ctx context.Context, out io.Writer, updates <-chan dashboard.Snapshot, count int, wait time.Duration) []string {
	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	var images []string
	for {
		select {
		case <-ctx.Done():
			return images
		case <-timeout:
			fmt.Fprintln(out, "Stopped waiting.")
			return images
		case snap, ok := <-updates:
			if !ok {
				return images
			}
			for i := len(images); i < len(snap.GeneratedImages); i++ {
				fmt.Fprintf(out, "[%s%%] variation %d: %s\n",
					strconv.FormatFloat(snap.Progress, 'f', -1, 64), i+1, snap.GeneratedImages[i])
			}
			if len(snap.GeneratedImages) > len(images) {
				images = snap.GeneratedImages
			}
			if count > 0 && len(images) >= count {
				return images
			}
		}
	}
}
