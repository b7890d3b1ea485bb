package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/manash/vardash/internal/backend"
	"github.com/manash/vardash/internal/config"
	"github.com/manash/vardash/internal/dashboard"
	"github.com/manash/vardash/internal/history"
	"github.com/manash/vardash/internal/image"
	"github.com/manash/vardash/internal/realtime"
	"github.com/manash/vardash/internal/token"
	"github.com/manash/vardash/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagEnvFile    string
	flagBackendURL string
	flagToken      string
	flagVerbose    bool
)

type App struct {
	In            io.Reader
	Out           io.Writer
	Err           io.Writer
	GetEnv        func(string) string
	LoadConfig    func(path string) (*config.Config, error)
	NewBackend    backend.Factory
	NewSubscriber func(cfg realtime.Config) (realtime.Subscriber, error)
	NewTokenStore func() (*token.Store, error)
	OpenHistory   func(path string) (*history.Store, error)
	NewFetcher    func(timeout time.Duration) image.Fetcher
	ReadSecret    func(in io.Reader, out io.Writer) (string, error)
}

func DefaultApp() *App {
	return &App{
		In:         os.Stdin,
		Out:        os.Stdout,
		Err:        os.Stderr,
		GetEnv:     os.Getenv,
		LoadConfig: config.Load,
		NewBackend: backend.NewBackend,
		NewSubscriber: func(cfg realtime.Config) (realtime.Subscriber, error) {
			c, err := realtime.New(cfg)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		NewTokenStore: token.NewStore,
		OpenHistory: func(path string) (*history.Store, error) {
			if path == "" {
				return history.NewStore()
			}
			return history.NewStoreWithPath(path)
		},
		NewFetcher: func(timeout time.Duration) image.Fetcher {
			return httpkit.New(timeout)
		},
		ReadSecret: readSecret,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vardash",
		Short: "Upload images and watch AI variations arrive",
		Long: `vardash is a dashboard for an image variation backend.

Users upload an image, the backend generates variations, and each finished
variation is pushed back over a Pusher channel as it completes. Administrators
browse the images stored for a user.

Examples:
  vardash serve
  vardash token set
  vardash upload cat.png --watch --out variations
  vardash images 5`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	cmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", config.DefaultDotEnvFilename, "dotenv file to load")
	cmd.PersistentFlags().StringVar(&flagBackendURL, "backend-url", "", "backend base URL (defaults to BACKEND_URL)")
	cmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (defaults to the stored token, then VARDASH_TOKEN)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log debug output, including backend requests")

	cmd.AddCommand(
		newServeCmd(app),
		newConsoleCmd(app),
		newUploadCmd(app),
		newImagesCmd(app),
		newTokenCmd(app),
		newHistoryCmd(app),
	)
	return cmd
}

// loadConfig reads the environment, applies the global flags and configures logging.
func (app *App) loadConfig() (*config.Config, error) {
	cfg, err := app.LoadConfig(flagEnvFile)
	if err != nil {
		return nil, err
	}
	if flagBackendURL != "" {
		cfg.BackendURL = strings.TrimRight(flagBackendURL, "/")
	}
	if flagVerbose {
		cfg.Verbose = true
	}
	setupLogging(app.Err, cfg.Verbose)
	return cfg, nil
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func (app *App) resolveToken(cfg *config.Config) (string, error) {
	store, err := app.NewTokenStore()
	if err != nil {
		slog.Warn("token store unavailable", "error", err)
		store = nil
	}
	tok, source, err := token.Resolve(flagToken, cfg.BackendURL, store, app.GetEnv)
	if err != nil {
		return "", err
	}
	slog.Debug("using bearer token", "source", source)
	return tok, nil
}

// signIn builds a backend client for the resolved token and fetches its user.
func (app *App) signIn(ctx context.Context, cfg *config.Config) (backend.Backend, *models.User, error) {
	tok, err := app.resolveToken(cfg)
	if err != nil {
		return nil, nil, err
	}
	b, err := app.NewBackend(&backend.Config{
		BaseURL:    cfg.BackendURL,
		Token:      tok,
		TimeoutSec: cfg.TimeoutSeconds(),
		Verbose:    cfg.Verbose,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	user, err := b.CurrentUser(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch current user: %w", err)
	}
	return b, user, nil
}

func pusherConfig(cfg *config.Config) realtime.Config {
	return realtime.Config{
		AppKey:  cfg.PusherAppKey,
		Cluster: cfg.PusherCluster,
		Host:    cfg.PusherHost,
	}
}

// openRecorder opens the history for a command that records as a side effect. A
// store that cannot be opened disables recording.
func (app *App) openRecorder(cfg *config.Config) (dashboard.Recorder, func()) {
	store, err := app.OpenHistory(cfg.HistoryDB)
	if err != nil {
		slog.Warn("history disabled", "error", err)
		return nil, func() {}
	}
	return history.NewRecorder(store), func() { store.Close() }
}

func readSecret(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
