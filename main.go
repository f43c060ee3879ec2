package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/mirror-discovery/provider"
	"github.com/utilitywarehouse/mirror-discovery/provider/github"
	"github.com/utilitywarehouse/mirror-discovery/provider/gitlab"
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": provider.LevelTrace,
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
)

// appFlags returns new set of flags, flags keep their parsed values
// so every command needs its own
func appFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("MIRROR_DISCOVERY_CONFIG"),
			Usage:   "Absolute path to an optional config file.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
		&cli.StringFlag{
			Name:    "provider",
			Sources: cli.EnvVars("MIRROR_PROVIDER"),
			Usage:   "Hosting service to discover mirrors from, 'gitlab' or 'github'. (default: gitlab)",
		},
		&cli.StringFlag{
			Name:    "url",
			Sources: cli.EnvVars("MIRROR_PROVIDER_URL"),
			Usage:   "URL of the GitLab instance or the GitHub API.",
		},
		&cli.StringFlag{
			Name:    "group",
			Sources: cli.EnvVars("MIRROR_GROUP"),
			Usage:   "GitLab group or GitHub organization containing the mirror repositories.",
		},
		&cli.BoolFlag{
			Name:    "http",
			Sources: cli.EnvVars("MIRROR_USE_HTTP"),
			Usage:   "Use http clone url as mirror destination instead of ssh.",
		},
		&cli.StringFlag{
			Name:    "private-token",
			Sources: cli.EnvVars("GITLAB_PRIVATE_TOKEN"),
			Usage:   "GitLab private access token.",
		},
		&cli.StringFlag{
			Name:    "github-token",
			Sources: cli.EnvVars("GITHUB_TOKEN"),
			Usage:   "GitHub access token.",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Sources: cli.EnvVars("MIRROR_API_TIMEOUT"),
			Usage:   "Timeout of a single API request. (default: 30s)",
		},
		&cli.StringFlag{
			Name:    "ca-file",
			Sources: cli.EnvVars("MIRROR_CA_FILE"),
			Usage:   "Additional PEM CA bundle to trust.",
		},
		&cli.BoolFlag{
			Name:    "insecure",
			Sources: cli.EnvVars("MIRROR_INSECURE_SKIP_VERIFY"),
			Usage:   "Skip TLS certificate verification.",
		},
		&cli.StringFlag{
			Name:    "output",
			Sources: cli.EnvVars("MIRROR_OUTPUT"),
			Usage:   "Output format 'yaml', 'json' or 'text'. (default: yaml)",
		},
		&cli.DurationFlag{
			Name:    "interval",
			Sources: cli.EnvVars("MIRROR_DISCOVERY_INTERVAL"),
			Usage:   "Discover periodically and serve results instead of printing them once.",
		},
		&cli.StringFlag{
			Name:    "listen",
			Sources: cli.EnvVars("MIRROR_LISTEN_ADDRESS"),
			Usage:   "Listen address of the status and metrics server. (default: :9001)",
		},
	}
}

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

// loadConfig reads optional config file and applies flags on top of it
func loadConfig(c *cli.Command) (*Config, error) {
	conf := &Config{}
	if path := c.String("config"); path != "" {
		var err error
		conf, err = parseConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	}

	if c.IsSet("provider") {
		conf.Provider = c.String("provider")
	}
	if c.IsSet("output") {
		conf.Output = c.String("output")
	}
	if c.IsSet("interval") {
		conf.Interval = c.Duration("interval")
	}
	if c.IsSet("listen") {
		conf.ListenAddress = c.String("listen")
	}

	// provider flags are applied to both sections, only the selected one is used
	if c.IsSet("url") {
		conf.GitLab.URL = c.String("url")
		conf.GitHub.URL = c.String("url")
	}
	if c.IsSet("group") {
		conf.GitLab.Group = c.String("group")
		conf.GitHub.Organization = c.String("group")
	}
	if c.IsSet("http") {
		conf.GitLab.UseHTTP = c.Bool("http")
		conf.GitHub.UseHTTP = c.Bool("http")
	}
	for _, t := range []*provider.TransportConfig{&conf.GitLab.Transport, &conf.GitHub.Transport} {
		if c.IsSet("timeout") {
			t.Timeout = c.Duration("timeout")
		}
		if c.IsSet("ca-file") {
			t.CAFile = c.String("ca-file")
		}
		if c.IsSet("insecure") {
			t.InsecureSkipVerify = c.Bool("insecure")
		}
	}

	// tokens are only ever taken from flags or environment
	conf.GitLab.PrivateToken = c.String("private-token")
	conf.GitHub.Token = c.String("github-token")

	applyDefaults(conf)

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func newProvider(conf *Config, log *slog.Logger) (provider.Provider, error) {
	switch conf.Provider {
	case "gitlab":
		return gitlab.New(conf.GitLab, log)
	case "github":
		return github.New(conf.GitHub, log)
	default:
		return nil, fmt.Errorf("unsupported provider %q", conf.Provider)
	}
}

// discoveryLoop runs discovery every interval until ctx is cancelled
func discoveryLoop(ctx context.Context, p provider.Provider, interval time.Duration, status *mirrorStatus) {
	for {
		mirrors, err := p.GetMirrorRepos()
		status.update(mirrors, err)
		if err != nil {
			logger.Error("mirror discovery failed", "err", err)
		} else {
			logger.Info("mirror discovery completed", "mirrors", len(mirrors))
		}

		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// serve binds the status server and runs discovery until ctx is cancelled
// or the status server fails
func serve(ctx context.Context, conf *Config, p provider.Provider) error {
	l, err := net.Listen("tcp", conf.ListenAddress)
	if err != nil {
		return fmt.Errorf("unable to start status server: %w", err)
	}

	status := &mirrorStatus{}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/mirrors", status)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		logger.Info("starting status server", "addr", l.Addr().String())
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel(fmt.Errorf("status server failed: %w", err))
		}
	}()

	discoveryLoop(ctx, p, conf.Interval, status)

	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	shutdownErr := server.Shutdown(shutdownCtx)

	if err := context.Cause(ctx); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return shutdownErr
}

func main() {
	cmd := &cli.Command{
		Name:  "mirror-discovery",
		Usage: "mirror-discovery lists repository mirrors defined in the project descriptions of a GitLab group or GitHub organization.",
		Flags: appFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {

			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}

			conf, err := loadConfig(c)
			if err != nil {
				return err
			}

			p, err := newProvider(conf, logger.With("provider", conf.Provider))
			if err != nil {
				return err
			}

			if conf.Interval == 0 {
				mirrors, err := p.GetMirrorRepos()
				if err != nil {
					return err
				}
				return writeMirrors(os.Stdout, conf.Output, mirrors)
			}

			provider.EnableMetrics("", prometheus.DefaultRegisterer)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, conf, p)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}
