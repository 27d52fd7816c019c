package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"disguise/browser"
	"disguise/config"
	"disguise/logger"
	"disguise/probe"
	"disguise/profile"
	"disguise/stealth"
	"disguise/storage"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

const settleTimeout = 5 * time.Second

type app struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	profile profile.Profile
	units   []stealth.Unit
	payload *stealth.Payload
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "disguise",
		Short: "Build and deliver the browser disguise payload",
		Long: `disguise assembles the navigator/WebGL/permissions patch set and
registers it with a browser page before any page script runs.

Examples:
  # Print the payload for another harness
  disguise payload > disguise.js

  # Check the payload against the emulated page
  disguise verify

  # Open a page with the payload installed
  disguise open https://example.com --once`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (optional)")

	load := func() (*app, error) {
		// Load optional .env to ease local development.
		_ = godotenv.Load()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}

		zl, err := logger.New(cfg.Logging)
		if err != nil {
			return nil, err
		}

		prof := profile.Default()
		units, err := stealth.UnitsByName(cfg.Payload.Units)
		if err != nil {
			return nil, fmt.Errorf("payload units: %w", err)
		}
		p, err := stealth.Build(prof, units, stealth.Options{Binding: cfg.BindingName()})
		if err != nil {
			return nil, fmt.Errorf("build payload: %w", err)
		}

		return &app{cfg: cfg, log: zl.Sugar(), profile: prof, units: units, payload: p}, nil
	}

	root.AddCommand(newPayloadCmd(load), newVerifyCmd(load), newOpenCmd(load))
	return root
}

func newPayloadCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "payload",
		Short: "Print the assembled payload script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			_, err = fmt.Fprint(cmd.OutOrStdout(), a.payload.Script)
			return err
		},
	}
}

func newVerifyCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Install the payload twice in an emulated page and check every observable",
		Long: `verify installs the payload into an emulated page, reads the fingerprint
back, installs it again and checks nothing observable changed. Only the
observables of the units in payload.units are checked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			result, err := verifyPayload(cmd.Context(), a.profile, a.units, a.log)
			if err != nil {
				return err
			}
			for _, c := range result.Checks {
				if c.Pass {
					a.log.Infow("check passed", "check", c.Name, "got", c.Got)
				} else {
					a.log.Errorw("check failed", "check", c.Name, "got", c.Got, "want", c.Want)
				}
			}
			if failed := result.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(result.Checks))
			}
			a.log.Infow("payload verified", "checks", len(result.Checks), "units", a.payload.Units)
			return nil
		},
	}
}

func newOpenCmd(load func() (*app, error)) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "open <url>",
		Short: "Launch a browser, install the payload and open url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return a.open(ctx, args[0], once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "exit after the probe instead of waiting for a signal")
	return cmd
}

func (a *app) open(ctx context.Context, url string, once bool) error {
	var store storage.StateStore = storage.NoopStore{}
	if a.cfg.Storage.Enabled {
		store = &storage.FileStore{BaseDir: a.cfg.Storage.Dir}
	}

	session, info, err := browser.Launch(ctx, a.cfg.Browser, a.log)
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Close()
	}()

	rec := storage.Record{
		ID:        uuid.NewString(),
		URL:       url,
		Driver:    a.cfg.Browser.Driver,
		UserAgent: info.UserAgent,
		Units:     a.payload.Units,
		StartedAt: time.Now().UTC(),
	}

	var failures browser.Collector
	if err := browser.Install(ctx, session, a.payload, failures.Record, a.log); err != nil {
		return err
	}

	if err := session.Navigate(ctx, url); err != nil {
		return err
	}
	a.log.Infow("page loaded", "url", url, "run", rec.ID)

	report, err := probe.Run(ctx, session, a.profile)
	if err != nil {
		a.log.Warnw("probe failed", "error", err)
	} else {
		report = report.Only(a.payload.Units)
		rec.Report = &report
		for _, c := range report.Failed() {
			a.log.Warnw("fingerprint mismatch", "check", c.Name, "got", c.Got, "want", c.Want)
		}
	}

	if !once {
		<-ctx.Done()
		a.log.Info("shutdown requested, exiting")
	}
	// The run context may be gone; persist on a fresh one.
	return a.persist(context.Background(), session, store, rec, &failures)
}

func (a *app) persist(ctx context.Context, session browser.Session, store storage.StateStore, rec storage.Record, failures *browser.Collector) error {
	settleCtx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := session.Settle(settleCtx); err != nil {
		a.log.Warnw("diagnostic reports still pending, record may be incomplete", "error", err)
	}

	rec.Failures = failures.Failures()
	if err := storage.SaveRecord(ctx, store, rec); err != nil {
		return err
	}
	a.log.Infow("run recorded", "run", rec.ID, "failures", len(rec.Failures))
	return nil
}
