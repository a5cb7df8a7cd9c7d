package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/designs/listingmock/internal/client"
	"github.com/szaher/designs/listingmock/internal/credstore"
	"github.com/szaher/designs/listingmock/internal/runtime"
	"github.com/szaher/designs/listingmock/internal/workflow"
)

type walkOptions struct {
	server         string
	marketplace    string
	email          string
	password       string
	images         []string
	aspects        map[string]string
	credentialFile string
	relogin        bool
}

// fillFromEnv reads login values the flags left empty from the environment.
func (o *walkOptions) fillFromEnv() {
	if o.email == "" {
		o.email = os.Getenv("LISTINGMOCK_EMAIL")
	}
	if o.password == "" {
		o.password = os.Getenv("LISTINGMOCK_PASSWORD")
	}
}

func newWalkCmd() *cobra.Command {
	var opts walkOptions

	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Drive the listing workflow against a running server",
		Long: `Walk logs in (reusing a stored credential when there is one), recognizes
the first image, fetches the aspect schema, applies --aspect overrides, and
publishes the item with every image. It stops at the first failed step and
prints the final listing state as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.images) == 0 {
				return fmt.Errorf("at least one --image is required")
			}
			opts.fillFromEnv()
			if opts.credentialFile == "" {
				path, err := credstore.DefaultPath()
				if err != nil {
					return fmt.Errorf("credential file: %w", err)
				}
				opts.credentialFile = path
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, redactor := newLogger(cmd.ErrOrStderr(), runtime.DefaultConfig())
			redactor.Add(opts.password)
			w := &walker{
				client: client.New(opts.server),
				creds:  credstore.NewFileStore(opts.credentialFile),
				store:  workflow.NewStore(),
				logger: logger,
				now:    time.Now,
			}
			snapshot, err := w.run(ctx, opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snapshot)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:3000", "Base URL of the backend")
	f.StringVar(&opts.marketplace, "marketplace", "ebay", "Marketplace to list on")
	f.StringVar(&opts.email, "email", "", "Login email (default $LISTINGMOCK_EMAIL)")
	f.StringVar(&opts.password, "password", "", "Login password (default $LISTINGMOCK_PASSWORD)")
	f.StringArrayVar(&opts.images, "image", nil, "Product image to upload (repeatable; the first is recognized)")
	f.StringToStringVar(&opts.aspects, "aspect", nil, "Aspect override as name=value (repeatable)")
	f.StringVar(&opts.credentialFile, "credential-file", "", "Where the session credential is kept (default: user config dir)")
	f.BoolVar(&opts.relogin, "relogin", false, "Discard any stored credential and log in again")

	return cmd
}

type walker struct {
	client *client.Client
	creds  credstore.Store
	store  *workflow.Store
	logger *slog.Logger
	now    func() time.Time
}

func (w *walker) run(ctx context.Context, opts walkOptions) (workflow.Snapshot, error) {
	guard := workflow.NewGuard(workflow.DefaultRoutes, w.creds)
	w.store.Clear()

	if opts.relogin {
		if err := w.creds.Clear(); err != nil {
			return workflow.Snapshot{}, err
		}
	}
	if err := w.ensureSession(ctx, guard, opts); err != nil {
		return workflow.Snapshot{}, err
	}

	steps := []struct {
		path string
		run  func() error
	}{
		{"/recognize", func() error { return w.recognize(ctx, opts) }},
		{"/aspects", func() error { return w.describe(ctx, opts) }},
		{"/publish", func() error { return w.publish(ctx, opts) }},
	}
	for _, step := range steps {
		dest, err := guard.Resolve(step.path)
		if err != nil {
			return workflow.Snapshot{}, err
		}
		if dest != step.path {
			return workflow.Snapshot{}, fmt.Errorf("navigation to %s redirected to %s", step.path, dest)
		}
		w.logger.Info("workflow step", "step", strings.TrimPrefix(step.path, "/"), "marketplace", opts.marketplace)
		if err := step.run(); err != nil {
			if client.IsStatus(err, http.StatusUnauthorized) {
				_ = w.creds.Clear()
			}
			return workflow.Snapshot{}, fmt.Errorf("%s: %w", strings.TrimPrefix(step.path, "/"), err)
		}
	}
	return w.store.Snapshot(), nil
}

// ensureSession logs in when the guard would send the user to the login view.
func (w *walker) ensureSession(ctx context.Context, guard *workflow.Guard, opts walkOptions) error {
	dest, err := guard.Resolve("/recognize")
	if err != nil {
		return err
	}
	if dest != workflow.LoginPath {
		entry, err := w.creds.Get()
		if err != nil {
			return err
		}
		if entry.Expired(w.now()) {
			w.logger.Warn("stored credential is past its ttl; using it anyway")
		}
		w.client.SetToken(entry.Token)
		return nil
	}

	cred, err := w.client.Login(ctx, opts.email, opts.password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	w.logger.Info("logged in", "ttl", cred.TTL)
	return w.creds.Set(credstore.Entry{Token: cred.Token, TTL: cred.TTL, IssuedAt: w.now()})
}

func (w *walker) recognize(ctx context.Context, opts walkOptions) error {
	f, err := os.Open(opts.images[0])
	if err != nil {
		return err
	}
	defer f.Close()

	rec, err := w.client.Recognize(ctx, opts.marketplace, client.File{Name: filepath.Base(f.Name()), Content: f})
	if err != nil {
		return err
	}
	w.store.AbsorbRecognition(opts.marketplace, *rec)
	return nil
}

func (w *walker) describe(ctx context.Context, opts walkOptions) error {
	schema, err := w.client.Aspects(ctx, opts.marketplace)
	if err != nil {
		return err
	}
	w.store.AbsorbSchema(*schema)

	names := make([]string, 0, len(opts.aspects))
	for name := range opts.aspects {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w.store.UpdateAspect(name, opts.aspects[name])
	}

	if missing := w.store.MissingRequired(); len(missing) > 0 {
		return fmt.Errorf("required aspects without a value: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (w *walker) publish(ctx context.Context, opts walkOptions) error {
	files := make([]client.File, 0, len(opts.images))
	for _, path := range opts.images {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		files = append(files, client.File{Name: filepath.Base(path), Content: f})
	}
	return w.client.Publish(ctx, opts.marketplace, w.store.Item(), files)
}
