package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"promptsmith/internal/config"
	"promptsmith/internal/dispatch"
	"promptsmith/internal/llm"
	"promptsmith/internal/server"
	"promptsmith/internal/store"
	"promptsmith/internal/transcript"
)

const serveUsage = `Usage:
  promptsmith serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	llmClient, err := llm.New(cfg.Provider, newHTTPClient(defaultHTTPTimeout))
	if err != nil {
		return fmt.Errorf("initialise llm client: %w", err)
	}

	dispatcher, err := dispatch.New(cfg.Models.Allowed, llmClient)
	if err != nil {
		return fmt.Errorf("initialise dispatcher: %w", err)
	}

	transcripts, err := transcript.NewClient(cfg.Transcript.BaseURL, newHTTPClient(defaultHTTPTimeout))
	if err != nil {
		return fmt.Errorf("initialise transcript client: %w", err)
	}

	artifacts, err := store.New(cfg.Storage.ArtifactsDir)
	if err != nil {
		return fmt.Errorf("initialise artifact store: %w", err)
	}

	uploads, err := store.New(cfg.Storage.UploadsDir)
	if err != nil {
		return fmt.Errorf("initialise upload store: %w", err)
	}

	srv, err := server.New(cfg, server.Deps{
		Dispatcher:  dispatcher,
		Vision:      llmClient,
		Transcripts: transcripts,
		Artifacts:   artifacts,
		Uploads:     uploads,
	})
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultKeepAlive,
			}).DialContext,
			IdleConnTimeout:     defaultIdleConnTimeout,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
		},
	}
}
