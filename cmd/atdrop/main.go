// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/atdrop/atdrop/handshake"
	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/lib/version"
	"github.com/atdrop/atdrop/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch os.Args[1] {
	case "send":
		return runSend(os.Args[2:])
	case "receive":
		return runReceive(os.Args[2:])
	case "version":
		fmt.Printf("atdrop %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: atdrop <subcommand> [flags]

Subcommands:
  send      Send a file to another user
  receive   Receive a file using a session key
  version   Print version information

Run 'atdrop <subcommand> --help' for subcommand flags.
`)
}

// commonFlags registers the flags every subcommand shares and returns
// the destinations.
type commonOptions struct {
	configPath string
	pds        string
	identifier string
	verbose    bool
}

func registerCommonFlags(flags *pflag.FlagSet) *commonOptions {
	options := &commonOptions{}
	flags.StringVar(&options.configPath, "config", defaultConfigPath(), "path to config file")
	flags.StringVar(&options.pds, "pds", "", "PDS service URL (overrides config)")
	flags.StringVar(&options.identifier, "identifier", "", "login handle or DID (overrides config)")
	flags.BoolVar(&options.verbose, "verbose", false, "debug logging")
	return options
}

// resolveOptions merges the config file with flag overrides and
// installs the logger.
func resolveOptions(flags *pflag.FlagSet, options *commonOptions) (fileConfig, *slog.Logger, error) {
	config, err := loadConfig(options.configPath, flags.Changed("config"))
	if err != nil {
		return fileConfig{}, nil, err
	}
	if options.pds != "" {
		config.PDS = options.pds
	}
	if options.identifier != "" {
		config.Identifier = options.identifier
	}

	level := slog.LevelWarn
	if options.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return config, logger, nil
}

func runSend(args []string) error {
	flags := pflag.NewFlagSet("send", pflag.ExitOnError)
	options := registerCommonFlags(flags)
	var (
		to         string
		filePath   string
		sessionKey string
	)
	flags.StringVar(&to, "to", "", "receiver handle or DID (required)")
	flags.StringVar(&filePath, "file", "", "file to send (required)")
	flags.StringVar(&sessionKey, "session-key", "", "session key (random when omitted)")
	flags.Parse(args)

	if to == "" || filePath == "" {
		flags.Usage()
		return fmt.Errorf("--to and --file are required")
	}

	config, logger, err := resolveOptions(flags, options)
	if err != nil {
		return err
	}

	receiver, err := ref.ParseAtIdentifier(to)
	if err != nil {
		return fmt.Errorf("invalid receiver %q: %w", to, err)
	}

	var key ref.RecordKey
	if sessionKey != "" {
		key, err = ref.ParseRecordKey(sessionKey)
		if err != nil {
			return fmt.Errorf("invalid session key: %w", err)
		}
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stating file: %w", err)
	}
	meta := signaling.FileMeta{
		Name:     filepath.Base(filePath),
		Size:     info.Size(),
		MimeType: mime.TypeByExtension(filepath.Ext(filePath)),
	}
	if meta.MimeType == "" {
		meta.MimeType = handshake.DefaultMimeType
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acct, err := login(ctx, config, logger)
	if err != nil {
		return err
	}
	defer acct.Close()

	flow, err := handshake.NewOfferFlow(handshake.OfferFlowConfig{
		Exchange:   acct.exchange,
		Transport:  handshake.NewWebRTCTransport(handshake.WebRTCConfig{STUNServers: config.STUNServers, Logger: logger}),
		Receiver:   receiver,
		File:       file,
		Meta:       meta,
		SessionKey: key,
		Logger:     logger,
		Progress:   sendProgress(meta.Size),
	})
	if err != nil {
		return err
	}
	flow.Session().OnTransition(printTransition)

	fmt.Printf("Session key: %s\n", flow.SessionKey())
	fmt.Printf("Share it with %s out of band, then wait for them to run:\n", to)
	fmt.Printf("  atdrop receive --from %s --session-key %s\n\n", config.Identifier, flow.SessionKey())

	stats, err := flow.Run(ctx)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("send failed (%s): %w", flow.Session().FailureReason(), err)
	}

	fmt.Printf("Sent %s (%d bytes, %d chunks)\n", meta.Name, stats.BytesSent, stats.Chunks)
	fmt.Printf("BLAKE3: %s\n", hex.EncodeToString(stats.Digest[:]))
	return nil
}

func runReceive(args []string) error {
	flags := pflag.NewFlagSet("receive", pflag.ExitOnError)
	options := registerCommonFlags(flags)
	var (
		from       string
		sessionKey string
		outPath    string
	)
	flags.StringVar(&from, "from", "", "sender handle or DID (required)")
	flags.StringVar(&sessionKey, "session-key", "", "session key shared by the sender (required)")
	flags.StringVar(&outPath, "out", "", "output path (declared file name when omitted)")
	flags.Parse(args)

	if from == "" || sessionKey == "" {
		flags.Usage()
		return fmt.Errorf("--from and --session-key are required")
	}

	config, logger, err := resolveOptions(flags, options)
	if err != nil {
		return err
	}

	sender, err := ref.ParseAtIdentifier(from)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", from, err)
	}
	key, err := ref.ParseRecordKey(sessionKey)
	if err != nil {
		return fmt.Errorf("invalid session key: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acct, err := login(ctx, config, logger)
	if err != nil {
		return err
	}
	defer acct.Close()

	flow := handshake.NewAnswerFlow(handshake.AnswerFlowConfig{
		Exchange:   acct.exchange,
		Transport:  handshake.NewWebRTCTransport(handshake.WebRTCConfig{STUNServers: config.STUNServers, Logger: logger}),
		Sender:     sender,
		SessionKey: key,
		Logger:     logger,
		Progress: func(received int64) {
			fmt.Fprintf(os.Stderr, "\rReceived %d bytes", received)
		},
	})
	flow.Session().OnTransition(printTransition)

	assembly, runErr := flow.Run(ctx)
	fmt.Fprintln(os.Stderr)
	if assembly == nil {
		if runErr != nil {
			return fmt.Errorf("receive failed (%s): %w", flow.Session().FailureReason(), runErr)
		}
		return errors.New("receive produced no payload")
	}

	// A degraded assembly is still written out; the error below makes
	// the degradation visible in the exit status.
	if outPath == "" {
		outPath = flow.Session().FileMeta().Name
	}
	if err := os.WriteFile(outPath, assembly.Data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	fmt.Printf("Wrote %s (%d bytes)\n", outPath, assembly.Size)
	fmt.Printf("BLAKE3: %s\n", hex.EncodeToString(assembly.Digest[:]))
	if runErr != nil {
		return fmt.Errorf("transfer incomplete (%s): %w", flow.Session().FailureReason(), runErr)
	}
	if !assembly.Complete {
		return errors.New("transfer incomplete")
	}
	fmt.Println("Compare the BLAKE3 digest with the sender's before trusting the file.")
	return nil
}

func printTransition(_, to handshake.State) {
	fmt.Fprintf(os.Stderr, "status: %s\n", to)
}

func sendProgress(total int64) func(sent, _ int64) {
	return func(sent, _ int64) {
		if total > 0 {
			fmt.Fprintf(os.Stderr, "\rSent %d/%d bytes (%d%%)", sent, total, sent*100/total)
			return
		}
		fmt.Fprintf(os.Stderr, "\rSent %d bytes", sent)
	}
}
