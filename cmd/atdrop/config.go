// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/atdrop/atdrop/identity"
	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/lib/secret"
	"github.com/atdrop/atdrop/pds"
	"github.com/atdrop/atdrop/signaling"
)

// passwordEnvVar supplies the app password non-interactively.
const passwordEnvVar = "ATDROP_APP_PASSWORD"

// fileConfig is the optional YAML config file. Flags override every
// field.
type fileConfig struct {
	// PDS is the service URL of the user's PDS.
	PDS string `yaml:"pds"`
	// Identifier is the login handle or DID.
	Identifier string `yaml:"identifier"`
	// PLCDirectory overrides the public PLC directory URL.
	PLCDirectory string `yaml:"plc_directory"`
	// STUNServers lists STUN URLs for path discovery.
	STUNServers []string `yaml:"stun_servers"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "atdrop", "config.yaml")
}

// loadConfig reads the config file. A missing file at the default
// path is fine; a missing file the user named explicitly is an error.
func loadConfig(path string, explicit bool) (fileConfig, error) {
	var config fileConfig
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return config, nil
		}
		return config, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return config, nil
}

// readPassword obtains the app password: the environment variable if
// set, otherwise a no-echo terminal prompt. The result lives in
// locked memory; the caller closes it.
func readPassword() (*secret.Buffer, error) {
	if fromEnv := os.Getenv(passwordEnvVar); fromEnv != "" {
		return secret.NewFromBytes([]byte(fromEnv))
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("stdin is not a terminal; set %s", passwordEnvVar)
	}
	fmt.Fprint(os.Stderr, "App password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty password")
	}
	return secret.NewFromBytes(raw)
}

// account bundles everything an authenticated flow needs.
type account struct {
	session  *pds.Session
	resolver identity.Resolver
	exchange *signaling.Exchange
}

// login authenticates against the PDS and wires the resolver and
// signaling exchange.
func login(ctx context.Context, config fileConfig, logger *slog.Logger) (*account, error) {
	if config.PDS == "" {
		return nil, errors.New("no PDS service URL (set pds in the config file or pass --pds)")
	}
	if config.Identifier == "" {
		return nil, errors.New("no login identifier (set identifier in the config file or pass --identifier)")
	}

	identifier, err := ref.ParseAtIdentifier(config.Identifier)
	if err != nil {
		return nil, fmt.Errorf("invalid identifier %q: %w", config.Identifier, err)
	}

	client, err := pds.NewClient(pds.ClientConfig{
		ServiceURL: config.PDS,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	password, err := readPassword()
	if err != nil {
		return nil, err
	}
	defer password.Close()

	session, err := client.CreateSession(ctx, identifier, password)
	if err != nil {
		return nil, fmt.Errorf("logging in as %s: %w", config.Identifier, err)
	}

	directory, err := identity.NewDirectory(identity.DirectoryConfig{
		BaseURL: config.PLCDirectory,
		Logger:  logger,
	})
	if err != nil {
		session.Close()
		return nil, err
	}
	resolver := identity.NewDirectoryResolver(client, directory)

	store := signaling.NewPDSStore(session, resolver, logger)
	exchange := signaling.NewExchange(store, resolver, session.DID(), logger)

	logger.Info("logged in",
		"did", session.DID(),
		"pds", config.PDS,
	)
	return &account{
		session:  session,
		resolver: resolver,
		exchange: exchange,
	}, nil
}

func (a *account) Close() error {
	return a.session.Close()
}
