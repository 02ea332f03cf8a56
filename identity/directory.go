// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/atdrop/atdrop/lib/ref"
)

// DefaultDirectoryURL is the public PLC directory.
const DefaultDirectoryURL = "https://plc.directory"

// maxDocumentSize bounds how much of a DID document is read.
const maxDocumentSize = 1 << 20

// Errors reported by endpoint discovery. All are wrapped with context;
// match with errors.Is.
var (
	// ErrUnsupportedDIDMethod means the DID's method has no discovery
	// mechanism here (anything other than did:plc).
	ErrUnsupportedDIDMethod = errors.New("identity: unsupported DID method")

	// ErrDIDNotFound means the directory has no document for the DID.
	ErrDIDNotFound = errors.New("identity: DID not found in directory")

	// ErrEndpointNotFound means the DID document exists but carries no
	// personal data server service entry.
	ErrEndpointNotFound = errors.New("identity: no PDS endpoint in DID document")

	// ErrUnresolvedIdentifier means a handle could not be resolved to
	// a DID.
	ErrUnresolvedIdentifier = errors.New("identity: identifier did not resolve")
)

// DirectoryConfig holds configuration for creating a Directory.
type DirectoryConfig struct {
	// BaseURL is the PLC directory root. Empty means DefaultDirectoryURL.
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Directory is a PLC directory client. It answers one question: which
// service endpoint hosts a given did:plc identity's repository.
type Directory struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDirectory creates a PLC directory client.
func NewDirectory(config DirectoryConfig) (*Directory, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultDirectoryURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("identity: invalid directory URL %q: %w", baseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Directory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// didDocument is the subset of a DID document needed for discovery.
type didDocument struct {
	ID      string `json:"id"`
	Service []struct {
		ID              string `json:"id"`
		Type            string `json:"type"`
		ServiceEndpoint string `json:"serviceEndpoint"`
	} `json:"service"`
}

// PDSEndpoint returns the service URL of the personal data server
// hosting the DID's repository, from the DID document in the PLC
// directory. Both the current "AtprotoPersonalDataServer" service
// type and the legacy "AtpPersonalDataServer" spelling are accepted.
func (d *Directory) PDSEndpoint(ctx context.Context, did ref.DID) (string, error) {
	if did.IsZero() {
		return "", fmt.Errorf("identity: zero DID")
	}
	if did.Method() != "plc" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDIDMethod, did)
	}

	requestURL := d.baseURL + "/" + did.String()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", fmt.Errorf("identity: creating directory request: %w", err)
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("identity: directory request for %s failed: %w", did, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxDocumentSize))
	if err != nil {
		return "", fmt.Errorf("identity: reading DID document for %s: %w", did, err)
	}

	if response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone {
		return "", fmt.Errorf("%w: %s", ErrDIDNotFound, did)
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity: directory returned %d for %s: %s",
			response.StatusCode, did, string(body))
	}

	var document didDocument
	if err := json.Unmarshal(body, &document); err != nil {
		return "", fmt.Errorf("identity: parsing DID document for %s: %w", did, err)
	}

	for _, service := range document.Service {
		if service.Type != "AtprotoPersonalDataServer" && service.Type != "AtpPersonalDataServer" {
			continue
		}
		if service.ServiceEndpoint == "" {
			continue
		}
		d.logger.Debug("discovered PDS endpoint",
			"did", did,
			"endpoint", service.ServiceEndpoint,
		)
		return service.ServiceEndpoint, nil
	}

	return "", fmt.Errorf("%w: %s", ErrEndpointNotFound, did)
}
