// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package pds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/lib/secret"
)

// maxResponseSize bounds how much of an XRPC response body is read.
// Signaling records are a few KiB of SDP; 1 MiB is generous headroom.
const maxResponseSize = 1 << 20

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// ServiceURL is the base URL of the PDS (e.g., "https://bsky.social").
	ServiceURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an unauthenticated client bound to one PDS. It serves the
// public surface (record reads, handle resolution) and mints Sessions
// for the authenticated surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new unauthenticated PDS client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ServiceURL == "" {
		return nil, fmt.Errorf("pds: ServiceURL is required")
	}

	parsed, err := url.Parse(config.ServiceURL)
	if err != nil {
		return nil, fmt.Errorf("pds: invalid ServiceURL %q: %w", config.ServiceURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("pds: ServiceURL %q must be http or https", config.ServiceURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.ServiceURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ServiceURL returns the base URL this client is bound to.
func (c *Client) ServiceURL() string {
	return c.baseURL
}

// DescribeServer fetches the PDS self-description. Unauthenticated —
// useful as a reachability check before attempting login.
func (c *Client) DescribeServer(ctx context.Context) (*DescribeServerResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "com.atproto.server.describeServer", nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("pds: describe server: %w", err)
	}
	var response DescribeServerResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("pds: parsing describeServer response: %w", err)
	}
	return &response, nil
}

// ResolveHandle resolves a handle to its DID via this PDS
// (com.atproto.identity.resolveHandle). Unauthenticated.
func (c *Client) ResolveHandle(ctx context.Context, handle ref.Handle) (ref.DID, error) {
	query := url.Values{}
	query.Set("handle", handle.String())

	body, err := c.doRequest(ctx, http.MethodGet, "com.atproto.identity.resolveHandle", query, nil, nil)
	if err != nil {
		return ref.DID{}, fmt.Errorf("pds: resolving handle %q: %w", handle, err)
	}

	var response resolveHandleResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.DID{}, fmt.Errorf("pds: parsing resolveHandle response: %w", err)
	}
	if response.DID.IsZero() {
		return ref.DID{}, fmt.Errorf("pds: resolveHandle for %q returned no DID", handle)
	}
	return response.DID, nil
}

// GetRecord reads a record from any repository hosted on this PDS
// (com.atproto.repo.getRecord). Reads are public: no authentication,
// only knowledge of the repository owner's DID and the record key.
// A missing record surfaces as an *XRPCError satisfying IsNotFound.
func (c *Client) GetRecord(ctx context.Context, repo ref.DID, collection ref.NSID, rkey ref.RecordKey) (*RecordEnvelope, error) {
	query := url.Values{}
	query.Set("repo", repo.String())
	query.Set("collection", collection.String())
	query.Set("rkey", rkey.String())

	body, err := c.doRequest(ctx, http.MethodGet, "com.atproto.repo.getRecord", query, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("pds: getting record %s/%s from %s: %w", collection, rkey, repo, err)
	}

	var envelope RecordEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("pds: parsing getRecord response: %w", err)
	}
	return &envelope, nil
}

// CreateSession authenticates with an identifier (handle or DID) and
// an app password, returning an authenticated Session
// (com.atproto.server.createSession). The password buffer is read but
// not closed — the caller retains ownership.
func (c *Client) CreateSession(ctx context.Context, identifier ref.AtIdentifier, password *secret.Buffer) (*Session, error) {
	if identifier.IsZero() {
		return nil, fmt.Errorf("pds: identifier is required for login")
	}
	if password == nil {
		return nil, fmt.Errorf("pds: password is required for login")
	}

	// Password is converted to string at the JSON serialization
	// boundary; the heap copy lives only for the duration of the call.
	request := createSessionRequest{
		Identifier: identifier.String(),
		Password:   password.String(),
	}

	body, err := c.doRequest(ctx, http.MethodPost, "com.atproto.server.createSession", nil, nil, request)
	if err != nil {
		return nil, fmt.Errorf("pds: login failed: %w", err)
	}

	var response createSessionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("pds: parsing createSession response: %w", err)
	}
	if response.DID.IsZero() || response.AccessJWT == "" {
		return nil, fmt.Errorf("pds: createSession response missing did or access token")
	}

	tokenBuffer, err := secret.NewFromBytes([]byte(response.AccessJWT))
	if err != nil {
		return nil, fmt.Errorf("pds: protecting access token: %w", err)
	}

	c.logger.Info("created PDS session",
		"did", response.DID,
		"handle", response.Handle,
	)

	return &Session{
		client:      c,
		did:         response.DID,
		handle:      response.Handle,
		accessToken: tokenBuffer,
	}, nil
}

// SessionFromToken creates a Session from an existing access token.
// The token is moved into locked memory; the original string remains
// on the heap briefly until collected. The token is NOT validated —
// the first authenticated call fails if it is invalid or expired.
//
// The caller must call Close on the returned Session when done.
func (c *Client) SessionFromToken(did ref.DID, accessToken string) (*Session, error) {
	if did.IsZero() {
		return nil, fmt.Errorf("pds: did is required")
	}
	tokenBuffer, err := secret.NewFromBytes([]byte(accessToken))
	if err != nil {
		return nil, fmt.Errorf("pds: protecting access token: %w", err)
	}
	return &Session{
		client:      c,
		did:         did,
		accessToken: tokenBuffer,
	}, nil
}

// doRequest performs an XRPC request and returns the response body.
// On 2xx, returns the body. On 4xx/5xx, returns an *XRPCError.
// accessToken may be nil for unauthenticated endpoints; query and
// requestBody may be nil.
func (c *Client) doRequest(ctx context.Context, method string, nsid string, query url.Values, accessToken *secret.Buffer, requestBody any) ([]byte, error) {
	requestURL := c.baseURL + "/xrpc/" + nsid
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, nsid, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All XRPC error responses share the same JSON shape.
	var xrpcErr XRPCError
	if jsonErr := json.Unmarshal(responseBody, &xrpcErr); jsonErr != nil || xrpcErr.Name == "" {
		// Non-XRPC error body (proxy, load balancer). Fail loud with
		// the raw body.
		return nil, fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, method, nsid, string(responseBody))
	}
	xrpcErr.StatusCode = response.StatusCode

	return responseBody, &xrpcErr
}
