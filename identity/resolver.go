// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"fmt"

	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/pds"
)

// Resolver is the identity capability the signaling layer consumes:
// turn whatever the user typed into a DID, and find the server that
// hosts a DID's repository.
type Resolver interface {
	// ResolveIdentifier resolves a handle to its DID. DID inputs pass
	// through unchanged without a network call. Fails with a wrapped
	// ErrUnresolvedIdentifier when a handle does not resolve.
	ResolveIdentifier(ctx context.Context, identifier ref.AtIdentifier) (ref.DID, error)

	// PDSEndpoint returns the service URL hosting the DID's repository.
	PDSEndpoint(ctx context.Context, did ref.DID) (string, error)
}

// DirectoryResolver resolves handles through a PDS and endpoints
// through the PLC directory. This is the production Resolver.
type DirectoryResolver struct {
	client    *pds.Client
	directory *Directory
}

// NewDirectoryResolver combines a handle-resolving PDS client (any
// PDS will do — typically the local user's own) with a PLC directory
// client.
func NewDirectoryResolver(client *pds.Client, directory *Directory) *DirectoryResolver {
	return &DirectoryResolver{
		client:    client,
		directory: directory,
	}
}

// ResolveIdentifier implements Resolver.
func (r *DirectoryResolver) ResolveIdentifier(ctx context.Context, identifier ref.AtIdentifier) (ref.DID, error) {
	if identifier.IsZero() {
		return ref.DID{}, fmt.Errorf("identity: empty identifier")
	}
	if identifier.IsDID() {
		return identifier.DID(), nil
	}

	did, err := r.client.ResolveHandle(ctx, identifier.Handle())
	if err != nil {
		return ref.DID{}, fmt.Errorf("%w: %q: %v", ErrUnresolvedIdentifier, identifier.Handle(), err)
	}
	return did, nil
}

// PDSEndpoint implements Resolver.
func (r *DirectoryResolver) PDSEndpoint(ctx context.Context, did ref.DID) (string, error) {
	return r.directory.PDSEndpoint(ctx, did)
}
