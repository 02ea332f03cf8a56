// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atdrop/atdrop/identity"
	"github.com/atdrop/atdrop/lib/ref"
	"github.com/atdrop/atdrop/pds"
)

// ErrRecordNotFound is returned by RecordStore.Get when no record
// exists at the given key. Wrapped; match with errors.Is.
var ErrRecordNotFound = errors.New("signaling: record not found")

// RecordStore is the repository capability the exchange consumes.
// Writes always land in the local account's own repository; reads are
// public and may target any account.
type RecordStore interface {
	// Put writes a record into the local account's repository,
	// overwriting any record already at the key.
	Put(ctx context.Context, collection ref.NSID, rkey ref.RecordKey, record any) error

	// Get reads a record from the given account's repository. A
	// missing record fails with a wrapped ErrRecordNotFound.
	Get(ctx context.Context, owner ref.DID, collection ref.NSID, rkey ref.RecordKey) (json.RawMessage, error)

	// Delete removes a record from the local account's repository.
	Delete(ctx context.Context, collection ref.NSID, rkey ref.RecordKey) error
}

// PDSStore is the production RecordStore. Writes go through the
// authenticated session; reads of foreign repositories discover the
// owner's PDS through the resolver and use an unauthenticated client
// for that endpoint.
type PDSStore struct {
	session  *pds.Session
	resolver identity.Resolver
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*pds.Client
}

// NewPDSStore creates a store around an authenticated session. The
// resolver locates foreign repositories for reads.
func NewPDSStore(session *pds.Session, resolver identity.Resolver, logger *slog.Logger) *PDSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDSStore{
		session:  session,
		resolver: resolver,
		logger:   logger,
		clients:  make(map[string]*pds.Client),
	}
}

// Put implements RecordStore.
func (s *PDSStore) Put(ctx context.Context, collection ref.NSID, rkey ref.RecordKey, record any) error {
	_, err := s.session.PutRecord(ctx, collection, rkey, record)
	return err
}

// Get implements RecordStore. Reading the local account's own records
// still goes through the endpoint lookup so the path is uniform.
func (s *PDSStore) Get(ctx context.Context, owner ref.DID, collection ref.NSID, rkey ref.RecordKey) (json.RawMessage, error) {
	client, err := s.clientFor(ctx, owner)
	if err != nil {
		return nil, err
	}

	envelope, err := client.GetRecord(ctx, owner, collection, rkey)
	if err != nil {
		if pds.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s in %s", ErrRecordNotFound, collection, rkey, owner)
		}
		return nil, err
	}
	return envelope.Value, nil
}

// Delete implements RecordStore.
func (s *PDSStore) Delete(ctx context.Context, collection ref.NSID, rkey ref.RecordKey) error {
	return s.session.DeleteRecord(ctx, collection, rkey)
}

// clientFor returns an unauthenticated client for the PDS hosting the
// owner's repository, reusing clients per endpoint.
func (s *PDSStore) clientFor(ctx context.Context, owner ref.DID) (*pds.Client, error) {
	endpoint, err := s.resolver.PDSEndpoint(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("signaling: locating repository for %s: %w", owner, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[endpoint]; ok {
		return client, nil
	}
	client, err := pds.NewClient(pds.ClientConfig{
		ServiceURL: endpoint,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("signaling: client for %s: %w", endpoint, err)
	}
	s.clients[endpoint] = client
	return client, nil
}

// MemoryStore is an in-memory RecordStore for tests. It models a
// single account's writable repository plus a world of readable
// repositories, keyed by owner DID. Last write wins per key.
type MemoryStore struct {
	// LocalDID is the account Put and Delete write as.
	LocalDID ref.DID

	mu    sync.Mutex
	repos map[string]map[string]json.RawMessage
}

// NewMemoryStore creates a memory store writing as the given DID.
func NewMemoryStore(localDID ref.DID) *MemoryStore {
	return &MemoryStore{
		LocalDID: localDID,
		repos:    make(map[string]map[string]json.RawMessage),
	}
}

// Join makes two memory stores share one record universe, so records
// one side writes are readable by the other. The receiver's universe
// is discarded.
func (s *MemoryStore) Join(other *MemoryStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()
	other.repos = s.repos
}

func recordAddress(collection ref.NSID, rkey ref.RecordKey) string {
	return collection.String() + "/" + rkey.String()
}

// Put implements RecordStore.
func (s *MemoryStore) Put(ctx context.Context, collection ref.NSID, rkey ref.RecordKey, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("signaling: encoding record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[s.LocalDID.String()]
	if !ok {
		repo = make(map[string]json.RawMessage)
		s.repos[s.LocalDID.String()] = repo
	}
	repo[recordAddress(collection, rkey)] = raw
	return nil
}

// Get implements RecordStore.
func (s *MemoryStore) Get(ctx context.Context, owner ref.DID, collection ref.NSID, rkey ref.RecordKey) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[owner.String()]
	if !ok {
		return nil, fmt.Errorf("%w: no repository for %s", ErrRecordNotFound, owner)
	}
	raw, ok := repo[recordAddress(collection, rkey)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s in %s", ErrRecordNotFound, collection, rkey, owner)
	}
	return raw, nil
}

// Delete implements RecordStore.
func (s *MemoryStore) Delete(ctx context.Context, collection ref.NSID, rkey ref.RecordKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo, ok := s.repos[s.LocalDID.String()]; ok {
		delete(repo, recordAddress(collection, rkey))
	}
	return nil
}
