// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity resolves user-supplied identifiers to DIDs and
// discovers the PDS endpoint hosting a DID's repository.
//
// Handle resolution goes through any PDS's resolveHandle endpoint;
// endpoint discovery reads the DID document from the PLC directory.
// Only the did:plc method has a discovery mechanism here — other
// methods fail with ErrUnsupportedDIDMethod.
package identity
