// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identifier value types for the AT
// Protocol: DIDs, handles, collection NSIDs, and record keys.
//
// Every type is an immutable value validated at construction. Code
// that holds a ref.DID never needs to re-check its shape; code that
// accepts raw strings from the network or the user calls the Parse
// function at the boundary and propagates the typed value inward.
package ref
