/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package patchbay defines the identity, flag, and error types shared by
// every subpackage implementing the port-and-connection graph: the
// registry, connection set, buffer pool, compiler, cycle driver, and
// session manager.
package patchbay

import "fmt"

// PortID is an opaque handle to a port. Index is a slot in the registry's
// arena; Generation distinguishes a live port from a stale handle to a
// slot that has since been reused by a different port.
type PortID struct {
	Index      uint32
	Generation uint32
}

func (id PortID) String() string {
	return fmt.Sprintf("port#%d.%d", id.Index, id.Generation)
}

// IsZero reports whether id is the zero value, never a valid handle.
func (id PortID) IsZero() bool { return id == PortID{} }

// ClientID is an opaque handle to a client session, following the same
// index-plus-generation scheme as PortID.
type ClientID struct {
	Index      uint32
	Generation uint32
}

func (id ClientID) String() string {
	return fmt.Sprintf("client#%d.%d", id.Index, id.Generation)
}

// IsZero reports whether id is the zero value, never a valid handle.
func (id ClientID) IsZero() bool { return id == ClientID{} }
