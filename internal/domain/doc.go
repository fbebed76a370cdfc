// Package domain contains the core domain entities and value objects for relpd.
//
// This package represents the innermost layer of the listener. It has no
// dependencies on infrastructure concerns (sockets, TLS, logging) and
// contains only the data model shared between the protocol layer and the
// batching queue.
//
// # Entities
//
//   - [Event]: A single accepted syslog payload with its wire metadata
//   - [Batch]: An ordered group of events from one connection, ready to drain
//
// # Design Principles
//
// Domain entities are:
//   - Immutable after construction (where practical)
//   - Free of infrastructure dependencies
//   - Testable without sockets or external systems
package domain
