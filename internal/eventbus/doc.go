// Package eventbus implements the in-process, fire-and-forget publish/
// subscribe bus that connects the primary store (C4) to the ingestion
// handlers (C7) and other components that react to a new record being
// stored (spec.md §4.2).
//
// Publish never blocks on subscribers: each subscriber is dispatched
// independently, and one subscriber's failure — including a panic — never
// affects another subscriber or the publisher. Delivery order within a
// topic to a single subscriber is FIFO; no ordering is promised across
// topics.
//
// The transport is core NATS (github.com/nats-io/nats.go), run against an
// embedded, in-process nats-server by default so a standalone broker is
// never required for a single-node deployment. Configuring an external
// NATS URL switches the bus to a regular client connection without any
// change to the Bus interface.
package eventbus
