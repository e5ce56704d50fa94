// Package service is the ledger's single write entry point. It serializes
// commands over the three registries and settles each one against the
// token service, the outbox and the journal before the in-memory state
// changes.
//
// It provides the API used by transports such as gRPC and has no
// knowledge of them.
package service
