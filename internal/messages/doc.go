// Package messages defines the payloads exchanged on the bus by the
// environment manager: the inbound sensor and tracking channels, the
// transform broadcast and the roadway environment snapshot.
//
// Payloads are plain structs with JSON tags so they travel unchanged over
// the in-process bus and the gRPC bridge. Inbound payloads implement
// Validator; a payload that fails validation is never cached.
package messages
