// Package model defines the in-memory representation of resource manager
// recovery state: applications, their attempts, and the two token secret
// states. A Snapshot is the unit of transfer between stores - it is built
// by one full read of a source store, replayed into a destination, and
// then discarded.
//
// All types here are plain value holders. Stores own serialization;
// the migration engine owns ordering.
package model
