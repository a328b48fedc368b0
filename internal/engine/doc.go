// Package engine implements the migration engine: it replays the full
// recovery snapshot of a source store into a destination store through
// the uniform store capability contract.
//
// The replay order is fixed and is part of the contract, not an
// implementation detail:
//
//  1. pre-check that the destination is empty (unless forced)
//  2. stamp the destination with the current version marker
//  3. load the full snapshot from the source
//  4. replay the AM-RM token secret state
//  5. replay applications, each record before its attempts, attempts in
//     ascending attempt-number order
//  6. replay delegation master keys, then issued tokens, then re-stamp
//     the delegation sequence counter at the source's high-water mark
//  7. close both stores on every exit path
//
// Version-stamping first makes a crashed run distinguishable from a
// never-touched destination; parent-before-child ordering satisfies
// backends with structural prerequisites; the final sequence re-stamp
// guarantees the destination never re-issues a token id the source
// already used.
package engine
