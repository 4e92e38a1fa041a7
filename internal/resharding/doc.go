// Package resharding holds the pure rules of the resharding coordinator's
// persistence protocol: typed errors, the projection of a coordinator
// document onto collection entries, document and placement validation, the
// state transition check, the commit fence, and the postconditions each
// persistence operation must leave behind.
//
// Nothing in this package touches a store. The coordinator package reads the
// catalog, asks these functions whether a write is allowed, and performs it.
package resharding
