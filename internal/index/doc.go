// Package index builds and reads the hash index stored in the __index__ entry.
//
// The index maps 64-bit name hashes to the data offset and stored size of each
// entry, sorted by hash so a consumer can binary search it without parsing the
// central directory. It also carries two sets of package hashes answering
// "does this package contain any class or resource" and, for diagnostics, the
// entry names in index order.
//
// Hash collisions between distinct names are not detected: two names with the
// same hash alias in lookup. Resolving collisions would change the on-disk
// lookup semantics, so the index favors lookup speed instead.
package index
