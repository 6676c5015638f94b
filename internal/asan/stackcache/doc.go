// Package stackcache implements the deduplicated, reference-counted store
// of call stack captures used to attribute allocation and free events.
//
// The heap proxy tags every block with the stack that allocated it and,
// later, the stack that freed it. Identical stacks are extremely common,
// so captures are deduplicated by a content hash (StackID): saving a stack
// that already exists increments the existing record's reference count and
// returns the same pointer. A returned *StackCapture never moves and never
// becomes invalid while referenced.
//
// Storage is a singly linked list of fixed-size cache pages (1 MiB each,
// newest first), each a bump-allocated arena. Reclaim is LIFO-only: when a
// capture's reference count drops to zero and it happens to be the most
// recent allocation of the current page, its bytes are handed back
// immediately; otherwise the slot stays in place until the cache is
// destroyed. The fragmentation this accepts is a deliberate simplicity
// trade-off, not a defect - do not "improve" it into a general free list.
//
// One lock serializes SaveStackTrace, ReleaseStackTrace and statistics
// reads. Operations under the lock are short (a hash lookup plus a bounded
// copy), so coarse locking beats sharding here.
package stackcache
