// Package store persists tenants (channel owners), bot subscribers and
// scheduled pending posts in a single sqlite database.
//
// The panel daemon and every bot worker process open the same file; sqlite's
// WAL mode plus a single writer connection per process keeps concurrent
// access safe without cross-process coordination.
package store
