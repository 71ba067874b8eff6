// Package dispatcher fires pending posts at their scheduled instant.
//
// Each scheduled link owns one cancellable one-shot timer; re-scheduling the
// same link replaces the prior timer. Fired jobs run on a small worker pool
// independent of request handling. The fire routine is idempotent: it
// re-reads the post, skips anything that is gone or already terminal, makes
// exactly one delivery attempt, and writes the single terminal status. There
// is no retry and no late catch-up; a post the process never fired stays
// pending for a human to deal with.
package dispatcher
