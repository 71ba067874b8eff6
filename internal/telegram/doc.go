// Package telegram is the delivery primitive: one Bot API HTTP call per send.
//
// Transport failures and API-reported failures are both folded into the
// SendResult; callers treat "not ok" as a terminal local failure. There is no
// retry anywhere in this package.
package telegram
