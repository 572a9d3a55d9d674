// Package dedupe remembers which stored message a client idempotency key
// produced, so a retried send within the TTL window returns the original
// message instead of inserting a second one.
package dedupe
