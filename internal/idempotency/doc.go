// Package idempotency remembers which entity a keyed create produced, so a
// client retrying a POST with the same Idempotency-Key header within the TTL
// gets the original entity back instead of a duplicate.
package idempotency
