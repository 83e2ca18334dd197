// Package sms holds the message-level types shared by the historical
// scanner and the realtime listener: the inbox record, the transaction
// classifier, and the realtime fingerprint.
package sms

import "fmt"

// Record is a single message as read from the device inbox or delivered by
// the realtime event source. It is sourced externally and never mutated.
type Record struct {
	// NativeID is the inbox row ID. Empty on some realtime delivery paths,
	// which is why the realtime dedup path keys on Fingerprint instead.
	NativeID  string
	Body      string
	Address   string
	Timestamp int64 // epoch millis
}

// fingerprintBodyLen bounds the body prefix included in a fingerprint so
// the persisted set stays small.
const fingerprintBodyLen = 120

// Fingerprint derives the dedup key for a realtime event:
// "{timestamp}|{address}|{first 120 chars of body}".
func Fingerprint(r Record) string {
	body := r.Body
	if len(body) > fingerprintBodyLen {
		body = body[:fingerprintBodyLen]
	}
	return fmt.Sprintf("%d|%s|%s", r.Timestamp, r.Address, body)
}
