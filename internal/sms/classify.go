package sms

import "regexp"

var (
	// Transactional verbs and nouns banks put in debit/credit alerts.
	keywordPattern = regexp.MustCompile(`(?i)\b(debited|credited|spent|withdrawn|purchase|paid|payment|txn|transaction|pos|upi|neft|imps|atm|card)\b`)

	// A currency marker immediately followed by an amount, with optional
	// thousands separators and up to two decimal places.
	amountPattern = regexp.MustCompile(`(?i)(rs\.?|inr|usd|\$)\s*[0-9]+(,[0-9]{3})*(\.[0-9]{1,2})?`)
)

// IsTransactionMessage reports whether a message body looks like a bank
// transaction notification. Both a transactional keyword and a currency
// amount are required: OTP and promo texts routinely contain one or the
// other, almost never both.
//
// The same predicate runs on the historical and realtime paths so a
// message classifies identically regardless of how it arrived.
func IsTransactionMessage(body string) bool {
	return keywordPattern.MatchString(body) && amountPattern.MatchString(body)
}
