// Package security implements the request-security pipeline: CSRF guard,
// HMAC request signing with replay protection, and the payload encryption
// envelope. Every error here is collapsed to a generic rejection at the HTTP
// edge so probes cannot learn which check failed.
package security

import "errors"

var (
	// ErrCSRFTokenMissing occurs when header or cookie token is absent.
	ErrCSRFTokenMissing = errors.New("security: csrf token missing")
	// ErrCSRFTokenMismatch occurs when header and cookie tokens differ.
	ErrCSRFTokenMismatch = errors.New("security: csrf token mismatch")
	// ErrCSRFTokenMalformed occurs when a token fails the format check.
	ErrCSRFTokenMalformed = errors.New("security: csrf token malformed")

	// ErrSignatureMissing occurs when a signing header is absent.
	ErrSignatureMissing = errors.New("security: signature headers missing")
	// ErrSignatureInvalid occurs on signature mismatch or malformed input.
	ErrSignatureInvalid = errors.New("security: signature invalid")
	// ErrTimestampSkew occurs when the request timestamp is outside tolerance.
	ErrTimestampSkew = errors.New("security: timestamp outside tolerance")
	// ErrNonceReplayed occurs when a nonce is presented a second time within
	// the tolerance window.
	ErrNonceReplayed = errors.New("security: nonce already consumed")

	// ErrEnvelopeInvalid covers malformed, unverifiable or undecryptable
	// payloads. Deliberately a single error: distinguishing signature failure
	// from tag mismatch would hand attackers a padding-oracle style probe.
	ErrEnvelopeInvalid = errors.New("security: envelope invalid")
)
