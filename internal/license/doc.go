// Package license implements the offline, device-bound license token used by
// the shop application. It covers the parts of entitlement that deal with a
// single token string: decoding its payload, checking its signature, and
// deciding whether it may be honoured on the current device.
//
// # Token Format
//
// A token is a single copy-pasteable line:
//
//	<encodedPayload>.<signatureHex>
//
// encodedPayload is standard base64 of a JSON object:
//
//	{"mid":"<device id>","type":"full"|"time","exp":<epoch ms>,"v":2}
//
// exp is required for "time" licenses. Encode refuses it on "full" ones and
// Decode ignores it there. v selects the signature scheme and may be omitted
// for legacy tokens.
//
// # Signatures
//
//   - v absent or 1: lowercase hex HMAC-SHA256 of encodedPayload keyed with
//     the build-embedded Secret.
//   - v 2: lowercase hex Ed25519 signature of encodedPayload, verified with
//     the build-embedded PublicKeyHex. Only the vendor holds the private key.
//
// # Validation Flow
//
// Validate applies these checks in order and stops at the first failure:
//
//  1. Token is non-empty and contains a separator (ErrMalformedToken).
//  2. Payload decodes and carries the required fields (ErrInvalidPayload).
//  3. Payload device id equals the current device id (ErrDeviceMismatch).
//  4. Signature matches (ErrBadSignature).
//  5. Time-limited license has not passed its expiry (ErrExpired).
//
// Every rejection is an ordinary error value; callers decide whether to fall
// back to the trial or show a message. ReasonOf maps a rejection to a stable
// code suitable for APIs and metrics.
//
// # Logging
//
// Tokens are never logged verbatim. Use MaskToken and TokenHash to correlate
// log lines with a token without disclosing it.
package license
