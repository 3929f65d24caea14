// Package tronseal signs commitments to persisted tron documents.
//
// A seal is a COSE Sign1 message whose payload binds a document id, its root
// kind, its persisted length and the SHA-256 digest of its persisted bytes.
// Anyone holding the signer's public key can later confirm that a document
// is exactly the one that was sealed.
package tronseal
