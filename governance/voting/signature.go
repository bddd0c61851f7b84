package voting

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SignatureVerifier validates a critic agent's vote signature before Vote
// records it. Optional: a Service with no verifier set (the default, and
// most tests in this package) accepts any signature string, matching the
// spec's storage-only treatment of Vote.Signature.
type SignatureVerifier interface {
	Verify(itemID, agentID string, approve bool, signature string) bool
}

// HKDFSignatureVerifier derives a per-agent HMAC-SHA256 key from a shared
// master secret via HKDF-SHA256, then checks the vote signature against an
// HMAC over (item_id, agent_id, approve). The derive-then-HMAC construction
// mirrors DeriveKey/HMACSign in the teacher's internal/crypto package, which
// uses golang.org/x/crypto/hkdf so a key can be re-derived identically
// without ever being stored — here, so a critic agent's per-vote key never
// needs to be persisted alongside the deliberation item.
type HKDFSignatureVerifier struct {
	MasterKey []byte
}

// Verify reports whether signature is the hex-encoded HMAC-SHA256 of the
// vote payload under agentID's derived key.
func (v HKDFSignatureVerifier) Verify(itemID, agentID string, approve bool, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	key, err := deriveVoteKey(v.MasterKey, agentID)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(itemID))
	mac.Write([]byte{0})
	mac.Write([]byte(agentID))
	mac.Write([]byte{0})
	if approve {
		mac.Write([]byte{1})
	} else {
		mac.Write([]byte{0})
	}
	return hmac.Equal(want, mac.Sum(nil))
}

// Sign computes the signature Verify expects for (itemID, agentID, approve),
// for use by test fixtures and by a critic agent's own client library.
func (v HKDFSignatureVerifier) Sign(itemID, agentID string, approve bool) (string, error) {
	key, err := deriveVoteKey(v.MasterKey, agentID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(itemID))
	mac.Write([]byte{0})
	mac.Write([]byte(agentID))
	mac.Write([]byte{0})
	if approve {
		mac.Write([]byte{1})
	} else {
		mac.Write([]byte{0})
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func deriveVoteKey(masterKey []byte, agentID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterKey, []byte(agentID), []byte("agentbus-vote-signature"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
