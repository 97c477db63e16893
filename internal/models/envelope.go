package models

// SignedEnvelope wraps a response payload with everything a third party
// needs to verify it offline: sha256 of the canonical serialization of
// Data, an ed25519 signature over "data_hash:timestamp", and the signer's
// public key. Immutable once produced.
type SignedEnvelope struct {
	Data           any    `json:"data"`
	DataHash       string `json:"data_hash"`
	Timestamp      int64  `json:"timestamp"`
	Signature      string `json:"signature"`
	ProviderPubkey string `json:"provider_pubkey"`
}
