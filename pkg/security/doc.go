// Package security provides the cryptographic primitives for vault access
// and token signing: the scrypt+SHA-256 key-hash used to gate vault access
// (MakeKeyhash, KeyhashEqual) and the process-wide token-signing secret
// persisted at <DATA_DIR>/secret.bin (LoadOrCreateSecret).
//
// Neither the mTLS certificate authority nor the AES-GCM secrets-at-rest
// manager this package's ancestor carried has an analog here: transport is
// plain HTTP/WebSocket and vault file content is already client-side
// ciphertext the server never touches.
package security
