// Package store provides the relay's append-only message log.
//
// Message bodies are sealed with the process codec before they reach a
// Backend, so every medium (JSON file, SQL table) only ever holds
// ciphertext. Reads open each record independently; a record that cannot
// be decrypted comes back as codec.Undecodable instead of failing the read.
//
// Appends are serialized under one lock and become visible in memory only
// after the backend reports them durable.
package store
