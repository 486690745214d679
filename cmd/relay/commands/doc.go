// Package commands defines the relay CLI.
//
// Commands
//
//   - serve    Run the HTTP + WebSocket relay
//   - keygen   Print a fresh MESSAGE_ENC_KEY value
//   - decrypt  Dump a persisted messages file in plaintext
//
// Configuration comes from the environment (and .env); flags on serve
// override the port and the store location.
package commands
