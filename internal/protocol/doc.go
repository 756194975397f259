// Package protocol defines the wire contract spoken between ray-control and
// ray-daemon: operation paths and their server/session taxonomy, the typed
// argument variant, the CBOR datagram codec, daemon error codes, the announce
// payload, and the mapping from daemon error codes to process exit codes.
//
// Arguments are typed once, here, when they enter the system. Nothing
// downstream re-inspects literal text to guess a type.
package protocol
