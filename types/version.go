package types

// Version is the canonical client version, reported by the version
// command and sent in the authentication handshake.
const Version = "0.2.0"
