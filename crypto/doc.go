// Package crypto implements the security primitives for the mesh chat
// protocol: peer identifiers with their canonical hex encoding, timing-safe
// byte comparison, and the secure-session layer used for private messages.
//
// Sessions are established via the Noise IK handshake and held by a
// SessionManager; the chat repository queries the manager to encrypt for or
// decrypt from a specific peer. The manager never performs handshakes on its
// own: session establishment is driven by the layer that owns the transport.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Peer ID:", crypto.PeerIDFromPublicKey(keys.Public))
package crypto
