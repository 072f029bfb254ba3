package crypto

import "fmt"

// NewSessionPair runs a complete in-process IK handshake between two key
// pairs and returns the two linked sessions (initiator side first). Whatever
// one side encrypts, the other decrypts. Used when both endpoints live in
// the same process, e.g. the loopback transport and tests.
func NewSessionPair(initiator, responder *KeyPair) (*Session, *Session, error) {
	ini, err := NewIKHandshake(initiator.Private, responder.Public[:], Initiator)
	if err != nil {
		return nil, nil, fmt.Errorf("initiator handshake setup failed: %w", err)
	}
	resp, err := NewIKHandshake(responder.Private, nil, Responder)
	if err != nil {
		return nil, nil, fmt.Errorf("responder handshake setup failed: %w", err)
	}

	msg1, err := ini.WriteMessage(nil)
	if err != nil {
		return nil, nil, err
	}
	msg2, err := resp.WriteMessage(msg1)
	if err != nil {
		return nil, nil, err
	}
	if err := ini.ReadMessage(msg2); err != nil {
		return nil, nil, err
	}

	iniSession, err := ini.Session()
	if err != nil {
		return nil, nil, err
	}
	respSession, err := resp.Session()
	if err != nil {
		return nil, nil, err
	}
	return iniSession, respSession, nil
}
