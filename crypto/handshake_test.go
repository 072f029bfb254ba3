package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHandshakeRoleValidation verifies setup rejects an initiator without
// the peer's static key.
func TestHandshakeRoleValidation(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = NewIKHandshake(keys.Private, nil, Initiator)
	require.Error(t, err)

	_, err = NewIKHandshake(keys.Private, []byte{1, 2, 3}, Initiator)
	require.Error(t, err)

	_, err = NewIKHandshake([32]byte{}, nil, Responder)
	require.Error(t, err, "all-zero private key is invalid")
}

// TestHandshakeLifecycle verifies the message sequence and the guards
// around completion.
func TestHandshakeLifecycle(t *testing.T) {
	iniKeys, err := GenerateKeyPair()
	require.NoError(t, err)
	respKeys, err := GenerateKeyPair()
	require.NoError(t, err)

	ini, err := NewIKHandshake(iniKeys.Private, respKeys.Public[:], Initiator)
	require.NoError(t, err)
	resp, err := NewIKHandshake(respKeys.Private, nil, Responder)
	require.NoError(t, err)

	_, err = ini.Session()
	require.ErrorIs(t, err, ErrHandshakeNotComplete)

	_, err = resp.WriteMessage(nil)
	require.Error(t, err, "responder needs the initiator's message first")

	msg1, err := ini.WriteMessage(nil)
	require.NoError(t, err)
	require.False(t, ini.IsComplete())

	msg2, err := resp.WriteMessage(msg1)
	require.NoError(t, err)
	require.True(t, resp.IsComplete())

	require.NoError(t, ini.ReadMessage(msg2))
	require.True(t, ini.IsComplete())

	require.ErrorIs(t, ini.ReadMessage(msg2), ErrHandshakeComplete)
	_, err = resp.WriteMessage(msg1)
	require.ErrorIs(t, err, ErrHandshakeComplete)

	iniSession, err := ini.Session()
	require.NoError(t, err)
	respSession, err := resp.Session()
	require.NoError(t, err)

	ciphertext, err := iniSession.Encrypt([]byte("ping"))
	require.NoError(t, err)
	plaintext, err := respSession.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), plaintext)
}
