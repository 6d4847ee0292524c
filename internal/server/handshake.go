package server

import (
	"fmt"
	"io"

	"github.com/tomerIQ713/File-Transfer/internal/encryption"
	"github.com/tomerIQ713/File-Transfer/internal/protocol"
)

// handshake runs the server side of the key exchange on a fresh
// connection: send the public key and its signature, receive the
// client's encrypted session key, return the session cipher. Any
// failure aborts the connection before it is ever registered.
func handshake(conn io.ReadWriter, identity *encryption.Identity) (*encryption.SessionCipher, error) {
	if err := protocol.WriteFrame(conn, identity.PublicKeyPEM()); err != nil {
		return nil, fmt.Errorf("sending public key: %w", err)
	}

	sig, err := identity.SignPublicKey()
	if err != nil {
		return nil, fmt.Errorf("signing public key: %w", err)
	}
	if err := protocol.WriteFrame(conn, sig); err != nil {
		return nil, fmt.Errorf("sending signature: %w", err)
	}

	encryptedKey, err := protocol.ReadFrame(conn, protocol.MaxSessionKeyBlob)
	if err != nil {
		return nil, fmt.Errorf("reading session key: %w", err)
	}
	key, err := identity.DecryptSessionKey(encryptedKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting session key: %w", err)
	}

	cipher, err := encryption.NewSessionCipher(key)
	if err != nil {
		return nil, fmt.Errorf("building session cipher: %w", err)
	}
	return cipher, nil
}
