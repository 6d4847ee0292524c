package protocol

import (
	"fmt"
	"io"

	"github.com/tomerIQ713/File-Transfer/internal/encryption"
)

// Client-side wire helpers. The desktop client is out of scope, but the
// wire contract it must satisfy lives here so protocol tests (and any Go
// client) exercise the exact bytes the server speaks.

// ClientHandshake performs the client half of the connection handshake:
// receive the server's public key blob and signature, verify the signature
// against the blob, then submit a fresh session key encrypted under the
// verified key. An invalid signature aborts before any key material is sent.
func ClientHandshake(conn io.ReadWriter) (*encryption.SessionCipher, error) {
	pemBlob, err := ReadFrame(conn, MaxPublicKeyBlob)
	if err != nil {
		return nil, fmt.Errorf("reading server public key: %w", err)
	}

	sig, err := ReadFrame(conn, MaxSignatureBlob)
	if err != nil {
		return nil, fmt.Errorf("reading key signature: %w", err)
	}

	pub, err := encryption.VerifySignedPublicKey(pemBlob, sig)
	if err != nil {
		return nil, fmt.Errorf("server key rejected: %w", err)
	}

	key, err := encryption.NewRandomSessionKey()
	if err != nil {
		return nil, err
	}

	encKey, err := encryption.EncryptSessionKey(pub, key)
	if err != nil {
		return nil, err
	}

	if err := WriteFrame(conn, encKey); err != nil {
		return nil, fmt.Errorf("sending session key: %w", err)
	}

	return encryption.NewSessionCipher(key)
}

// WriteRequest seals and sends a client request as a single frame.
func WriteRequest(w io.Writer, c *encryption.SessionCipher, m Message) error {
	frame, err := sealMessage(c, m)
	if err != nil {
		return err
	}
	return WriteFrame(w, frame)
}

// ReadServerMessage reads one server message: the header_package frame
// declaring the payload size, then the payload frame.
func ReadServerMessage(r io.Reader, c *encryption.SessionCipher) (Message, error) {
	headerFrame, err := ReadFrame(r, MaxControlFrame)
	if err != nil {
		return nil, err
	}
	header, err := decodeSealed(headerFrame, c)
	if err != nil {
		return nil, err
	}
	if header.Type() != TypeHeaderPackage {
		return nil, fmt.Errorf("expected header_package, got %q", header.Type())
	}
	declared, ok := header.Int64(FieldSizeOfPackage)
	if !ok {
		return nil, fmt.Errorf("header_package missing size-of-package")
	}

	payloadFrame, err := ReadFrame(r, MaxControlFrame)
	if err != nil {
		return nil, err
	}
	if int64(len(payloadFrame)) != declared {
		return nil, fmt.Errorf("payload is %d bytes, header declared %d", len(payloadFrame), declared)
	}
	return decodeSealed(payloadFrame, c)
}
