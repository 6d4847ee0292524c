package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tomerIQ713/File-Transfer/internal/encryption"
)

// Frame size bounds. Control messages are small; anything larger than
// MaxControlFrame on the control path is a protocol violation. Handshake
// blobs have their own bounds since no cipher exists yet.
const (
	MaxControlFrame   = 64 * 1024
	MaxPublicKeyBlob  = 4096
	MaxSignatureBlob  = 1024
	MaxSessionKeyBlob = 1024
)

// InvalidPackageError marks a soft decode failure: the bytes arrived but
// could not be turned into a Message. The connection survives; the server
// answers with an invalid_package response carrying Reason.
type InvalidPackageError struct {
	Reason string
}

func (e *InvalidPackageError) Error() string {
	return "invalid package: " + e.Reason
}

// AsInvalidPackage unwraps err as an InvalidPackageError if it is one.
func AsInvalidPackage(err error) (*InvalidPackageError, bool) {
	var ipe *InvalidPackageError
	ok := errors.As(err, &ipe)
	return ipe, ok
}

// WriteFrame writes a 4-byte big-endian length prefix followed by data.
func WriteFrame(w io.Writer, data []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed frame of at most max bytes.
// Errors from ReadFrame are transport faults; the caller tears down.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(length[:])
	if int(n) > max {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", n, max)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadMessage reads one sealed client request frame and decodes it.
// Decryption and parse failures come back as InvalidPackageError; anything
// else is a transport fault.
func ReadMessage(r io.Reader, c *encryption.SessionCipher) (Message, error) {
	frame, err := ReadFrame(r, MaxControlFrame)
	if err != nil {
		return nil, err
	}
	return decodeSealed(frame, c)
}

// WriteMessage seals and sends a server message: first a header_package
// frame declaring the sealed payload size, then the sealed payload itself.
func WriteMessage(w io.Writer, c *encryption.SessionCipher, m Message) error {
	payload, err := sealMessage(c, m)
	if err != nil {
		return err
	}

	header, err := sealMessage(c, Message{
		FieldType:          TypeHeaderPackage,
		FieldSizeOfPackage: len(payload),
	})
	if err != nil {
		return err
	}

	if err := WriteFrame(w, header); err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadRawPayload reads exactly n unframed bytes, the bulk-transfer wire
// format: the byte count was declared by the preceding header message.
func ReadRawPayload(r io.Reader, n int64, max int64) ([]byte, error) {
	if n <= 0 || n > max {
		return nil, fmt.Errorf("raw payload of %d bytes outside bounds (max %d)", n, max)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteRawPayload streams unframed bulk bytes.
func WriteRawPayload(w io.Writer, data []byte) error {
	_, err := w.Write(data)
	return err
}

func sealMessage(c *encryption.SessionCipher, m Message) ([]byte, error) {
	plaintext, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return c.Seal(plaintext)
}

func decodeSealed(frame []byte, c *encryption.SessionCipher) (Message, error) {
	plaintext, err := c.Open(frame)
	if err != nil {
		return nil, &InvalidPackageError{Reason: "Failed to decrypt data"}
	}

	var m Message
	if err := json.Unmarshal(plaintext, &m); err != nil {
		return nil, &InvalidPackageError{Reason: "Failed to format as json"}
	}
	return m, nil
}
