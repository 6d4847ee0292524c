package protocol

import (
	"bytes"
	"net"
	"reflect"
	"testing"

	"github.com/tomerIQ713/File-Transfer/internal/encryption"
)

func newTestCipher(t *testing.T) *encryption.SessionCipher {
	t.Helper()
	key, err := encryption.NewRandomSessionKey()
	if err != nil {
		t.Fatal(err)
	}
	c, err := encryption.NewSessionCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFrames(t *testing.T) {
	t.Run("round trips", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, []byte("hello")); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}

		got, err := ReadFrame(&buf, 64)
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		if string(got) != "hello" {
			t.Errorf("ReadFrame() = %q, want hello", got)
		}
	})

	t.Run("rejects oversized frame", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, make([]byte, 100)); err != nil {
			t.Fatal(err)
		}

		if _, err := ReadFrame(&buf, 64); err == nil {
			t.Error("ReadFrame() accepted frame above limit")
		}
	})

	t.Run("truncated stream errors", func(t *testing.T) {
		buf := bytes.NewBuffer([]byte{0, 0, 0, 10, 'a', 'b'})
		if _, err := ReadFrame(buf, 64); err == nil {
			t.Error("ReadFrame() accepted truncated frame")
		}
	})
}

func TestRequestRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	request := Message{
		FieldType:         TypeLogin,
		FieldUsername:     "alice",
		FieldPasswordHash: "cafe01",
	}

	var buf bytes.Buffer
	if err := WriteRequest(&buf, c, request); err != nil {
		t.Fatalf("WriteRequest() error = %v", err)
	}

	got, err := ReadMessage(&buf, c)
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !reflect.DeepEqual(got, request) {
		t.Errorf("decode(encrypt(M)) = %v, want %v", got, request)
	}
}

func TestServerMessageRoundTrip(t *testing.T) {
	t.Run("header then payload", func(t *testing.T) {
		c := newTestCipher(t)

		response := Response("login_response", true, []any{})

		var buf bytes.Buffer
		if err := WriteMessage(&buf, c, response); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}

		got, err := ReadServerMessage(&buf, c)
		if err != nil {
			t.Fatalf("ReadServerMessage() error = %v", err)
		}
		if got.Type() != "login_response" {
			t.Errorf("Type() = %q, want login_response", got.Type())
		}
		accepted, _ := got.Bool(FieldAccepted)
		if !accepted {
			t.Error("accepted = false, want true")
		}
	})

	t.Run("numbers survive as int64 accessors", func(t *testing.T) {
		c := newTestCipher(t)

		var buf bytes.Buffer
		err := WriteMessage(&buf, c, Message{
			FieldType:          TypeDownloadStart,
			FieldEncryptedSize: 1234,
		})
		if err != nil {
			t.Fatal(err)
		}

		got, err := ReadServerMessage(&buf, c)
		if err != nil {
			t.Fatal(err)
		}
		size, ok := got.Int64(FieldEncryptedSize)
		if !ok || size != 1234 {
			t.Errorf("Int64(encrypted-size) = %d, %v; want 1234, true", size, ok)
		}
	})
}

func TestReadMessage_SoftFailures(t *testing.T) {
	t.Run("wrong key is an invalid package", func(t *testing.T) {
		sender := newTestCipher(t)
		receiver := newTestCipher(t)

		var buf bytes.Buffer
		if err := WriteRequest(&buf, sender, Message{FieldType: TypeLogout}); err != nil {
			t.Fatal(err)
		}

		_, err := ReadMessage(&buf, receiver)
		ipe, ok := AsInvalidPackage(err)
		if !ok {
			t.Fatalf("error = %v, want InvalidPackageError", err)
		}
		if ipe.Reason != "Failed to decrypt data" {
			t.Errorf("Reason = %q", ipe.Reason)
		}
	})

	t.Run("sealed non-json is an invalid package", func(t *testing.T) {
		c := newTestCipher(t)

		frame, err := c.Seal([]byte("not json at all"))
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if err := WriteFrame(&buf, frame); err != nil {
			t.Fatal(err)
		}

		_, err = ReadMessage(&buf, c)
		ipe, ok := AsInvalidPackage(err)
		if !ok {
			t.Fatalf("error = %v, want InvalidPackageError", err)
		}
		if ipe.Reason != "Failed to format as json" {
			t.Errorf("Reason = %q", ipe.Reason)
		}
	})

	t.Run("transport fault is not an invalid package", func(t *testing.T) {
		c := newTestCipher(t)
		var empty bytes.Buffer

		_, err := ReadMessage(&empty, c)
		if err == nil {
			t.Fatal("expected error on empty stream")
		}
		if _, ok := AsInvalidPackage(err); ok {
			t.Error("EOF classified as invalid package")
		}
	})
}

func TestRawPayload(t *testing.T) {
	t.Run("round trips declared size", func(t *testing.T) {
		var buf bytes.Buffer
		data := bytes.Repeat([]byte{0xab}, 512)
		if err := WriteRawPayload(&buf, data); err != nil {
			t.Fatal(err)
		}

		got, err := ReadRawPayload(&buf, 512, 1024)
		if err != nil {
			t.Fatalf("ReadRawPayload() error = %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Error("payload mismatch")
		}
	})

	t.Run("rejects size above max", func(t *testing.T) {
		var buf bytes.Buffer
		if _, err := ReadRawPayload(&buf, 2048, 1024); err == nil {
			t.Error("ReadRawPayload() accepted size above max")
		}
	})

	t.Run("rejects non-positive size", func(t *testing.T) {
		var buf bytes.Buffer
		if _, err := ReadRawPayload(&buf, 0, 1024); err == nil {
			t.Error("ReadRawPayload() accepted zero size")
		}
	})
}

func TestClientHandshake(t *testing.T) {
	serverIdentity := func(t *testing.T) *encryption.Identity {
		t.Helper()
		id, err := encryption.GenerateIdentity()
		if err != nil {
			t.Fatal(err)
		}
		return id
	}

	t.Run("agrees on the session key", func(t *testing.T) {
		id := serverIdentity(t)
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		type result struct {
			cipher *encryption.SessionCipher
			err    error
		}
		done := make(chan result, 1)
		go func() {
			c, err := ClientHandshake(client)
			done <- result{c, err}
		}()

		// Server half.
		sig, err := id.SignPublicKey()
		if err != nil {
			t.Fatal(err)
		}
		if err := WriteFrame(server, id.PublicKeyPEM()); err != nil {
			t.Fatal(err)
		}
		if err := WriteFrame(server, sig); err != nil {
			t.Fatal(err)
		}
		encKey, err := ReadFrame(server, MaxSessionKeyBlob)
		if err != nil {
			t.Fatal(err)
		}
		key, err := id.DecryptSessionKey(encKey)
		if err != nil {
			t.Fatalf("server failed to decrypt submitted key: %v", err)
		}
		serverCipher, err := encryption.NewSessionCipher(key)
		if err != nil {
			t.Fatal(err)
		}

		res := <-done
		if res.err != nil {
			t.Fatalf("ClientHandshake() error = %v", res.err)
		}

		// Both ends must hold the same key: a frame sealed by one opens
		// on the other.
		frame, err := res.cipher.Seal([]byte("ping"))
		if err != nil {
			t.Fatal(err)
		}
		plain, err := serverCipher.Open(frame)
		if err != nil {
			t.Fatalf("server could not open client frame: %v", err)
		}
		if string(plain) != "ping" {
			t.Errorf("payload = %q, want ping", plain)
		}
	})

	t.Run("rejects a substituted key", func(t *testing.T) {
		id := serverIdentity(t)
		impostor := serverIdentity(t)
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		errc := make(chan error, 1)
		go func() {
			_, err := ClientHandshake(client)
			errc <- err
		}()

		// Send the impostor's key with the real server's signature.
		sig, err := id.SignPublicKey()
		if err != nil {
			t.Fatal(err)
		}
		if err := WriteFrame(server, impostor.PublicKeyPEM()); err != nil {
			t.Fatal(err)
		}
		if err := WriteFrame(server, sig); err != nil {
			t.Fatal(err)
		}

		if err := <-errc; err == nil {
			t.Error("ClientHandshake() trusted a substituted key")
		}
	})
}
