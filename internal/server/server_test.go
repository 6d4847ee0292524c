package server

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/tomerIQ713/File-Transfer/internal/blob"
	"github.com/tomerIQ713/File-Transfer/internal/config"
	"github.com/tomerIQ713/File-Transfer/internal/database"
	"github.com/tomerIQ713/File-Transfer/internal/encryption"
	"github.com/tomerIQ713/File-Transfer/internal/protocol"
	"github.com/tomerIQ713/File-Transfer/internal/testutil"
)

// testClient drives the wire protocol against a running server the way
// a real client would.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	cipher *encryption.SessionCipher
}

func dialTestServer(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	cipher, err := protocol.ClientHandshake(conn)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	return &testClient{t: t, conn: conn, cipher: cipher}
}

func (c *testClient) send(m protocol.Message) {
	c.t.Helper()
	if err := protocol.WriteRequest(c.conn, c.cipher, m); err != nil {
		c.t.Fatalf("sending request: %v", err)
	}
}

func (c *testClient) recv() protocol.Message {
	c.t.Helper()
	m, err := protocol.ReadServerMessage(c.conn, c.cipher)
	if err != nil {
		c.t.Fatalf("reading server message: %v", err)
	}
	return m
}

func (c *testClient) request(m protocol.Message) protocol.Message {
	c.send(m)
	return c.recv()
}

func (c *testClient) mustAccept(m protocol.Message) protocol.Message {
	c.t.Helper()
	resp := c.request(m)
	if ok, _ := resp.Bool(protocol.FieldAccepted); !ok {
		c.t.Fatalf("%s rejected: %v", m.Type(), resp[protocol.FieldResponse])
	}
	return resp
}

type serverFixture struct {
	addr     string
	store    *database.Store
	writer   *WriteSerializer
	srv      *Server
	sessions *Registry
}

func startTestServer(t *testing.T) *serverFixture {
	t.Helper()

	store, writeStore := testutil.NewTestStorePair(t)

	identity, err := encryption.GenerateIdentity()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}

	sessions := NewRegistry()
	writer := NewWriteSerializer(writeStore, NewNopLogger())
	writer.Start()
	t.Cleanup(writer.Close)

	dispatcher := NewDispatcher(store, writer, blob.NewMemoryStore(), sessions,
		RealClock{}, NewNopLogger(), config.DefaultMaxUploadBytes)
	srv := NewServer(identity, dispatcher, sessions, NewNopLogger(), UUIDGenerator{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	go srv.Serve(context.Background(), ln)
	t.Cleanup(srv.Stop)

	return &serverFixture{
		addr:     ln.Addr().String(),
		store:    store,
		writer:   writer,
		srv:      srv,
		sessions: sessions,
	}
}

func TestServer_StopClosesHalfOpenHandshakes(t *testing.T) {
	fixture := startTestServer(t)

	// Dial and go silent: the server is left blocked reading the
	// session key frame that never comes.
	conn, err := net.Dial("tcp", fixture.addr)
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}
	defer conn.Close()

	stopped := make(chan struct{})
	go func() {
		fixture.srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked on a connection that never finished its handshake")
	}
}

func TestServer_FailedHandshakeLeavesNoSession(t *testing.T) {
	fixture := startTestServer(t)

	conn, err := net.Dial("tcp", fixture.addr)
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}
	defer conn.Close()

	if _, err := protocol.ReadFrame(conn, protocol.MaxPublicKeyBlob); err != nil {
		t.Fatalf("reading public key: %v", err)
	}
	if _, err := protocol.ReadFrame(conn, protocol.MaxSignatureBlob); err != nil {
		t.Fatalf("reading signature: %v", err)
	}
	if err := protocol.WriteFrame(conn, []byte("not an encrypted session key")); err != nil {
		t.Fatalf("sending bogus session key: %v", err)
	}

	// The server aborts the connection; the read unblocks once the
	// close lands.
	if _, err := protocol.ReadFrame(conn, protocol.MaxControlFrame); err == nil {
		t.Fatal("expected the server to close the connection")
	}
	if got := len(fixture.sessions.Sessions()); got != 0 {
		t.Errorf("registry holds %d sessions after a failed handshake, want 0", got)
	}
}

func TestServer_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end scenario includes the download start delay")
	}

	fixture := startTestServer(t)
	fileBytes := bytes.Repeat([]byte{0x5a}, 1024)
	aliceHash := testutil.HashPassword("alice-password")
	bobHash := testutil.HashPassword("bob-password")

	// Alice signs up and uploads a public file.
	alice := dialTestServer(t, fixture.addr)
	alice.mustAccept(protocol.Message{
		protocol.FieldType:         protocol.TypeSignup,
		protocol.FieldUsername:     "alice",
		protocol.FieldPasswordHash: aliceHash,
	})

	alice.mustAccept(protocol.Message{
		protocol.FieldType: protocol.TypeUploadRequest,
		protocol.FieldFileData: map[string]any{
			protocol.FieldFileName:      "notes.txt",
			protocol.FieldFileSizeBytes: len(fileBytes),
			protocol.FieldIsPublic:      true,
		},
	})
	sealed, err := alice.cipher.Seal(fileBytes)
	if err != nil {
		t.Fatal(err)
	}
	alice.send(protocol.Message{
		protocol.FieldType:          protocol.TypeUploadStart,
		protocol.FieldEncryptedSize: len(sealed),
	})
	if err := protocol.WriteRawPayload(alice.conn, sealed); err != nil {
		t.Fatal(err)
	}
	final := alice.recv()
	if ok, _ := final.Bool(protocol.FieldAccepted); !ok || final.Type() != protocol.TypeUploadFinal {
		t.Fatalf("upload final = %v", final)
	}
	fileData, ok := final.Map(protocol.FieldResponse)
	if !ok {
		t.Fatalf("upload final carries no file data: %v", final)
	}
	if count, _ := fileData.Int64("download-count"); count != 0 {
		t.Errorf("fresh upload download-count = %d, want 0", count)
	}

	// Log out, log back in: the listing must include the upload with a
	// zero download counter.
	alice.mustAccept(protocol.Message{protocol.FieldType: protocol.TypeLogout})
	fixture.writer.Flush()

	login := alice.mustAccept(protocol.Message{
		protocol.FieldType:         protocol.TypeLogin,
		protocol.FieldUsername:     "alice",
		protocol.FieldPasswordHash: aliceHash,
	})
	listing, ok := login[protocol.FieldResponse].([]any)
	if !ok || len(listing) != 1 {
		t.Fatalf("login listing = %v", login[protocol.FieldResponse])
	}
	entry := protocol.Message(listing[0].(map[string]any))
	if name, _ := entry.String("file-name"); name != "notes.txt" {
		t.Errorf("listing file = %q", name)
	}
	if count, _ := entry.Int64("download-count"); count != 0 {
		t.Errorf("listing download-count = %d, want 0", count)
	}

	// Bob signs up and downloads Alice's public file, acknowledging
	// receipt.
	bob := dialTestServer(t, fixture.addr)
	bob.mustAccept(protocol.Message{
		protocol.FieldType:         protocol.TypeSignup,
		protocol.FieldUsername:     "bob",
		protocol.FieldPasswordHash: bobHash,
	})
	bob.mustAccept(protocol.Message{
		protocol.FieldType:     protocol.TypeDownloadRequest,
		protocol.FieldFileName: "notes.txt",
		protocol.FieldUsername: "alice",
	})

	start := bob.recv()
	if start.Type() != protocol.TypeDownloadStart {
		t.Fatalf("expected download_start, got %v", start)
	}
	encryptedSize, _ := start.Int64(protocol.FieldEncryptedSize)
	payload, err := protocol.ReadRawPayload(bob.conn, encryptedSize, int64(len(fileBytes))+1024)
	if err != nil {
		t.Fatalf("reading download payload: %v", err)
	}
	plain, err := bob.cipher.Open(payload)
	if err != nil {
		t.Fatalf("opening download payload: %v", err)
	}
	if !bytes.Equal(plain, fileBytes) {
		t.Error("downloaded bytes differ from the upload")
	}
	bob.send(protocol.Message{
		protocol.FieldType:     protocol.TypeDownloadFinal,
		protocol.FieldReceived: true,
	})

	// The acknowledged download bumps the counter once the write
	// queue drains.
	waitForDownloadCount(t, fixture, "notes.txt", "alice", 1)
}

// waitForDownloadCount flushes the write queue until the counter
// reaches want. The ack is processed on the connection goroutine, so
// the enqueue itself can race the first flush.
func waitForDownloadCount(t *testing.T, fixture *serverFixture, name, uploader string, want int64) {
	t.Helper()
	for i := 0; i < 200; i++ {
		fixture.writer.Flush()
		file, err := fixture.store.GetFile(name, uploader)
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if file.DownloadCount == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("download count never reached %d", want)
}
