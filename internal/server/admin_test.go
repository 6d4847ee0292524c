package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/tomerIQ713/File-Transfer/internal/blob"
)

func TestAdminConsole(t *testing.T) {
	newConsole := func(t *testing.T, stopped *bool) (*AdminConsole, *recordingStore, blob.Store, *bytes.Buffer) {
		t.Helper()
		store := &recordingStore{}
		writer := NewWriteSerializer(store, NewNopLogger())
		writer.Start()
		t.Cleanup(writer.Close)

		blobs := blob.NewMemoryStore()
		var out bytes.Buffer
		console := NewAdminConsole(NewRegistry(), writer, blobs,
			func() { *stopped = true }, &out, NewNopLogger())
		return console, store, blobs, &out
	}

	t.Run("stop ends the loop", func(t *testing.T) {
		var stopped bool
		console, _, _, _ := newConsole(t, &stopped)

		console.Run(context.Background(), strings.NewReader("stop\nsockets\n"))
		if !stopped {
			t.Error("stop command did not invoke the stop callback")
		}
	})

	t.Run("removeuser drops files and enqueues removal", func(t *testing.T) {
		var stopped bool
		console, store, blobs, _ := newConsole(t, &stopped)

		ctx := context.Background()
		if err := blobs.CreateNamespace(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
		if err := blobs.Put(ctx, "alice", "notes.txt", strings.NewReader("x"), 1); err != nil {
			t.Fatal(err)
		}

		console.Run(ctx, strings.NewReader("removeuser alice\n"))
		console.writer.Flush()

		ops := store.applied()
		if len(ops) != 1 || ops[0] != "remove_user alice" {
			t.Errorf("applied = %v", ops)
		}
		if err := blobs.Get(ctx, "alice", "notes.txt", io.Discard); !errors.Is(err, blob.ErrNotFound) {
			t.Errorf("blob Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("removeuser requires a name", func(t *testing.T) {
		var stopped bool
		console, store, _, out := newConsole(t, &stopped)

		console.Run(context.Background(), strings.NewReader("removeuser \n"))
		console.writer.Flush()

		if got := store.applied(); len(got) != 0 {
			t.Errorf("applied = %v, want none", got)
		}
		if !strings.Contains(out.String(), "username cannot be empty") {
			t.Errorf("output = %q", out.String())
		}
	})

	t.Run("unknown command is reported", func(t *testing.T) {
		var stopped bool
		console, _, _, out := newConsole(t, &stopped)

		console.Run(context.Background(), strings.NewReader("frobnicate\n"))
		if !strings.Contains(out.String(), "unrecognized command") {
			t.Errorf("output = %q", out.String())
		}
	})
}
