package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tomerIQ713/File-Transfer/internal/blob"
)

// AdminConsole reads line commands while the server runs:
//
//	stop              shut the server down
//	sockets           list live connections
//	logged_in         list authenticated usernames
//	removeuser <name> remove an account and all its files
type AdminConsole struct {
	sessions *Registry
	writer   *WriteSerializer
	blobs    blob.Store
	stop     func()
	out      io.Writer
	logger   Logger
}

// NewAdminConsole wires a console. stop is invoked once when the stop
// command is read.
func NewAdminConsole(sessions *Registry, writer *WriteSerializer, blobs blob.Store, stop func(), out io.Writer, logger Logger) *AdminConsole {
	return &AdminConsole{
		sessions: sessions,
		writer:   writer,
		blobs:    blobs,
		stop:     stop,
		out:      out,
		logger:   logger,
	}
}

// Run consumes commands from r until it is exhausted or the stop
// command is read.
func (a *AdminConsole) Run(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if a.runCommand(ctx, strings.TrimSpace(scanner.Text())) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("admin console read failed", "error", err)
	}
}

// runCommand executes one command, reporting whether it was stop.
func (a *AdminConsole) runCommand(ctx context.Context, command string) bool {
	switch {
	case command == "stop":
		a.stop()
		return true

	case command == "sockets":
		sessions := a.sessions.Sessions()
		fmt.Fprintf(a.out, "%d connected\n", len(sessions))
		for _, s := range sessions {
			fmt.Fprintf(a.out, "  %s %s\n", s.ID, s.RemoteAddr)
		}

	case command == "logged_in":
		for _, name := range a.sessions.LoggedIn() {
			fmt.Fprintln(a.out, name)
		}

	case strings.HasPrefix(command, "removeuser "):
		name := strings.TrimSpace(strings.TrimPrefix(command, "removeuser "))
		if name == "" {
			fmt.Fprintln(a.out, "username cannot be empty")
			break
		}
		a.removeUser(ctx, name)
		fmt.Fprintf(a.out, "removed user %s\n", name)

	case command == "":

	default:
		fmt.Fprintln(a.out, "unrecognized command")
	}
	return false
}

// removeUser drops an account's stored files and enqueues the metadata
// removal; file rows cascade with the user row.
func (a *AdminConsole) removeUser(ctx context.Context, username string) {
	a.writer.Enqueue(RemoveUserJob(username))
	if err := a.blobs.RemoveNamespace(ctx, username); err != nil && !errors.Is(err, blob.ErrNotFound) {
		a.logger.Error("removing user files failed", "user", username, "error", err)
	}
}
