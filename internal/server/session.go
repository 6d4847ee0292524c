package server

import (
	"errors"
	"net"
	"sort"
	"sync"

	"github.com/tomerIQ713/File-Transfer/internal/encryption"
)

// ErrAlreadyLoggedIn indicates a username is bound to another live session.
var ErrAlreadyLoggedIn = errors.New("user is logged in elsewhere")

// Session is one connection's state after a completed handshake: the
// transport, the negotiated cipher, and (once authenticated) a username.
// The username is owned by the Registry; handlers read it through
// Registry methods.
type Session struct {
	ID         string
	RemoteAddr string
	Conn       net.Conn
	Cipher     *encryption.SessionCipher
}

// Registry tracks live sessions and the username each one has
// authenticated as. Sessions are touched from the accept loop, from
// connection goroutines, and from the admin console concurrently, so
// every map access goes through the mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	users    map[string]*Session
	names    map[*Session]string
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[*Session]struct{}),
		users:    make(map[string]*Session),
		names:    make(map[*Session]string),
	}
}

// Register admits a session after its handshake completes.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

// Unregister removes a session and releases its username binding.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.names[s]; ok {
		delete(r.users, name)
		delete(r.names, s)
	}
	delete(r.sessions, s)
}

// Bind authenticates a session as username. Returns ErrAlreadyLoggedIn
// when another live session already holds the name.
func (r *Registry) Bind(s *Session, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.users[username]; ok && other != s {
		return ErrAlreadyLoggedIn
	}
	if prev, ok := r.names[s]; ok {
		delete(r.users, prev)
	}
	r.users[username] = s
	r.names[s] = username
	return nil
}

// Unbind clears a session's username, reporting whether one was bound.
// The session itself stays registered: logout keeps the connection and
// its cipher alive.
func (r *Registry) Unbind(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[s]
	if !ok {
		return false
	}
	delete(r.users, name)
	delete(r.names, s)
	return true
}

// Username returns the name a session authenticated as, if any.
func (r *Registry) Username(s *Session) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[s]
	return name, ok
}

// Sessions returns all live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// LoggedIn returns the authenticated usernames in sorted order.
func (r *Registry) LoggedIn() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
