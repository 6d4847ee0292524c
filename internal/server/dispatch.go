package server

import (
	"context"
	"errors"

	"github.com/tomerIQ713/File-Transfer/internal/blob"
	"github.com/tomerIQ713/File-Transfer/internal/database"
	"github.com/tomerIQ713/File-Transfer/internal/model"
	"github.com/tomerIQ713/File-Transfer/internal/protocol"
)

// ReadStore is the query half of the metadata database. Handlers check
// preconditions here before enqueueing mutations; reads issued right
// after an enqueue may observe the pre-write state.
type ReadStore interface {
	GetUser(username string) (*model.User, error)
	GetFile(name, uploader string) (*model.File, error)
	GetAllMatchingUsers(searchKey string, excludeSubstring bool) ([]string, error)
	GetAllUserFiles(uploader string, excludePrivate bool) ([]model.File, error)
	CountPublicFiles(uploader string) (int64, error)
}

// UserSearchResult is one search_users hit. An ordered list keeps the
// prefix-before-substring ranking that a name-keyed object would lose.
type UserSearchResult struct {
	Username    string `json:"username"`
	PublicFiles int64  `json:"public-files"`
}

// Transfer is a bulk exchange a handler hands the connection off to.
// The connection goroutine runs it after writing the handler's
// response, so a connection is never concurrently inside dispatch and
// a transfer. A non-nil error means the transport is broken and the
// connection must be torn down.
type Transfer func(ctx context.Context) error

// Dispatcher routes validated request messages to their handlers.
type Dispatcher struct {
	reads    ReadStore
	writer   *WriteSerializer
	blobs    blob.Store
	sessions *Registry
	clock    Clock
	logger   Logger

	maxUploadBytes int64
}

// NewDispatcher wires a dispatcher over its collaborators.
func NewDispatcher(reads ReadStore, writer *WriteSerializer, blobs blob.Store, sessions *Registry, clock Clock, logger Logger, maxUploadBytes int64) *Dispatcher {
	return &Dispatcher{
		reads:          reads,
		writer:         writer,
		blobs:          blobs,
		sessions:       sessions,
		clock:          clock,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Dispatch validates one request and invokes its handler. It returns
// the response to send and, for accepted uploads and downloads, the
// transfer to run once the response is on the wire. Unknown or
// unvalidatable requests yield an invalid_package response and no side
// effect.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, m protocol.Message) (protocol.Message, Transfer) {
	kind, reason := protocol.Validate(m)
	if kind == protocol.KindUnknown {
		return protocol.Invalid(reason), nil
	}
	if reason != "" {
		return protocol.Invalid(reason), nil
	}

	switch kind {
	case protocol.KindLogin:
		return d.handleLogin(sess, m), nil
	case protocol.KindSignup:
		return d.handleSignup(ctx, sess, m), nil
	case protocol.KindLogout:
		return d.handleLogout(sess), nil
	case protocol.KindUploadRequest:
		return d.handleUploadRequest(sess, m)
	case protocol.KindDownloadRequest:
		return d.handleDownloadRequest(sess, m)
	case protocol.KindPublicityChange:
		return d.handlePublicityChange(sess, m), nil
	case protocol.KindDeleteFile:
		return d.handleDeleteFile(ctx, sess, m), nil
	case protocol.KindSearchUsers:
		return d.handleSearchUsers(sess, m), nil
	case protocol.KindGetUserFiles:
		return d.handleGetUserFiles(m), nil
	}
	return protocol.Invalid("Invalid request type"), nil
}

func (d *Dispatcher) handleLogin(sess *Session, m protocol.Message) protocol.Message {
	username, _ := m.String(protocol.FieldUsername)
	passwordHash, _ := m.String(protocol.FieldPasswordHash)

	user, err := d.reads.GetUser(username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return protocol.Response("login_response", false, "User doesn't exist")
		}
		return d.serverError(protocol.KindLogin, err)
	}
	if passwordHash != user.PasswordHash {
		return protocol.Response("login_response", false, "Incorrect password")
	}
	if err := d.sessions.Bind(sess, username); err != nil {
		return protocol.Response("login_response", false, "User is logged-in from another location")
	}

	files, err := d.reads.GetAllUserFiles(username, false)
	if err != nil {
		return d.serverError(protocol.KindLogin, err)
	}
	return protocol.Response("login_response", true, files)
}

func (d *Dispatcher) handleSignup(ctx context.Context, sess *Session, m protocol.Message) protocol.Message {
	username, _ := m.String(protocol.FieldUsername)
	passwordHash, _ := m.String(protocol.FieldPasswordHash)

	if _, err := d.reads.GetUser(username); err == nil {
		return protocol.Response("signup_response", false, "Username taken")
	} else if !errors.Is(err, database.ErrNotFound) {
		return d.serverError(protocol.KindSignup, err)
	}

	// The storage namespace doubles as the uniqueness check against
	// signups racing ahead of the write queue.
	if err := d.blobs.CreateNamespace(ctx, username); err != nil {
		if errors.Is(err, blob.ErrExists) {
			return protocol.Response("signup_response", false, "Username taken")
		}
		return d.serverError(protocol.KindSignup, err)
	}

	d.writer.Enqueue(AddUserJob(username, passwordHash))
	if err := d.sessions.Bind(sess, username); err != nil {
		return protocol.Response("signup_response", false, "Username taken")
	}
	return protocol.Response("signup_response", true, nil)
}

func (d *Dispatcher) handleLogout(sess *Session) protocol.Message {
	if !d.sessions.Unbind(sess) {
		return protocol.Response("logout_response", false, "User was not connected")
	}
	return protocol.Response("logout_response", true, nil)
}

func (d *Dispatcher) handleUploadRequest(sess *Session, m protocol.Message) (protocol.Message, Transfer) {
	username, ok := d.sessions.Username(sess)
	if !ok {
		return protocol.Response("upload_request_response", false, "User not logged in"), nil
	}

	fileData, _ := m.Map(protocol.FieldFileData)
	fileName, _ := fileData.String(protocol.FieldFileName)
	sizeBytes, _ := fileData.Int64(protocol.FieldFileSizeBytes)
	isPublic, _ := fileData.Bool(protocol.FieldIsPublic)

	if _, err := d.reads.GetFile(fileName, username); err == nil {
		return protocol.Response("upload_request_response", false, "File already exists"), nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return d.serverError(protocol.KindUploadRequest, err), nil
	}
	if sizeBytes > d.maxUploadBytes {
		return protocol.Response("upload_request_response", false, "File too large"), nil
	}

	transfer := d.uploadTransfer(sess, username, fileName, sizeBytes, isPublic)
	return protocol.Response("upload_request_response", true, nil), transfer
}

func (d *Dispatcher) handleDownloadRequest(sess *Session, m protocol.Message) (protocol.Message, Transfer) {
	requester, ok := d.sessions.Username(sess)
	if !ok {
		return protocol.Response("download_request_response", false, "User not logged in"), nil
	}

	fileName, _ := m.String(protocol.FieldFileName)
	uploader, _ := m.String(protocol.FieldUsername)

	file, err := d.reads.GetFile(fileName, uploader)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return protocol.Response("download_request_response", false, "File doesn't exist"), nil
		}
		return d.serverError(protocol.KindDownloadRequest, err), nil
	}
	if uploader != requester && !file.IsPublic {
		return protocol.Response("download_request_response", false, "No access to file"), nil
	}

	return protocol.Response("download_request_response", true, nil), d.downloadTransfer(sess, file)
}

func (d *Dispatcher) handlePublicityChange(sess *Session, m protocol.Message) protocol.Message {
	username, ok := d.sessions.Username(sess)
	if !ok {
		return protocol.Response("file_publicity_change_response", false, "User not logged in")
	}

	fileName, _ := m.String(protocol.FieldFileName)
	if _, err := d.reads.GetFile(fileName, username); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return protocol.Response("file_publicity_change_response", false, "File doesn't exist")
		}
		return d.serverError(protocol.KindPublicityChange, err)
	}

	d.writer.Enqueue(ChangePublicityJob(fileName, username))
	return protocol.Response("file_publicity_change_response", true, nil)
}

func (d *Dispatcher) handleDeleteFile(ctx context.Context, sess *Session, m protocol.Message) protocol.Message {
	username, ok := d.sessions.Username(sess)
	if !ok {
		return protocol.Response("file_deletion_response", false, "User not logged in")
	}

	fileName, _ := m.String(protocol.FieldFileName)
	if _, err := d.reads.GetFile(fileName, username); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return protocol.Response("file_deletion_response", false, "File doesn't exist")
		}
		return d.serverError(protocol.KindDeleteFile, err)
	}

	if err := d.blobs.Delete(ctx, username, fileName); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return d.serverError(protocol.KindDeleteFile, err)
	}
	d.writer.Enqueue(DeleteFileJob(fileName, username))
	return protocol.Response("file_deletion_response", true, nil)
}

func (d *Dispatcher) handleSearchUsers(sess *Session, m protocol.Message) protocol.Message {
	requester, ok := d.sessions.Username(sess)
	if !ok {
		return protocol.Response("users_found", false, "User not logged in")
	}

	searchKey, _ := m.String(protocol.FieldSearchKey)
	matches, err := d.reads.GetAllMatchingUsers(searchKey, false)
	if err != nil {
		return d.serverError(protocol.KindSearchUsers, err)
	}

	// Map each match (requester excluded) to its public-file count,
	// preserving the prefix-then-substring order.
	users := []UserSearchResult{}
	for _, name := range matches {
		if name == requester {
			continue
		}
		count, err := d.reads.CountPublicFiles(name)
		if err != nil {
			return d.serverError(protocol.KindSearchUsers, err)
		}
		users = append(users, UserSearchResult{Username: name, PublicFiles: count})
	}
	return protocol.Response("users_found", true, users)
}

func (d *Dispatcher) handleGetUserFiles(m protocol.Message) protocol.Message {
	username, _ := m.String(protocol.FieldUsername)
	files, err := d.reads.GetAllUserFiles(username, true)
	if err != nil {
		return d.serverError(protocol.KindGetUserFiles, err)
	}

	public := make([]model.PublicFile, 0, len(files))
	for _, f := range files {
		public = append(public, f.Public())
	}
	return protocol.Response("user_files", true, public)
}

func (d *Dispatcher) serverError(kind protocol.RequestKind, err error) protocol.Message {
	d.logger.Error("handler failed", "request", kind.ResponseType(), "error", err)
	return protocol.Response(kind.ResponseType(), false, "Server error")
}
