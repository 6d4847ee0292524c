package protocol

// Message type discriminants used on the wire. Requests flow client to
// server; responses always carry "type", "accepted" and "response".
const (
	TypeLogin           = "login"
	TypeSignup          = "signup"
	TypeLogout          = "logout"
	TypeUploadRequest   = "upload_request"
	TypeDownloadRequest = "download_request"
	TypePublicityChange = "file_publicity_change"
	TypeDeleteFile      = "delete_file"
	TypeSearchUsers     = "search_users"
	TypeGetUserFiles    = "get_user_files"

	TypeHeaderPackage  = "header_package"
	TypeInvalidPackage = "invalid_package"

	TypeUploadStart   = "upload_start"
	TypeUploadFinal   = "upload_final"
	TypeDownloadStart = "download_start"
	TypeDownloadFinal = "download_final"
)

// Wire field names. The hyphenated style is part of the client protocol.
const (
	FieldType          = "type"
	FieldAccepted      = "accepted"
	FieldResponse      = "response"
	FieldSizeOfPackage = "size-of-package"
	FieldEncryptedSize = "encrypted-size"
	FieldUsername      = "username"
	FieldPasswordHash  = "password-hash"
	FieldFileName      = "file-name"
	FieldFileData      = "file-data"
	FieldFileSizeBytes = "file-size-bytes"
	FieldIsPublic      = "is-public"
	FieldSearchKey     = "search-key"
	FieldReceived      = "received"
)

// Message is one structured unit exchanged over the wire: a JSON object
// with a "type" discriminant and free-form fields per type.
type Message map[string]any

// Type returns the message's type discriminant, or "" when absent.
func (m Message) Type() string {
	s, _ := m.String(FieldType)
	return s
}

// String returns the named field as a string.
func (m Message) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int64 returns the named field as an int64. JSON numbers decode as
// float64; both forms are accepted.
func (m Message) Int64(key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// Bool returns the named field as a bool.
func (m Message) Bool(key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Map returns the named field as a nested Message.
func (m Message) Map(key string) (Message, bool) {
	switch v := m[key].(type) {
	case Message:
		return v, true
	case map[string]any:
		return Message(v), true
	default:
		return nil, false
	}
}

// Has reports whether every named field is present.
func (m Message) Has(keys ...string) bool {
	for _, key := range keys {
		if _, ok := m[key]; !ok {
			return false
		}
	}
	return true
}

// Response builds a standard response message.
func Response(responseType string, accepted bool, response any) Message {
	return Message{
		FieldType:     responseType,
		FieldAccepted: accepted,
		FieldResponse: response,
	}
}

// Invalid builds the response to a message the server could not handle
// at all: undecryptable, malformed, or of unknown type.
func Invalid(reason string) Message {
	return Message{
		FieldType:     TypeInvalidPackage,
		FieldResponse: reason,
	}
}

// RequestKind enumerates the request types the dispatcher understands,
// so routing is an exhaustive switch rather than a string-keyed table.
type RequestKind int

const (
	KindUnknown RequestKind = iota
	KindLogin
	KindSignup
	KindLogout
	KindUploadRequest
	KindDownloadRequest
	KindPublicityChange
	KindDeleteFile
	KindSearchUsers
	KindGetUserFiles
)

// KindOf maps a wire type string to its RequestKind.
func KindOf(requestType string) RequestKind {
	switch requestType {
	case TypeLogin:
		return KindLogin
	case TypeSignup:
		return KindSignup
	case TypeLogout:
		return KindLogout
	case TypeUploadRequest:
		return KindUploadRequest
	case TypeDownloadRequest:
		return KindDownloadRequest
	case TypePublicityChange:
		return KindPublicityChange
	case TypeDeleteFile:
		return KindDeleteFile
	case TypeSearchUsers:
		return KindSearchUsers
	case TypeGetUserFiles:
		return KindGetUserFiles
	default:
		return KindUnknown
	}
}

// ResponseType returns the response type paired with a request kind.
func (k RequestKind) ResponseType() string {
	switch k {
	case KindLogin:
		return "login_response"
	case KindSignup:
		return "signup_response"
	case KindLogout:
		return "logout_response"
	case KindUploadRequest:
		return "upload_request_response"
	case KindDownloadRequest:
		return "download_request_response"
	case KindPublicityChange:
		return "file_publicity_change_response"
	case KindDeleteFile:
		return "file_deletion_response"
	case KindSearchUsers:
		return "users_found"
	case KindGetUserFiles:
		return "user_files"
	default:
		return TypeInvalidPackage
	}
}
