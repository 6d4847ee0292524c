package protocol

import "regexp"

// usernamePattern is the account name charset: lowercase alphanumeric,
// length enforced separately (1 to 16).
var usernamePattern = regexp.MustCompile(`^[a-z0-9]+$`)

const maxNameLength = 16

// ValidUsername reports whether name is an acceptable account name.
func ValidUsername(name string) bool {
	return name != "" && len(name) <= maxNameLength && usernamePattern.MatchString(name)
}

// Validate runs the structural and semantic checks for a request message:
// known type, required field set, charset and length rules, numeric bounds.
// It returns the request kind and an empty reason when valid, or a
// human-readable reason when not.
func Validate(m Message) (RequestKind, string) {
	requestType, ok := m.String(FieldType)
	if !ok {
		return KindUnknown, "Missing request type"
	}

	kind := KindOf(requestType)
	switch kind {
	case KindLogin, KindSignup:
		if !m.Has(FieldUsername, FieldPasswordHash) {
			return kind, "Invalid keys"
		}
		username, _ := m.String(FieldUsername)
		if !ValidUsername(username) {
			return kind, "Invalid username"
		}
		if hash, _ := m.String(FieldPasswordHash); hash == "" {
			return kind, "Invalid password hash"
		}
		return kind, ""

	case KindLogout:
		return kind, ""

	case KindUploadRequest:
		fileData, ok := m.Map(FieldFileData)
		if !ok {
			return kind, "Invalid file data"
		}
		if !fileData.Has(FieldFileName, FieldFileSizeBytes, FieldIsPublic) {
			return kind, "Invalid file data"
		}
		name, _ := fileData.String(FieldFileName)
		if name == "" {
			return kind, "Invalid file name"
		}
		size, ok := fileData.Int64(FieldFileSizeBytes)
		if !ok || size < 0 {
			return kind, "Invalid file size"
		}
		if _, ok := fileData.Bool(FieldIsPublic); !ok {
			return kind, "Invalid file data"
		}
		return kind, ""

	case KindDownloadRequest:
		if !m.Has(FieldFileName, FieldUsername) {
			return kind, "Invalid keys"
		}
		return kind, ""

	case KindPublicityChange, KindDeleteFile:
		if !m.Has(FieldFileName) {
			return kind, "Invalid keys"
		}
		return kind, ""

	case KindSearchUsers:
		searchKey, ok := m.String(FieldSearchKey)
		if !ok {
			return kind, "Invalid keys"
		}
		if searchKey == "" || len(searchKey) > maxNameLength {
			return kind, "Invalid search key"
		}
		return kind, ""

	case KindGetUserFiles:
		if !m.Has(FieldUsername) {
			return kind, "Invalid keys"
		}
		return kind, ""

	case KindUnknown:
		return KindUnknown, "Invalid request type"
	}

	return KindUnknown, "Invalid request type"
}
