package model

// User is an account on the server. Usernames are unique, lowercase
// alphanumeric, at most 16 characters. The password hash is computed
// client-side; the server stores and compares it verbatim.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password-hash"`
}

// File is an uploaded file's metadata. Files are keyed by
// (Name, Uploader): two users may own files with the same name.
// The JSON tags are the wire field names of the client protocol.
type File struct {
	Name          string `json:"file-name"`
	Uploader      string `json:"uploader"`
	SizeBytes     int64  `json:"file-size-bytes"`
	UploadTime    int64  `json:"upload-time"` // unix seconds
	IsPublic      bool   `json:"is-public"`
	DownloadCount int64  `json:"download-count"`
}

// PublicFile is the listing entry served to users browsing someone
// else's files. Visibility and download-count are deliberately absent.
type PublicFile struct {
	Name       string `json:"file-name"`
	Uploader   string `json:"uploader"`
	SizeBytes  int64  `json:"file-size-bytes"`
	UploadTime int64  `json:"upload-time"`
}

// Public strips the owner-only fields from a File.
func (f File) Public() PublicFile {
	return PublicFile{
		Name:       f.Name,
		Uploader:   f.Uploader,
		SizeBytes:  f.SizeBytes,
		UploadTime: f.UploadTime,
	}
}
