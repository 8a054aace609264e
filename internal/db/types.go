package db

import "time"

// FileVersion is one stored version of an uploaded file.
type FileVersion struct {
	Name      string
	Number    int
	Content   []byte
	Checksum  uint64 // xxhash64 of Content
	CreatedAt time.Time
}
