package protocol

import (
	"fmt"
	"strings"
)

// Event is an outbound server frame.
type Event interface {
	Encode() []byte
}

// Notice is an untagged text line: chat, join/leave and upload notices.
type Notice string

func (n Notice) Encode() []byte { return []byte(n) }

// Chat returns the broadcast line for a chat message.
func Chat(sender, text string) Notice {
	return Notice(sender + ": " + text)
}

// Joined returns the announcement sent when name completes its handshake.
func Joined(name string) Notice {
	return Notice(name + " joined the chat.")
}

// Left returns the announcement sent when name disconnects.
func Left(name string) Notice {
	return Notice(name + " left the chat.")
}

// Uploaded returns the notice sent to peers after an upload.
func Uploaded(sender, file string, version int) Notice {
	return Notice(fmt.Sprintf("%s uploaded %s (Version %d)", sender, file, version))
}

// Private is a routed private message.
type Private struct {
	Sender string
	Text   string
}

func (p Private) Encode() []byte {
	return []byte("[Private] " + p.Sender + ": " + p.Text)
}

// FileUpdate carries file content to a client.
type FileUpdate struct {
	File    string
	Content []byte
}

func (f FileUpdate) Encode() []byte {
	return []byte(tagFileUpdate + Delimiter + f.File + Delimiter + string(f.Content))
}

// VersionList lists the identifiers known for File. An empty list encodes
// as "VERSIONS::<file>" with nothing after the name.
type VersionList struct {
	File string
	IDs  []string
}

func (v VersionList) Encode() []byte {
	var b strings.Builder
	b.WriteString(tagVersions)
	b.WriteString(Delimiter)
	b.WriteString(v.File)
	for _, id := range v.IDs {
		b.WriteString(Delimiter)
		b.WriteString(id)
	}
	return []byte(b.String())
}

// Error reports a failed request to the requesting client only.
type Error struct {
	Message string
}

func (e Error) Encode() []byte {
	return []byte(tagError + Delimiter + e.Message)
}

// Errorf builds an Error event.
func Errorf(format string, args ...any) Error {
	return Error{Message: fmt.Sprintf(format, args...)}
}

// ServerFrame is a decoded server frame, used by clients and tests.
type ServerFrame struct {
	Tag     string // FILE_UPDATE, VERSIONS, ERROR, or "" for plain text
	File    string
	Content []byte
	IDs     []string
	Text    string
}

// ParseServerFrame decodes a frame produced by one of the Event types.
func ParseServerFrame(frame []byte) ServerFrame {
	s := string(frame)
	switch {
	case strings.HasPrefix(s, tagFileUpdate+Delimiter):
		parts := strings.SplitN(s, Delimiter, 3)
		if len(parts) == 3 {
			return ServerFrame{Tag: tagFileUpdate, File: parts[1], Content: []byte(parts[2])}
		}
	case strings.HasPrefix(s, tagVersions+Delimiter):
		parts := strings.Split(s, Delimiter)
		return ServerFrame{Tag: tagVersions, File: parts[1], IDs: parts[2:]}
	case strings.HasPrefix(s, tagError+Delimiter):
		return ServerFrame{Tag: tagError, Text: strings.TrimPrefix(s, tagError+Delimiter)}
	}
	return ServerFrame{Text: s}
}
