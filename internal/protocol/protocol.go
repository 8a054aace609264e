// Package protocol implements the relay's text wire format.
//
// Every frame is UTF-8 text. Tagged frames join their fields with "::";
// anything that does not match a known command shape is a chat line.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Delimiter separates fields in tagged frames.
const Delimiter = "::"

const (
	tagFileUpload      = "FILE_UPLOAD"
	tagRequestVersions = "REQUEST_VERSIONS"
	tagRequestFile     = "REQUEST_FILE"
	tagFileUpdate      = "FILE_UPDATE"
	tagVersions        = "VERSIONS"
	tagError           = "ERROR"
	privatePrefix      = "/msg "
)

// ErrEmptyFrame is returned by ParseName for a blank handshake frame.
var ErrEmptyFrame = errors.New("empty frame")

// Kind identifies a decoded client command.
type Kind int

const (
	KindChat Kind = iota
	KindFileUpload
	KindRequestVersions
	KindRequestFile
	KindPrivate
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindFileUpload:
		return "file_upload"
	case KindRequestVersions:
		return "request_versions"
	case KindRequestFile:
		return "request_file"
	case KindPrivate:
		return "private"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is one decoded client frame. Only the fields relevant to Kind are set.
type Command struct {
	Kind      Kind
	Text      string // chat and private message body
	File      string
	Content   []byte
	Version   int
	Recipient string
	// BadVersion is set for a REQUEST_FILE whose version field is not a
	// plain decimal number.
	BadVersion bool
}

// Parse decodes a single client frame. It never fails: frames that do not
// match a command shape are returned as chat.
func Parse(frame []byte) Command {
	s := string(frame)
	chat := Command{Kind: KindChat, Text: s}

	switch {
	case strings.HasPrefix(s, tagFileUpload+Delimiter):
		parts := strings.SplitN(s, Delimiter, 3)
		if len(parts) != 3 {
			return chat
		}
		return Command{Kind: KindFileUpload, File: parts[1], Content: []byte(parts[2])}

	case strings.HasPrefix(s, tagRequestVersions+Delimiter):
		parts := strings.Split(s, Delimiter)
		if len(parts) != 2 {
			return chat
		}
		return Command{Kind: KindRequestVersions, File: parts[1]}

	case strings.HasPrefix(s, tagRequestFile+Delimiter):
		parts := strings.Split(s, Delimiter)
		if len(parts) != 3 {
			return chat
		}
		n, err := parseNumber(parts[2])
		if err != nil {
			return Command{Kind: KindRequestFile, File: parts[1], BadVersion: true}
		}
		return Command{Kind: KindRequestFile, File: parts[1], Version: n}

	case strings.HasPrefix(s, privatePrefix):
		parts := strings.SplitN(s, " ", 3)
		if len(parts) < 3 || parts[1] == "" {
			return chat
		}
		return Command{Kind: KindPrivate, Recipient: parts[1], Text: parts[2]}
	}
	return chat
}

// parseNumber accepts only ASCII digits. strconv.Atoi alone would also let
// a sign through.
func parseNumber(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

// ParseName decodes the handshake frame carrying the display name.
func ParseName(frame []byte) (string, error) {
	name := strings.TrimRight(string(frame), "\r\n")
	if strings.TrimSpace(name) == "" {
		return "", ErrEmptyFrame
	}
	return name, nil
}

// VersionID returns the identifier listed for version n of file.
func VersionID(file string, n int) string {
	return file + "_v" + strconv.Itoa(n)
}

// ParseVersionID extracts the version number from an identifier produced by VersionID.
func ParseVersionID(id string) (string, int, error) {
	i := strings.LastIndex(id, "_v")
	if i < 0 {
		return "", 0, fmt.Errorf("version id %q: missing _v suffix", id)
	}
	n, err := parseNumber(id[i+2:])
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("version id %q: bad number", id)
	}
	return id[:i], n, nil
}

// FileUpload encodes a client upload frame.
func FileUpload(file string, content []byte) []byte {
	return []byte(tagFileUpload + Delimiter + file + Delimiter + string(content))
}

// RequestVersions encodes a client version-list request.
func RequestVersions(file string) []byte {
	return []byte(tagRequestVersions + Delimiter + file)
}

// RequestFile encodes a client request for version n of file.
func RequestFile(file string, n int) []byte {
	return []byte(tagRequestFile + Delimiter + file + Delimiter + strconv.Itoa(n))
}

// PrivateMessage encodes a client private message.
func PrivateMessage(recipient, text string) []byte {
	return []byte(privatePrefix + recipient + " " + text)
}
