package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/zsprackett/filerelay/internal/applog"
	"github.com/zsprackett/filerelay/internal/events"
	"github.com/zsprackett/filerelay/internal/protocol"
	"github.com/zsprackett/filerelay/internal/session"
	"github.com/zsprackett/filerelay/internal/versions"
)

// dispatcher is the command loop of one connection. It is the only reader
// of conn.
type dispatcher struct {
	srv    *Server
	conn   FrameConn
	sess   *session.Session
	logger *slog.Logger
	once   sync.Once
}

func newDispatcher(srv *Server, conn FrameConn, sess *session.Session) *dispatcher {
	return &dispatcher{
		srv:    srv,
		conn:   conn,
		sess:   sess,
		logger: applog.WithSession(srv.logger, sess.Name, sess.ID, conn.RemoteAddr()),
	}
}

func (d *dispatcher) run() {
	defer d.cleanup()
	for {
		frame, err := d.conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				d.logger.Debug("relay: read failed", "err", err)
			}
			return
		}
		d.handle(protocol.Parse(frame))
	}
}

// cleanup runs once however the loop ends.
func (d *dispatcher) cleanup() {
	d.once.Do(func() {
		d.conn.Close()
		d.srv.registry.Unregister(d.sess)
		d.srv.registry.Broadcast(protocol.Left(d.sess.Name), nil)
		d.srv.publish(events.Event{Type: events.TypeLeft, Name: d.sess.Name})
		d.logger.Info("relay: disconnected")
	})
}

func (d *dispatcher) handle(cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.KindFileUpload:
		d.upload(cmd.File, cmd.Content)
	case protocol.KindRequestVersions:
		d.listVersions(cmd.File)
	case protocol.KindRequestFile:
		d.fetch(cmd)
	case protocol.KindPrivate:
		d.private(cmd.Recipient, cmd.Text)
	default:
		d.chat(cmd.Text)
	}
}

func (d *dispatcher) chat(text string) {
	d.srv.registry.Broadcast(protocol.Chat(d.sess.Name, text), d.sess)
	d.logger.Info("relay: chat", "text", text)
}

func (d *dispatcher) upload(file string, content []byte) {
	v, err := d.srv.store.Append(file, content)
	if err != nil {
		d.logger.Error("relay: upload failed", "file", file, "err", err)
		d.reply(protocol.Errorf("Could not save %s.", file))
		return
	}
	d.srv.registry.Broadcast(protocol.Uploaded(d.sess.Name, file, v.Number), d.sess)
	d.srv.registry.Broadcast(protocol.FileUpdate{File: file, Content: content}, d.sess)
	d.srv.publish(events.Event{
		Type:    events.TypeUploaded,
		Name:    d.sess.Name,
		File:    file,
		Version: v.Number,
		Size:    v.Size,
		Time:    v.CreatedAt,
	})
	d.logger.Info("relay: file updated",
		"file", file,
		"version", v.Number,
		"size", humanize.Bytes(uint64(v.Size)),
	)
}

func (d *dispatcher) listVersions(file string) {
	list := d.srv.store.List(file)
	ids := make([]string, len(list))
	for i, v := range list {
		ids[i] = protocol.VersionID(file, v.Number)
	}
	d.reply(protocol.VersionList{File: file, IDs: ids})
}

func (d *dispatcher) fetch(cmd protocol.Command) {
	if cmd.BadVersion {
		d.reply(protocol.Errorf("Invalid version number."))
		return
	}
	v, err := d.srv.store.Fetch(cmd.File, cmd.Version)
	if errors.Is(err, versions.ErrNotFound) {
		d.reply(protocol.Errorf("Version %d of %s not found.", cmd.Version, cmd.File))
		return
	}
	if err != nil {
		d.logger.Error("relay: fetch failed", "file", cmd.File, "version", cmd.Version, "err", err)
		d.reply(protocol.Errorf("Could not read %s.", cmd.File))
		return
	}
	d.reply(protocol.FileUpdate{File: v.File, Content: v.Content})
}

func (d *dispatcher) private(recipient, text string) {
	to, err := d.srv.registry.FindByName(recipient)
	if err == nil {
		err = d.srv.registry.Unicast(protocol.Private{Sender: d.sess.Name, Text: text}, to)
	}
	if err != nil {
		d.reply(protocol.Errorf("User %s not found.", recipient))
		return
	}
	d.logger.Debug("relay: private message", "to", recipient)
}

// reply unicasts to this connection. A failed send removes the session and
// closes conn, which ends the read loop.
func (d *dispatcher) reply(e protocol.Event) {
	if err := d.srv.registry.Unicast(e, d.sess); err != nil {
		d.logger.Debug("relay: reply failed", "err", err)
	}
}
