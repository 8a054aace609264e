package relay

import (
	"net"
	"time"

	"github.com/zsprackett/filerelay/internal/session"
)

// FrameConn is a client connection that yields one protocol frame per read.
type FrameConn interface {
	session.Conn
	ReadFrame() ([]byte, error)
}

// tcpConn frames a stream socket the way the wire protocol defines it: one
// successful Read is one frame. The first read, which carries the display
// name, uses a smaller buffer.
type tcpConn struct {
	conn         net.Conn
	buf          []byte
	handshake    int
	writeTimeout time.Duration
}

func newTCPConn(conn net.Conn, readSize, handshakeSize int, writeTimeout time.Duration) *tcpConn {
	if readSize <= 0 {
		readSize = DefaultReadBufferSize
	}
	if handshakeSize <= 0 || handshakeSize > readSize {
		handshakeSize = readSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &tcpConn{
		conn:         conn,
		buf:          make([]byte, readSize),
		handshake:    handshakeSize,
		writeTimeout: writeTimeout,
	}
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	size := len(c.buf)
	if c.handshake > 0 {
		size = c.handshake
		c.handshake = 0
	}
	for {
		n, err := c.conn.Read(c.buf[:size])
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, c.buf[:n])
			return frame, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_, err := c.conn.Write(frame)
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
