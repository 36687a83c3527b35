package rpctransport

import (
	"bufio"
	"crypto/tls"
	"net"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// Client is a minimal synchronous client for the frame protocol, used by
// integration tests to exercise a running Server end to end.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial opens a connection, optionally over TLS when tlsCfg is non-nil.
func Dial(addr string, tlsCfg *tls.Config) (*Client, error) {
	var conn net.Conn
	var err error
	if tlsCfg != nil {
		conn, err = tls.Dial("tcp", addr, tlsCfg)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDefault, "dialing rpc server")
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Call encodes req, sends it under method, and decodes the reply's payload
// into resp. A non-nil error reconstructs the server's apperr.Error kind.
func (c *Client) Call(method string, req, resp any) error {
	payload, err := gobEncode(req)
	if err != nil {
		return err
	}
	if err := writeFrame(c.conn, Envelope{Method: method, Payload: payload}); err != nil {
		return err
	}
	reply, err := readFrame[Reply](c.reader)
	if err != nil {
		return err
	}
	if reply.ErrKind != "" {
		return (&apperr.Error{Kind: apperr.Kind(reply.ErrKind), Message: reply.ErrMessage}).WithIdentifier(reply.ErrIdentifier)
	}
	if resp == nil {
		return nil
	}
	return gobDecode(reply.Payload, resp)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
