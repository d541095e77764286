package backend

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/filetier/filetier/internal/routing"
	"github.com/filetier/filetier/pkg/proto"
)

// DialTimeout bounds connection establishment to a tier. Established
// connections carry no I/O deadline: a request runs to completion or until
// the connection fails.
const DialTimeout = 10 * time.Second

// RemoteError is an error status line received from a tier, preserved
// verbatim so the dispatcher can relay it to the client unchanged.
type RemoteError struct {
	Line string
}

func (e *RemoteError) Error() string { return e.Line }

// Client is the dispatcher's outbound half of the tier protocol. Every
// request opens its own TCP connection, issues one command, reads the
// response, and closes; there is no pooling.
type Client struct {
	addr string
}

// NewClient creates a client for the tier at addr.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to tier %s: %w", c.addr, err)
	}
	return conn, nil
}

// Store uploads exactly size bytes from r to the tier-relative path.
func (c *Client) Store(rel string, size int64, r io.Reader) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := proto.WriteLine(conn, fmt.Sprintf("%s %s %d", proto.VerbStore, rel, size)); err != nil {
		return fmt.Errorf("send STORE command: %w", err)
	}
	if _, err := io.CopyN(conn, r, size); err != nil {
		return fmt.Errorf("send STORE payload: %w", err)
	}
	ack, err := proto.ReadLine(bufio.NewReader(conn))
	if err != nil {
		return fmt.Errorf("read STORE response: %w", err)
	}
	if !proto.IsSuccess(ack) {
		return &RemoteError{Line: ack}
	}
	return nil
}

// Get fetches a file. The returned reader yields exactly size bytes and
// closes the underlying connection. A tier-side error status comes back as
// a *RemoteError.
func (c *Client) Get(rel string) (io.ReadCloser, int64, error) {
	return c.fetch(proto.VerbGet + " " + rel)
}

// Tar requests the tier's namespace-wide archive for the given class.
func (c *Client) Tar(class routing.Class) (io.ReadCloser, int64, error) {
	return c.fetch(proto.VerbTar + " " + class.Ext())
}

func (c *Client) fetch(command string) (io.ReadCloser, int64, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, 0, err
	}
	if err := proto.WriteLine(conn, command); err != nil {
		_ = conn.Close()
		return nil, 0, fmt.Errorf("send command: %w", err)
	}
	br := bufio.NewReader(conn)
	size, line, ok, err := proto.ReadSizeLine(br)
	if err != nil {
		_ = conn.Close()
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, 0, &RemoteError{Line: line}
	}
	return &payloadReader{Reader: io.LimitReader(br, size), conn: conn}, size, nil
}

// Del removes the file at the tier-relative path.
func (c *Client) Del(rel string) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := proto.WriteLine(conn, proto.VerbDel+" "+rel); err != nil {
		return fmt.Errorf("send DEL command: %w", err)
	}
	ack, err := proto.ReadLine(bufio.NewReader(conn))
	if err != nil {
		return fmt.Errorf("read DEL response: %w", err)
	}
	if !proto.IsSuccess(ack) {
		return &RemoteError{Line: ack}
	}
	return nil
}

// List returns the file names the tier reports for a tier-relative
// directory, "." for the tier root. An unreachable tier is an error; an
// empty or missing directory is an empty list.
func (c *Client) List(dir string) ([]string, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if dir == "" {
		dir = "."
	}
	if err := proto.WriteLine(conn, proto.VerbList+" "+dir); err != nil {
		return nil, fmt.Errorf("send LIST command: %w", err)
	}
	br := bufio.NewReader(conn)
	size, line, ok, err := proto.ReadSizeLine(br)
	if err != nil {
		return nil, fmt.Errorf("read LIST response: %w", err)
	}
	if !ok {
		return nil, &RemoteError{Line: line}
	}
	if size == 0 {
		return nil, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, fmt.Errorf("read LIST payload: %w", err)
	}
	var names []string
	for _, name := range strings.Split(string(payload), "\n") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// payloadReader closes the request connection when the caller is done with
// the size-delimited payload.
type payloadReader struct {
	io.Reader
	conn net.Conn
}

func (p *payloadReader) Close() error { return p.conn.Close() }
