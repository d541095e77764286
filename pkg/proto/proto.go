// Package proto defines the newline-delimited wire protocol spoken between
// the filetier client, the dispatcher, and the storage tiers.
//
// Every command is a single ASCII line terminated by '\n'. Commands that
// carry a payload (uploadf, STORE) declare its byte count in the command
// line and send exactly that many raw bytes immediately after. Responses
// are either a status line ("SUCCESS: ..." / "ERROR: ...") or a decimal
// size line followed by exactly that many raw bytes.
package proto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Client-facing command verbs.
const (
	CmdUpload    = "uploadf"
	CmdDownload  = "downlf"
	CmdRemove    = "removef"
	CmdDownTar   = "downltar"
	CmdListNames = "dispfnames"
)

// Dispatcher-to-tier command verbs.
const (
	VerbStore = "STORE"
	VerbGet   = "GET"
	VerbDel   = "DEL"
	VerbTar   = "TAR"
	VerbList  = "LIST"
)

// NoFiles is the distinct response for an entirely empty listing. It is
// deliberately not a size line so clients can tell it apart from framing.
const NoFiles = "No files found"

// MaxLineLen bounds the length of a single command or status line.
const MaxLineLen = 1024

// ErrLineTooLong is returned when a peer sends a command line longer than
// MaxLineLen without a newline.
var ErrLineTooLong = errors.New("proto: line exceeds maximum length")

// ReadLine reads one '\n'-terminated line, stripping the terminator and any
// trailing '\r'. io.EOF is returned unchanged when the connection closes
// cleanly before any byte of a new line arrives.
func ReadLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == '\n' {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
		if sb.Len() >= MaxLineLen {
			return "", ErrLineTooLong
		}
		sb.WriteByte(b)
	}
}

// WriteLine writes a single line with its terminator.
func WriteLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\n")
	return err
}

// Successf writes a "SUCCESS: ..." status line.
func Successf(w io.Writer, format string, args ...any) error {
	return WriteLine(w, "SUCCESS: "+fmt.Sprintf(format, args...))
}

// Errorf writes an "ERROR: ..." status line.
func Errorf(w io.Writer, format string, args ...any) error {
	return WriteLine(w, "ERROR: "+fmt.Sprintf(format, args...))
}

// IsError reports whether a response line is an error status. Size lines
// always begin with a digit, so checking the prefix is unambiguous.
func IsError(line string) bool {
	return strings.HasPrefix(line, "ERROR")
}

// IsSuccess reports whether a response line is a success status.
func IsSuccess(line string) bool {
	return strings.HasPrefix(line, "SUCCESS")
}

// Cut splits a command line into its verb and the remainder. The remainder
// has surrounding whitespace trimmed, matching how path arguments may carry
// leading spaces on the wire.
func Cut(line string) (verb, rest string) {
	verb, rest, _ = strings.Cut(line, " ")
	return verb, strings.TrimSpace(rest)
}

// WriteSizeLine writes the decimal size header that precedes a raw payload.
func WriteSizeLine(w io.Writer, n int64) error {
	return WriteLine(w, strconv.FormatInt(n, 10))
}

// ReadSizeLine reads a response line and parses it as a payload size. If the
// line is not a size (an error status from the peer), the raw line is
// returned with ok=false so relays can pass it through verbatim.
func ReadSizeLine(br *bufio.Reader) (n int64, line string, ok bool, err error) {
	line, err = ReadLine(br)
	if err != nil {
		return 0, "", false, err
	}
	n, perr := strconv.ParseInt(line, 10, 64)
	if perr != nil || n < 0 {
		return 0, line, false, nil
	}
	return n, line, true, nil
}

// ParseSize parses a declared payload size from a command argument.
func ParseSize(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("proto: invalid size %q", s)
	}
	return n, nil
}

// Drain reads and discards exactly n bytes. It is used to consume an
// in-flight payload after a command has already failed, so the connection
// stays usable for the next command.
func Drain(r io.Reader, n int64) error {
	_, err := io.CopyN(io.Discard, r, n)
	return err
}

// CountingReader counts bytes read through it. Handlers wrap the connection
// reader with one so that, when a transfer fails mid-payload, the unread
// remainder of the declared byte count can be drained to keep framing.
type CountingReader struct {
	R io.Reader
	N int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}

// DrainRest discards whatever remains of a declared payload of total bytes.
func (c *CountingReader) DrainRest(total int64) error {
	if c.N >= total {
		return nil
	}
	return Drain(c.R, total-c.N)
}
