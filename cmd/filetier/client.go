package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/filetier/filetier/internal/routing"
	"github.com/filetier/filetier/pkg/proto"
)

var clientAlias string

func newClientCmd() *cobra.Command {
	clientCmd := &cobra.Command{
		Use:   "client [server-addr]",
		Short: "Interactive client for a filetier dispatcher",
		Long: `Connect to a dispatcher and issue commands interactively.

Commands:
  uploadf <filename> <destination_path>
  downlf <file_path>
  removef <file_path>
  downltar <filetype>
  dispfnames <directory_path>
  quit

Paths are virtual and start with the dispatcher's alias, e.g.
"root/docs" or "~root/docs". Downloads save into the current
directory.

Example:
  filetier client localhost:9001`,
		Args: cobra.MaximumNArgs(1),
		RunE: runClient,
	}
	clientCmd.Flags().StringVar(&clientAlias, "alias", "root", "virtual namespace alias the dispatcher uses")
	return clientCmd
}

// session is one interactive connection to a dispatcher.
type session struct {
	conn  net.Conn
	br    *bufio.Reader
	alias string
	out   io.Writer
	errw  io.Writer
}

func runClient(cmd *cobra.Command, args []string) error {
	addr := "localhost:9001"
	if len(args) > 0 {
		addr = args[0]
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	fmt.Printf("Connected to dispatcher at %s\n", addr)

	s := &session{
		conn:  conn,
		br:    bufio.NewReader(conn),
		alias: clientAlias,
		out:   os.Stdout,
		errw:  os.Stderr,
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("filetier> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			break
		}

		if err := s.dispatch(input); err != nil {
			if isConnErr(err) {
				fmt.Fprintln(s.errw, "Connection closed by server")
				return nil
			}
			fmt.Fprintln(s.errw, err)
		}
	}

	fmt.Println("Client disconnected.")
	return nil
}

// connError marks failures of the server connection itself, as opposed to
// a rejected command. The command loop ends on these.
type connError struct{ err error }

func (e *connError) Error() string { return e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

func isConnErr(err error) bool {
	_, ok := err.(*connError)
	return ok
}

func (s *session) dispatch(input string) error {
	verb, rest := proto.Cut(input)
	switch verb {
	case proto.CmdUpload:
		return s.upload(rest)
	case proto.CmdDownload:
		return s.download(rest)
	case proto.CmdRemove:
		return s.remove(rest)
	case proto.CmdDownTar:
		return s.downloadTar(rest)
	case proto.CmdListNames:
		return s.listNames(rest)
	default:
		return fmt.Errorf("unknown command: %s\nCommands: uploadf, downlf, removef, downltar, dispfnames, quit", verb)
	}
}

// validVirtualPath checks the path starts with the alias segment, with or
// without the leading tilde.
func (s *session) validVirtualPath(p string) bool {
	seg, _, _ := strings.Cut(p, "/")
	return seg == s.alias || seg == "~"+s.alias
}

func supportedExtension(name string) bool {
	_, err := routing.ClassForFile(name)
	return err == nil
}

func (s *session) upload(rest string) error {
	filename, destPath, ok := strings.Cut(rest, " ")
	destPath = strings.TrimSpace(destPath)
	if !ok || filename == "" || destPath == "" {
		return fmt.Errorf("usage: uploadf <filename> <destination_path>")
	}
	if !supportedExtension(filename) {
		return fmt.Errorf("uploadf supports only .c, .pdf, .txt, .zip files")
	}
	if !s.validVirtualPath(destPath) {
		return fmt.Errorf("destination_path must begin with %s", s.alias)
	}

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("open %s: %w", filename, err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := fmt.Sprintf("%s %s %s %d", proto.CmdUpload, path.Base(filename), destPath, info.Size())
	if err := proto.WriteLine(s.conn, header); err != nil {
		return &connError{err}
	}
	if _, err := io.CopyN(s.conn, f, info.Size()); err != nil {
		return &connError{err}
	}

	resp, err := proto.ReadLine(s.br)
	if err != nil {
		return &connError{err}
	}
	fmt.Fprintln(s.out, resp)
	return nil
}

func (s *session) download(rest string) error {
	p := strings.TrimSpace(rest)
	if p == "" {
		return fmt.Errorf("usage: downlf <file_path>")
	}
	if !supportedExtension(p) {
		return fmt.Errorf("unsupported file type for downlf")
	}
	if !s.validVirtualPath(p) {
		return fmt.Errorf("file path must begin with %s", s.alias)
	}

	if err := proto.WriteLine(s.conn, proto.CmdDownload+" "+p); err != nil {
		return &connError{err}
	}
	return s.savePayload(path.Base(p), "File %s downloaded (%d bytes)\n")
}

func (s *session) remove(rest string) error {
	p := strings.TrimSpace(rest)
	if p == "" {
		return fmt.Errorf("usage: removef <file_path>")
	}
	if !supportedExtension(p) {
		return fmt.Errorf("unsupported file type for removef")
	}
	if !s.validVirtualPath(p) {
		return fmt.Errorf("file path must begin with %s", s.alias)
	}

	if err := proto.WriteLine(s.conn, proto.CmdRemove+" "+p); err != nil {
		return &connError{err}
	}
	resp, err := proto.ReadLine(s.br)
	if err != nil {
		return &connError{err}
	}
	fmt.Fprintln(s.out, resp)
	return nil
}

func (s *session) downloadTar(rest string) error {
	filetype := strings.TrimSpace(rest)
	if filetype == "" {
		return fmt.Errorf("usage: downltar <filetype>")
	}
	class, err := routing.ParseClass(filetype)
	if err != nil || class == routing.ClassArchive {
		return fmt.Errorf("filetype must be .c, .pdf, or .txt")
	}
	if !strings.HasPrefix(filetype, ".") {
		filetype = "." + filetype
	}

	if err := proto.WriteLine(s.conn, proto.CmdDownTar+" "+filetype); err != nil {
		return &connError{err}
	}
	return s.savePayload(class.String()+".tar", "Tar file saved as %s (%d bytes)\n")
}

// savePayload reads a size-framed payload into a file named name in the
// current directory. Error lines from the server print as-is. format takes
// the file name and byte count.
func (s *session) savePayload(name, format string) error {
	size, line, ok, err := proto.ReadSizeLine(s.br)
	if err != nil {
		return &connError{err}
	}
	if !ok {
		fmt.Fprintln(s.out, line)
		return nil
	}

	f, err := os.Create(name)
	if err != nil {
		// Keep the connection in sync even when the local write fails.
		if _, derr := io.CopyN(io.Discard, s.br, size); derr != nil {
			return &connError{derr}
		}
		return fmt.Errorf("create %s: %w", name, err)
	}
	_, copyErr := io.CopyN(f, s.br, size)
	closeErr := f.Close()
	if copyErr != nil {
		return &connError{copyErr}
	}
	if closeErr != nil {
		return closeErr
	}

	fmt.Fprintf(s.out, format, name, size)
	return nil
}

func (s *session) listNames(rest string) error {
	p := strings.TrimSpace(rest)
	if p == "" {
		return fmt.Errorf("usage: dispfnames <directory_path>")
	}
	if supportedExtension(p) {
		return fmt.Errorf("dispfnames expects a directory, not a file")
	}
	if !s.validVirtualPath(p) {
		return fmt.Errorf("directory path must begin with %s", s.alias)
	}

	if err := proto.WriteLine(s.conn, proto.CmdListNames+" "+p); err != nil {
		return &connError{err}
	}

	size, line, ok, err := proto.ReadSizeLine(s.br)
	if err != nil {
		return &connError{err}
	}
	if !ok {
		// "No files found" or an error line.
		fmt.Fprintln(s.out, line)
		return nil
	}
	if size == 0 {
		fmt.Fprintln(s.out, proto.NoFiles)
		return nil
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(s.br, payload); err != nil {
		return &connError{err}
	}
	fmt.Fprint(s.out, string(payload))
	return nil
}
