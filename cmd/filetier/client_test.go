package main

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filetier/filetier/internal/dispatch"
	"github.com/filetier/filetier/testutil"
)

func startDispatcher(t *testing.T) string {
	t.Helper()
	tiers := testutil.StartTiers(t)
	root := filepath.Join(t.TempDir(), "source")
	srv := dispatch.New(dispatch.Config{Listen: "127.0.0.1:0", Root: root, Alias: "root"}, tiers.Table)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv.Addr()
}

func newSession(t *testing.T, addr string) (*session, *bytes.Buffer) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	out := &bytes.Buffer{}
	return &session{
		conn:  conn,
		br:    bufio.NewReader(conn),
		alias: "root",
		out:   out,
		errw:  out,
	}, out
}

func TestSessionValidation(t *testing.T) {
	// Validation happens before any network use.
	s := &session{alias: "root"}

	assert.Error(t, s.dispatch("uploadf"))
	assert.Error(t, s.dispatch("uploadf image.png root/docs"))
	assert.Error(t, s.dispatch("uploadf notes.txt elsewhere/docs"))
	assert.Error(t, s.dispatch("downlf root/docs/image.png"))
	assert.Error(t, s.dispatch("removef elsewhere/a.txt"))
	assert.Error(t, s.dispatch("downltar .zip"))
	assert.Error(t, s.dispatch("downltar .exe"))
	assert.Error(t, s.dispatch("dispfnames root/docs/notes.txt"))
	assert.Error(t, s.dispatch("frobnicate things"))
}

func TestSessionValidVirtualPath(t *testing.T) {
	s := &session{alias: "root"}

	assert.True(t, s.validVirtualPath("root/docs"))
	assert.True(t, s.validVirtualPath("~root/docs"))
	assert.True(t, s.validVirtualPath("root"))
	assert.False(t, s.validVirtualPath("rootless/docs"))
	assert.False(t, s.validVirtualPath("/root/docs"))
}

func TestSessionEndToEnd(t *testing.T) {
	addr := startDispatcher(t)
	s, out := newSession(t, addr)
	t.Chdir(t.TempDir())

	require.NoError(t, os.WriteFile("notes.txt", []byte("hello"), 0o644))

	require.NoError(t, s.dispatch("uploadf notes.txt root/docs"))
	assert.Contains(t, out.String(), "SUCCESS: File uploaded")
	out.Reset()

	require.NoError(t, s.dispatch("dispfnames root/docs"))
	assert.Contains(t, out.String(), "notes.txt")
	out.Reset()

	// Download saves the file into the current directory.
	require.NoError(t, os.Remove("notes.txt"))
	require.NoError(t, s.dispatch("downlf root/docs/notes.txt"))
	assert.Contains(t, out.String(), "File notes.txt downloaded (5 bytes)")
	saved, err := os.ReadFile("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(saved))
	out.Reset()

	require.NoError(t, s.dispatch("downltar .txt"))
	assert.Contains(t, out.String(), "Tar file saved as text.tar")
	_, err = os.Stat("text.tar")
	require.NoError(t, err)
	out.Reset()

	require.NoError(t, s.dispatch("removef root/docs/notes.txt"))
	assert.Contains(t, out.String(), "SUCCESS: File removed")
	out.Reset()

	require.NoError(t, s.dispatch("dispfnames root/docs"))
	assert.Contains(t, out.String(), "No files found")
}
