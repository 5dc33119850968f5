package artifacts

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type tarEntry struct {
	name     string
	body     string
	mode     int64
	typeflag byte
	linkname string
}

// createTestTarXz builds an xz-compressed tar owned by the current user.
func createTestTarXz(t *testing.T, entries []tarEntry) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)

	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		mode := e.mode
		if mode == 0 {
			mode = 0644
		}
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     mode,
			Typeflag: typeflag,
			Linkname: e.linkname,
			Uid:      os.Getuid(),
			Gid:      os.Getgid(),
		}
		if typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
	return &buf
}

func TestExtractTarXz(t *testing.T) {
	archive := createTestTarXz(t, []tarEntry{
		{name: "etc/", typeflag: tar.TypeDir, mode: 0750},
		{name: "etc/openvpn/config/server.conf", body: "port 443\n"},
		{name: "usr/bin/run", body: "#!/bin/sh\n", mode: 0755},
		{name: "etc/localtime", typeflag: tar.TypeSymlink, linkname: "/usr/share/zoneinfo/UTC"},
		{name: "usr/bin/run2", typeflag: tar.TypeLink, linkname: "usr/bin/run"},
	})

	dest := t.TempDir()
	n, err := ExtractTarXz(archive, dest, ExtractOptions{MaxBytes: 1 << 20, PreserveOwner: true})
	require.NoError(t, err)
	assert.Equal(t, int64(len("port 443\n")+len("#!/bin/sh\n")), n)

	data, err := os.ReadFile(filepath.Join(dest, "etc/openvpn/config/server.conf"))
	require.NoError(t, err)
	assert.Equal(t, "port 443\n", string(data))

	st, err := os.Stat(filepath.Join(dest, "usr/bin/run"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), st.Mode().Perm())

	st, err = os.Stat(filepath.Join(dest, "etc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0750), st.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dest, "etc/localtime"))
	require.NoError(t, err)
	assert.Equal(t, "/usr/share/zoneinfo/UTC", link)

	_, err = os.Stat(filepath.Join(dest, "usr/bin/run2"))
	require.NoError(t, err)
}

func TestExtractTarXzRejects(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
		max     int64
		wantErr error
	}{
		{
			name:    "parent traversal",
			entries: []tarEntry{{name: "../escape.txt", body: "x"}},
			max:     1024,
			wantErr: ErrInvalidArchivePath,
		},
		{
			name:    "absolute path",
			entries: []tarEntry{{name: "/etc/passwd", body: "x"}},
			max:     1024,
			wantErr: ErrInvalidArchivePath,
		},
		{
			name:    "relative symlink escape",
			entries: []tarEntry{{name: "link", typeflag: tar.TypeSymlink, linkname: "../../outside"}},
			max:     1024,
			wantErr: ErrInvalidArchivePath,
		},
		{
			name:    "size cap",
			entries: []tarEntry{{name: "big", body: string(bytes.Repeat([]byte("x"), 1000))}},
			max:     500,
			wantErr: ErrArchiveTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := createTestTarXz(t, tt.entries)
			_, err := ExtractTarXz(archive, t.TempDir(), ExtractOptions{MaxBytes: tt.max})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExtractTarXzNotXz(t *testing.T) {
	_, err := ExtractTarXz(bytes.NewReader([]byte("plain text")), t.TempDir(), ExtractOptions{MaxBytes: 1024})
	require.Error(t, err)
}
