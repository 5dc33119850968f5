package artifacts

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/ulikunitz/xz"
)

// ExtractOptions controls archive extraction.
type ExtractOptions struct {
	// MaxBytes caps the total size of regular file content.
	MaxBytes int64
	// PreserveOwner applies the numeric uid/gid recorded in each entry.
	// Container root filesystems need it; it requires root.
	PreserveOwner bool
}

// ExtractTarXz unpacks an xz-compressed tar stream into destDir and returns
// the number of content bytes written. Entry modes are kept exactly, without
// the process umask.
func ExtractTarXz(r io.Reader, destDir string, opts ExtractOptions) (int64, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("create dest dir: %w", err)
	}
	xzr, err := xz.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("xz reader: %w", err)
	}

	x := &extractor{root: filepath.Clean(destDir), opts: opts}
	tr := tar.NewReader(xzr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return x.written, fmt.Errorf("read tar header: %w", err)
		}
		if err := x.entry(hdr, tr); err != nil {
			return x.written, err
		}
	}

	// directory modes are applied last so read-only dirs can still be filled
	for i := len(x.dirs) - 1; i >= 0; i-- {
		d := x.dirs[i]
		if err := os.Chmod(d.path, d.mode); err != nil {
			return x.written, fmt.Errorf("chmod %s: %w", d.path, err)
		}
	}
	return x.written, nil
}

type dirMode struct {
	path string
	mode os.FileMode
}

type extractor struct {
	root    string
	opts    ExtractOptions
	written int64
	dirs    []dirMode
}

func (x *extractor) entry(hdr *tar.Header, r io.Reader) error {
	if err := checkEntryName(hdr.Name); err != nil {
		return err
	}
	target, err := securejoin.SecureJoin(x.root, hdr.Name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchivePath, err)
	}
	mode := hdr.FileInfo().Mode().Perm() | hdr.FileInfo().Mode()&(os.ModeSetuid|os.ModeSetgid|os.ModeSticky)

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", hdr.Name, err)
		}
		x.dirs = append(x.dirs, dirMode{path: target, mode: mode})

	case tar.TypeReg:
		if x.written+hdr.Size > x.opts.MaxBytes {
			return fmt.Errorf("%w: would exceed %d bytes", ErrArchiveTooLarge, x.opts.MaxBytes)
		}
		if err := x.writeFile(target, hdr.Name, r); err != nil {
			return err
		}

	case tar.TypeSymlink:
		if err := x.checkLink(target, hdr.Linkname); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create parent dir for symlink: %w", err)
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("create symlink %s: %w", hdr.Name, err)
		}

	case tar.TypeLink:
		linkTarget, err := securejoin.SecureJoin(x.root, hdr.Linkname)
		if err != nil {
			return fmt.Errorf("%w: hardlink target unsafe: %v", ErrInvalidArchivePath, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create parent dir for hardlink: %w", err)
		}
		if err := os.Link(linkTarget, target); err != nil {
			return fmt.Errorf("create hardlink %s: %w", hdr.Name, err)
		}
		return nil

	default:
		// devices and fifos are created by the container at boot
		return nil
	}

	if x.opts.PreserveOwner {
		if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
			return fmt.Errorf("chown %s: %w", hdr.Name, err)
		}
	}
	// chown clears setuid bits, so the mode goes on after it
	if hdr.Typeflag == tar.TypeReg {
		if err := os.Chmod(target, mode); err != nil {
			return fmt.Errorf("chmod %s: %w", hdr.Name, err)
		}
	}
	return nil
}

func (x *extractor) writeFile(target, name string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|syscall.O_NOFOLLOW, 0600)
	if err != nil {
		return fmt.Errorf("create file %s: %w", name, err)
	}
	defer f.Close()

	remaining := x.opts.MaxBytes - x.written
	n, err := io.Copy(f, io.LimitReader(r, remaining+1))
	x.written += n
	if err != nil {
		return fmt.Errorf("write file %s: %w", name, err)
	}
	if x.written > x.opts.MaxBytes {
		return fmt.Errorf("%w: exceeded %d bytes", ErrArchiveTooLarge, x.opts.MaxBytes)
	}
	return f.Close()
}

// checkLink rejects symlinks whose target resolves outside the root.
func (x *extractor) checkLink(target, linkname string) error {
	if filepath.IsAbs(linkname) {
		// absolute targets are resolved inside the container, not on the host
		return nil
	}
	cleaned := filepath.Clean(filepath.Join(filepath.Dir(target), linkname))
	if cleaned != x.root && !strings.HasPrefix(cleaned, x.root+string(filepath.Separator)) {
		return fmt.Errorf("%w: symlink %q escapes destination", ErrInvalidArchivePath, linkname)
	}
	return nil
}

func checkEntryName(name string) error {
	if filepath.IsAbs(name) {
		return fmt.Errorf("%w: absolute path %q", ErrInvalidArchivePath, name)
	}
	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: path traversal in %q", ErrInvalidArchivePath, name)
	}
	return nil
}
