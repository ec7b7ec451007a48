package snapshot

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/channelaccess/snapshot/internal/app/codec"
	"github.com/channelaccess/snapshot/internal/domain"
)

const (
	// FileExt is the extension used for generated save files.
	FileExt = ".snap"

	latestSuffix    = "_latest"
	timestampLayout = "20060102_150405"
	fileMode        = 0o644
)

// WriteFileAtomic writes through a temporary file in the target directory
// and renames it into place, so readers see either the old file or the
// complete new one.
func WriteFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = write(w); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Chmod(tmpName, fileMode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// ReadFile decodes the save file at path.
func ReadFile(path string) (*domain.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snap, err := codec.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// ReplaceMetadata rewrites the header line of an existing save file. The
// PV lines are copied byte for byte.
func ReplaceMetadata(path string, update func(*domain.Metadata)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	first, rest, _ := bytes.Cut(data, []byte("\n"))
	meta, err := codec.DecodeHeader(string(first))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	update(&meta)

	header, err := codec.EncodeHeader(meta)
	if err != nil {
		return err
	}

	return WriteFileAtomic(path, func(w io.Writer) error {
		if _, err := io.WriteString(w, header+"\n"); err != nil {
			return err
		}
		_, err := w.Write(rest)
		return err
	})
}

// ResolveOutput turns a directory target into a timestamped file name
// derived from the request file, and returns the "latest" link to
// maintain next to it. Plain file targets are returned unchanged.
func ResolveOutput(target, reqFile string, at time.Time) (path, link string, err error) {
	info, err := os.Stat(target)
	switch {
	case err == nil && info.IsDir():
	case err == nil || os.IsNotExist(err):
		return target, "", nil
	default:
		return "", "", err
	}

	base := "snapshot"
	if reqFile != "" {
		base = strings.TrimSuffix(filepath.Base(reqFile), filepath.Ext(reqFile))
	}
	path = filepath.Join(target, base+"_"+at.Format(timestampLayout)+FileExt)
	link = filepath.Join(target, base+latestSuffix+FileExt)
	return path, link, nil
}

// ReplaceSymlink points link at target, replacing any existing link
// atomically. Targets in the same directory are linked by base name.
func ReplaceSymlink(target, link string) error {
	dest := target
	if filepath.Dir(target) == filepath.Dir(link) {
		dest = filepath.Base(target)
	}

	tmp := link + ".tmp-" + uuid.NewString()
	if err := os.Symlink(dest, tmp); err != nil {
		return fmt.Errorf("symlink %s: %w", link, err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("symlink %s: %w", link, err)
	}
	return nil
}
