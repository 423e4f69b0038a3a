package persist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Backups keeps zstd-compressed copies of save files before they are
// overwritten, named <base>-<timestamp>-<generation>.sav.zst.
type Backups struct {
	Dir  string
	Keep int // per save file; 0 keeps everything
	log  *zap.Logger
}

func NewBackups(dir string, keep int, log *zap.Logger) *Backups {
	return &Backups{Dir: dir, Keep: keep, log: log}
}

// Archive compresses src into the backup dir. A missing src is not an
// error: there is nothing to back up on the first save.
func (b *Backups) Archive(src string, gen uuid.UUID, at time.Time) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer in.Close()

	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(src), ".sav")
	dst := filepath.Join(b.Dir, fmt.Sprintf("%s-%s-%s.sav.zst", base, at.UTC().Format("20060102T150405.000000000"), gen))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(enc, bufio.NewReader(in)); err != nil {
		enc.Close()
		return "", fmt.Errorf("compress %s: %w", src, err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	if err := b.prune(base); err != nil {
		b.log.Warn("prune backups failed", zap.String("base", base), zap.Error(err))
	}
	return dst, nil
}

// List returns the backups of base, oldest first.
func (b *Backups) List(base string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(b.Dir, base+"-*.sav.zst"))
	if err != nil {
		return nil, err
	}
	// the timestamp follows the base name, so lexical order is age order
	sort.Strings(matches)
	return matches, nil
}

func (b *Backups) prune(base string) error {
	if b.Keep <= 0 {
		return nil
	}
	all, err := b.List(base)
	if err != nil {
		return err
	}
	for len(all) > b.Keep {
		if err := os.Remove(all[0]); err != nil {
			return err
		}
		b.log.Debug("removed old backup", zap.String("file", all[0]))
		all = all[1:]
	}
	return nil
}
