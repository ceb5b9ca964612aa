package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/phuslu/log"

	"github.com/shehryarbajwa/webpage2pdf/internal/storage"
)

// ErrNothingToArchive means none of the requested files exist any more.
var ErrNothingToArchive = errors.New("no files available to download")

// Result describes a finished archive in managed storage.
type Result struct {
	Filename string
	Path     string
	Count    int
}

// Builder bundles stored documents into zip archives.
type Builder struct {
	store  *storage.Store
	reaper *storage.Reaper
	purge  time.Duration
	logger *log.Logger
	now    func() time.Time
}

// NewBuilder creates a builder whose archives are deleted purge after creation.
func NewBuilder(store *storage.Store, reaper *storage.Reaper, purge time.Duration, logger *log.Logger) *Builder {
	return &Builder{
		store:  store,
		reaper: reaper,
		purge:  purge,
		logger: logger,
		now:    time.Now,
	}
}

// Build zips the requested files that still exist. Missing or unsafe names
// are skipped. The archive is fully written before Build returns.
func (b *Builder) Build(ctx context.Context, filenames []string) (Result, error) {
	present := b.existing(filenames)
	if len(present) == 0 {
		return Result{}, ErrNothingToArchive
	}

	name := "webpage2pdf_batch_" + strconv.FormatInt(b.now().UnixNano(), 10) + ".zip"
	if err := b.write(ctx, name, present); err != nil {
		if rmErr := b.store.Remove(name); rmErr != nil {
			b.logger.Warn().Err(rmErr).Str("file", name).Msg("failed to remove partial archive")
		}
		return Result{}, err
	}

	path, err := b.store.Path(name)
	if err != nil {
		return Result{}, err
	}

	if b.reaper != nil && b.purge > 0 {
		b.reaper.Schedule("archive:"+name, b.purge, func() error {
			return b.store.Remove(name)
		})
	}

	b.logger.Info().Str("file", name).Int("count", len(present)).Msg("📦 archive created")
	return Result{Filename: name, Path: path, Count: len(present)}, nil
}

func (b *Builder) existing(filenames []string) []string {
	seen := make(map[string]bool, len(filenames))
	var present []string
	for _, f := range filenames {
		if seen[f] || !storage.ValidName(f) {
			continue
		}
		seen[f] = true
		if b.store.Exists(f) {
			present = append(present, f)
		}
	}
	return present
}

func (b *Builder) write(ctx context.Context, name string, files []string) error {
	out, err := b.store.Create(name)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(zw, b.store, f); err != nil {
			// A file purged since the existence check is skipped
			if errors.Is(err, storage.ErrNotFound) {
				b.logger.Debug().Str("file", f).Msg("file vanished while archiving")
				continue
			}
			return fmt.Errorf("add %s: %w", f, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	return out.Close()
}

func addFile(zw *zip.Writer, store *storage.Store, name string) error {
	src, err := store.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
