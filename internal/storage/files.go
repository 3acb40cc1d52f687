package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/WendelHime/btpeer/internal/shared/models"
)

type filePosition struct {
	file  *os.File
	begin int64
	end   int64
}

// Files maps the torrent byte range onto the files of a multi file torrent,
// in metainfo order. Like File, each file only grows with written pieces.
type Files struct {
	positions []filePosition
	length    int64
}

// CreateFiles creates every file under dir, including empty ones.
func CreateFiles(dir string, files []models.File) (*Files, error) {
	s := &Files{}
	for _, file := range files {
		path, err := localPath(dir, file.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			s.Close()
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.positions = append(s.positions, filePosition{
			file:  f,
			begin: s.length,
			end:   s.length + int64(file.Length),
		})
		s.length += int64(file.Length)
	}
	return s, nil
}

// WritePiece splits data over every file it overlaps.
func (s *Files) WritePiece(index int, offset int64, data []byte) error {
	if err := checkRange(offset, len(data), s.length); err != nil {
		return err
	}
	end := offset + int64(len(data))
	for _, pos := range s.positions {
		if pos.end <= offset || pos.begin >= end {
			continue
		}
		from := max(offset, pos.begin)
		to := min(end, pos.end)
		if _, err := pos.file.WriteAt(data[from-offset:to-offset], from-pos.begin); err != nil {
			return fmt.Errorf("piece %d: %w", index, err)
		}
	}
	return nil
}

func (s *Files) Close() error {
	errs := make([]error, 0, len(s.positions))
	for _, pos := range s.positions {
		errs = append(errs, pos.file.Close())
	}
	return errors.Join(errs...)
}

// localPath keeps the file inside dir.
func localPath(dir string, path []string) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	rel := filepath.Join(path...)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(dir, rel), nil
}
