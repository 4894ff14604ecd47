package files

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotRegular is returned for directories and other non-regular files.
var ErrNotRegular = errors.New("not a regular file")

// FileInfo holds information about a file to be sent
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Type is the MIME type of the file (e.g., "application/pdf", "text/plain")
	Type string
}

// ValidateFile checks that path names a readable regular file and
// describes it.
func ValidateFile(path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}

	if !stat.Mode().IsRegular() {
		return FileInfo{}, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	defer file.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: DetectMIME(absPath, file),
	}, nil
}

// DetectMIME guesses a MIME type from the extension, falling back to
// sniffing the first 512 bytes of r.
func DetectMIME(name string, r io.Reader) string {
	if mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); mimeType != "" {
		return mimeType
	}

	if r != nil {
		head := make([]byte, 512)
		n, _ := io.ReadFull(r, head)
		if n > 0 {
			return http.DetectContentType(head[:n])
		}
	}

	// Default to binary if unknown
	return "application/octet-stream"
}
