package controllers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/utils"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidFilename = errors.New("invalid filename")
	ErrInvalidLocation = errors.New("invalid location")
	ErrFileNotFound    = errors.New("file not found")
)

// FileInfo describes one file in the working or completed directory
type FileInfo struct {
	Name      string          `json:"name"`
	Size      int64           `json:"size"`
	SizeHuman string          `json:"size_human"`
	Modified  time.Time       `json:"modified"`
	Location  models.Location `json:"location"`
}

// FileController lists, serves and deletes downloaded files
type FileController struct {
	dirs   map[models.Location]string
	logger *logrus.Logger
}

// NewFileController creates a new file controller
func NewFileController(cfg *config.Config, logger *logrus.Logger) *FileController {
	return &FileController{
		dirs: map[models.Location]string{
			models.LocationWorking:   cfg.DownloadDir,
			models.LocationCompleted: cfg.CompletedDir,
		},
		logger: logger,
	}
}

// ValidateFilename rejects anything that could escape the download directories.
// It never touches the filesystem.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidFilename)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: parent directory segment", ErrInvalidFilename)
	case strings.HasPrefix(name, "/"), strings.HasPrefix(name, `\`), filepath.IsAbs(name):
		return fmt.Errorf("%w: absolute path", ErrInvalidFilename)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: path separator", ErrInvalidFilename)
	}
	return nil
}

func (c *FileController) dir(location models.Location) (string, error) {
	if location == "" {
		location = models.LocationWorking
	}
	dir, ok := c.dirs[location]
	if !ok || !location.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	return dir, nil
}

// Resolve validates the request and returns the absolute path of an existing file
func (c *FileController) Resolve(location models.Location, filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	dir, err := c.dir(location)
	if err != nil {
		return "", err
	}

	full := filepath.Join(dir, filename)
	rel, err := filepath.Rel(dir, full)
	if err != nil || rel != filename {
		return "", fmt.Errorf("%w: outside download directory", ErrInvalidFilename)
	}

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	return full, nil
}

// Delete removes one file from the given location
func (c *FileController) Delete(location models.Location, filename string) error {
	full, err := c.Resolve(location, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}

	c.logger.WithFields(logrus.Fields{
		"filename": filename,
		"location": location,
	}).Info("Deleted file")
	return nil
}

// List returns the regular files of a location sorted by name. A missing
// directory is reported as empty.
func (c *FileController) List(location models.Location) ([]FileInfo, error) {
	if location == "" {
		location = models.LocationWorking
	}
	dir, err := c.dir(location)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []FileInfo{}, nil
	}
	if err != nil {
		c.logger.WithError(err).WithField("dir", dir).Error("Could not read download directory")
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:      entry.Name(),
			Size:      info.Size(),
			SizeHuman: utils.FormatSize(float64(info.Size())),
			Modified:  info.ModTime(),
			Location:  location,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
