package file

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mensylisir/xmbench/common"
)

// PathExists reports whether path exists. Errors other than "not exist" are returned.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// CreateDir creates a directory and all its parents if they don't exist.
func CreateDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("path %s exists but is not a directory", path)
	}
	if os.IsNotExist(err) {
		return os.MkdirAll(path, common.FileMode0755)
	}
	return fmt.Errorf("failed to check directory %s: %w", path, err)
}

// CreateFileDir creates the parent directory of filePath.
func CreateFileDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "." || dir == "" {
		return nil
	}
	return CreateDir(dir)
}

// WriteFile writes content to a file, creating parent directories if necessary.
func WriteFile(filePath string, content []byte) error {
	if err := CreateFileDir(filePath); err != nil {
		return fmt.Errorf("failed to create directory for file %s: %w", filePath, err)
	}
	if err := os.WriteFile(filePath, content, common.FileMode0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", filePath, err)
	}
	return nil
}

// WriteFileAtomic writes content to a temporary sibling and renames it over
// filePath, so readers see either the old or the new content.
func WriteFileAtomic(filePath string, content []byte) error {
	if err := CreateFileDir(filePath); err != nil {
		return fmt.Errorf("failed to create directory for file %s: %w", filePath, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(filePath), "."+filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", filePath, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, common.FileMode0644); err != nil {
		return fmt.Errorf("failed to chmod temp file %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filePath, err)
	}
	return nil
}

// CopyFile copies src to dst, keeping the source permissions.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file %s: %w", src, err)
	}
	if err := CreateFileDir(dst); err != nil {
		return fmt.Errorf("failed to create directory for destination file %s: %w", dst, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy data from %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// TailLines returns at most the last n lines of the file.
func TailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = append(ring[1:], scanner.Text())
		} else {
			ring = append(ring, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ring, nil
}

// Entry describes a file found by ListNewest.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"-"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"created"`
}

// ListNewest returns up to limit files in dir matching pattern, newest first.
// A missing directory yields an empty list.
func ListNewest(dir, pattern string, limit int) ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: info.Name(), Path: m, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Name > entries[j].Name
		}
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ResultFile is one file inside a result directory. Path is relative to the
// results root.
type ResultFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ResultDir is a top-level directory of the results root and every file
// beneath it.
type ResultDir struct {
	Name    string       `json:"name"`
	Created time.Time    `json:"created"`
	Files   []ResultFile `json:"files"`
}

// ListResults walks each subdirectory of root, newest first. Plain files at
// the top level are ignored and a missing root yields an empty list.
func ListResults(root string) ([]ResultDir, error) {
	top, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return []ResultDir{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}
	dirs := make([]ResultDir, 0, len(top))
	for _, e := range top {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		d := ResultDir{Name: e.Name(), Created: info.ModTime(), Files: []ResultFile{}}
		err = filepath.WalkDir(filepath.Join(root, e.Name()), func(p string, de os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if de.IsDir() {
				return nil
			}
			fi, err := de.Info()
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			d.Files = append(d.Files, ResultFile{Name: de.Name(), Path: filepath.ToSlash(rel), Size: fi.Size()})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", d.Name, err)
		}
		sort.Slice(d.Files, func(i, j int) bool { return d.Files[i].Path < d.Files[j].Path })
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].Created.Equal(dirs[j].Created) {
			return dirs[i].Name > dirs[j].Name
		}
		return dirs[i].Created.After(dirs[j].Created)
	})
	return dirs, nil
}
