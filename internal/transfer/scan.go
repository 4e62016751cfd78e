// Package transfer implements the resumable, hash-verified file
// transfer engine: scanning a download path into a drop-box-filtered
// file list, negotiating a resume offset against a client-reported
// partial hash, and tracking in-flight transfer sessions.
package transfer

import (
	"os"
	"path/filepath"

	"nexus/server/internal/pathresolve"
)

// FileInfo is one file queued for transfer.
type FileInfo struct {
	RelativePath string
	AbsolutePath string
	Size         uint64
}

// ScanForDownload resolves resolvedPath (already validated and
// canonicalized by pathresolve.ResolvePath) into the list of files a
// download request should stream. A single file resolves to itself;
// a directory is walked recursively, relative paths are reported
// without the directory's own name as prefix (matching the client's
// already-known local_path), and any entry the requester cannot read
// per drop-box rules is silently skipped rather than erroring the
// whole transfer.
func ScanForDownload(areaRoot, resolvedPath, username string, isAdmin bool) ([]FileInfo, error) {
	info, err := os.Stat(resolvedPath)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		name := filepath.Base(resolvedPath)
		return []FileInfo{{
			RelativePath: name,
			AbsolutePath: resolvedPath,
			Size:         uint64(info.Size()),
		}}, nil
	}

	var files []FileInfo
	if err := scanDir(areaRoot, resolvedPath, "", username, isAdmin, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func scanDir(areaRoot, dir, prefix, username string, isAdmin bool, out *[]FileInfo) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		info, err := os.Stat(path) // follows symlinks, unlike entry.Info()
		if err != nil {
			continue
		}

		if !pathresolve.CanAccessForDownload(areaRoot, path, username, isAdmin) {
			continue
		}

		relative := entry.Name()
		if prefix != "" {
			relative = prefix + "/" + entry.Name()
		}

		switch {
		case info.IsDir():
			if err := scanDir(areaRoot, path, relative, username, isAdmin, out); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			*out = append(*out, FileInfo{
				RelativePath: relative,
				AbsolutePath: path,
				Size:         uint64(info.Size()),
			})
		}
	}
	return nil
}

// TotalSize sums every file's size using saturating addition so a
// pathological file list cannot overflow the reported total.
func TotalSize(files []FileInfo) uint64 {
	var total uint64
	for _, f := range files {
		next := total + f.Size
		if next < total { // overflow
			return ^uint64(0)
		}
		total = next
	}
	return total
}
