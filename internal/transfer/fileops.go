package transfer

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"nexus/server/internal/handlers"
	"nexus/server/internal/pathresolve"
	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
)

// maxSearchResults bounds a FileSearch reply; a search that matches
// more than this many entries still succeeds, it just truncates.
const maxSearchResults = 500

// Func handles one decoded file operations control-plane request.
type Func func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any)

// Table maps a request Kind to the Func that answers it. It mirrors
// internal/dispatch.Table's shape but holds only the File* control-
// plane kinds (list, create-dir, delete, info, rename, move, copy,
// search, reindex); those answer over the requesting session's own
// mailbox like any other handler. FileDownload/FileUpload/
// FileStartResponse/FileHashingClient are not in here at all - they
// belong to the bulk transfer-connection protocol driven by Listener,
// not to a session mailbox.
type Table struct {
	routes map[protocol.Kind]Func
}

// New returns an empty table.
func New() *Table {
	return &Table{routes: make(map[protocol.Kind]Func)}
}

// Register binds kind to fn, overwriting any previous registration.
func (t *Table) Register(kind protocol.Kind, fn Func) {
	t.routes[kind] = fn
}

// Dispatch invokes the Func registered for kind, if any, and reports
// whether one was found.
func (t *Table) Dispatch(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, kind protocol.Kind, payload any) bool {
	fn, ok := t.routes[kind]
	if !ok {
		return false
	}
	fn(ctx, sess, msgID, payload)
	return true
}

// Default builds the file operations control-plane table.
func Default() *Table {
	t := New()

	t.Register(protocol.KindFileList, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		HandleFileList(ctx, sess, msgID, payload.(*protocol.FileList))
	})
	t.Register(protocol.KindFileCreateDir, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		HandleFileCreateDir(ctx, sess, msgID, payload.(*protocol.FileCreateDir))
	})
	t.Register(protocol.KindFileDelete, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		HandleFileDelete(ctx, sess, msgID, payload.(*protocol.FileDelete))
	})
	t.Register(protocol.KindFileInfo, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		HandleFileInfo(ctx, sess, msgID, payload.(*protocol.FileInfo))
	})
	t.Register(protocol.KindFileRename, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		HandleFileRename(ctx, sess, msgID, payload.(*protocol.FileRename))
	})
	t.Register(protocol.KindFileMove, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		HandleFileMove(ctx, sess, msgID, payload.(*protocol.FileMove))
	})
	t.Register(protocol.KindFileCopy, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		HandleFileCopy(ctx, sess, msgID, payload.(*protocol.FileCopy))
	})
	t.Register(protocol.KindFileSearch, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		HandleFileSearch(ctx, sess, msgID, payload.(*protocol.FileSearch))
	})
	t.Register(protocol.KindFileReindex, func(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, payload any) {
		HandleFileReindex(ctx, sess, msgID)
	})

	return t
}

func reply(ctx *handlers.Context, sess *session.Session, kind protocol.Kind, msgID uuid.UUID, payload any) {
	ctx.Sessions.SendToSession(sess.ID, session.Envelope{Kind: kind, MessageID: msgID, Payload: payload})
}

// areaBase resolves the directory a request should be rooted at: the
// requester's per-user area, or - with the file_root permission and
// the request's root flag set - the area's global root.
func areaBase(ctx *handlers.Context, sess *session.Session, root bool) (string, error) {
	if root {
		if !sess.HasPermission(permission.FileRoot) {
			return "", errPermissionDenied
		}
		return ctx.FileAreaRoot, nil
	}
	base := filepath.Join(ctx.FileAreaRoot, "users", sess.Account.Username)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return base, nil
}

var errPermissionDenied = errors.New("fileops: permission denied")

// errKind maps a path/filesystem error to the short code clients key
// error handling off of.
func errKind(err error) string {
	switch {
	case errors.Is(err, errPermissionDenied):
		return "permission_denied"
	case errors.Is(err, pathresolve.ErrInvalidPath):
		return "path_invalid"
	case errors.Is(err, pathresolve.ErrAccessDenied):
		return "path_access_denied"
	case errors.Is(err, pathresolve.ErrNotFound), os.IsNotExist(err):
		return "path_not_found"
	default:
		return "storage_error"
	}
}

func entryFor(name string, info os.FileInfo) protocol.FileEntry {
	return protocol.FileEntry{
		Name:    name,
		IsDir:   info.IsDir(),
		Size:    uint64(info.Size()),
		ModTime: info.ModTime().Unix(),
	}
}

// HandleFileList answers a FileList request by reading a single
// directory, filtering out entries the requester's drop-box access
// rules hide.
func HandleFileList(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, req *protocol.FileList) {
	if !sess.HasPermission(permission.FileList) {
		reply(ctx, sess, protocol.KindFileListResponse, msgID, &protocol.FileListResponse{Error: "permission_denied"})
		return
	}
	base, err := areaBase(ctx, sess, req.Root)
	if err != nil {
		reply(ctx, sess, protocol.KindFileListResponse, msgID, &protocol.FileListResponse{Error: errKind(err)})
		return
	}
	resolved, err := pathresolve.ResolvePath(base, req.Path)
	if err != nil {
		reply(ctx, sess, protocol.KindFileListResponse, msgID, &protocol.FileListResponse{Error: errKind(err)})
		return
	}
	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		reply(ctx, sess, protocol.KindFileListResponse, msgID, &protocol.FileListResponse{Error: errKind(err)})
		return
	}

	entries := make([]protocol.FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		childPath := filepath.Join(resolved, de.Name())
		if !pathresolve.CanAccessForDownload(base, childPath, sess.Account.Username, sess.Account.IsAdmin) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entryFor(de.Name(), info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	reply(ctx, sess, protocol.KindFileListResponse, msgID, &protocol.FileListResponse{
		Success: true,
		Path:    req.Path,
		Entries: entries,
	})
}

// HandleFileInfo answers a FileInfo request with a single entry's
// metadata.
func HandleFileInfo(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, req *protocol.FileInfo) {
	if !sess.HasPermission(permission.FileInfo) {
		reply(ctx, sess, protocol.KindFileInfoResponse, msgID, &protocol.FileInfoResponse{Error: "permission_denied"})
		return
	}
	base, err := areaBase(ctx, sess, req.Root)
	if err != nil {
		reply(ctx, sess, protocol.KindFileInfoResponse, msgID, &protocol.FileInfoResponse{Error: errKind(err)})
		return
	}
	resolved, err := pathresolve.ResolvePath(base, req.Path)
	if err != nil {
		reply(ctx, sess, protocol.KindFileInfoResponse, msgID, &protocol.FileInfoResponse{Error: errKind(err)})
		return
	}
	if !pathresolve.CanAccessForDownload(base, resolved, sess.Account.Username, sess.Account.IsAdmin) {
		reply(ctx, sess, protocol.KindFileInfoResponse, msgID, &protocol.FileInfoResponse{Error: "permission_denied"})
		return
	}
	info, err := os.Stat(resolved)
	if err != nil {
		reply(ctx, sess, protocol.KindFileInfoResponse, msgID, &protocol.FileInfoResponse{Error: errKind(err)})
		return
	}
	reply(ctx, sess, protocol.KindFileInfoResponse, msgID, &protocol.FileInfoResponse{
		Success: true,
		Entry:   entryFor(filepath.Base(resolved), info),
	})
}

// HandleFileCreateDir answers a FileCreateDir request.
func HandleFileCreateDir(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, req *protocol.FileCreateDir) {
	if !sess.HasPermission(permission.FileCreateDir) {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}
	base, err := areaBase(ctx, sess, req.Root)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	target, err := pathresolve.ResolveNewPath(base, req.Path)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	if _, err := os.Stat(target); err == nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "destination_exists", ErrorKind: "destination_exists"})
		return
	}
	if err := os.Mkdir(target, 0o755); err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Success: true})
}

// HandleFileDelete answers a FileDelete request.
func HandleFileDelete(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, req *protocol.FileDelete) {
	if !sess.HasPermission(permission.FileDelete) {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}
	base, err := areaBase(ctx, sess, req.Root)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	resolved, err := pathresolve.ResolvePath(base, req.Path)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	if resolved == filepath.Clean(base) {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "path_invalid", ErrorKind: "path_invalid"})
		return
	}
	if err := os.RemoveAll(resolved); err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Success: true})
}

// HandleFileRename answers a FileRename request: it moves path to a
// new name within the same directory.
func HandleFileRename(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, req *protocol.FileRename) {
	if !sess.HasPermission(permission.FileRename) {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}
	if req.NewName == "" || req.NewName == "." || req.NewName == ".." || strings.ContainsAny(req.NewName, "/\\") {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "path_invalid", ErrorKind: "path_invalid"})
		return
	}
	base, err := areaBase(ctx, sess, req.Root)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	resolved, err := pathresolve.ResolvePath(base, req.Path)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	target := filepath.Join(filepath.Dir(resolved), req.NewName)
	if !pathresolve.CanAccessForDownload(base, target, sess.Account.Username, sess.Account.IsAdmin) {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}
	if _, err := os.Stat(target); err == nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "destination_exists", ErrorKind: "destination_exists"})
		return
	}
	if err := os.Rename(resolved, target); err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Success: true})
}

// HandleFileMove answers a FileMove request.
func HandleFileMove(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, req *protocol.FileMove) {
	if !sess.HasPermission(permission.FileMove) {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}
	base, err := areaBase(ctx, sess, req.Root)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	src, err := pathresolve.ResolvePath(base, req.Src)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	dst, err := pathresolve.ResolveNewPath(base, req.Dst)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	if !req.Overwrite {
		if _, err := os.Stat(dst); err == nil {
			reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "destination_exists", ErrorKind: "destination_exists"})
			return
		}
	}
	if err := os.Rename(src, dst); err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Success: true})
}

// HandleFileCopy answers a FileCopy request.
func HandleFileCopy(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, req *protocol.FileCopy) {
	if !sess.HasPermission(permission.FileCopy) {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}
	base, err := areaBase(ctx, sess, req.Root)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	src, err := pathresolve.ResolvePath(base, req.Src)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	dst, err := pathresolve.ResolveNewPath(base, req.Dst)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	if !req.Overwrite {
		if _, err := os.Stat(dst); err == nil {
			reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "destination_exists", ErrorKind: "destination_exists"})
			return
		}
	}
	if err := copyPath(src, dst); err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Success: true})
}

// copyPath copies src to dst, recursing into directories.
func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info)
	}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, fi)
	})
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// HandleFileSearch answers a FileSearch request with a case-
// insensitive substring match over every entry's name under the base
// area; each match is reported with its path relative to the base.
func HandleFileSearch(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID, req *protocol.FileSearch) {
	if !sess.HasPermission(permission.FileList) {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: "permission_denied", ErrorKind: "permission_denied"})
		return
	}
	base, err := areaBase(ctx, sess, req.Root)
	if err != nil {
		reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Error: errKind(err), ErrorKind: errKind(err)})
		return
	}
	query := strings.ToLower(req.Query)

	var matches []protocol.FileEntry
	_ = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil || path == base || len(matches) >= maxSearchResults {
			return nil
		}
		if !pathresolve.CanAccessForDownload(base, path, sess.Account.Username, sess.Account.IsAdmin) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), query) {
			info, err := d.Info()
			if err == nil {
				rel, _ := filepath.Rel(base, path)
				matches = append(matches, entryFor(rel, info))
			}
		}
		return nil
	})

	reply(ctx, sess, protocol.KindFileOpResult, msgID, &protocol.FileOpResult{Success: true, Matches: matches})
}

// HandleFileReindex answers a FileReindex request. Directory listings
// and searches in this implementation scan the filesystem live rather
// than maintaining a persistent index, so there is nothing to rebuild;
// the request is acknowledged for client compatibility with servers
// that do maintain one.
func HandleFileReindex(ctx *handlers.Context, sess *session.Session, msgID uuid.UUID) {
	if !sess.HasPermission(permission.FileRoot) {
		reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Error: "permission_denied"})
		return
	}
	reply(ctx, sess, protocol.KindGenericOK, msgID, &protocol.GenericOK{Success: true})
}
