package transfer

import "github.com/google/uuid"

// NewTransferID returns a fresh identifier for a transfer session. It
// is reported to the client in FileDownloadResponse.TransferID and is
// not used to look anything up afterwards.
func NewTransferID() string {
	return uuid.NewString()
}

// DownloadPlan is the result of resolving and scanning a download
// request: the file list to stream and its aggregate size, ready to
// back a FileDownloadResponse.
type DownloadPlan struct {
	TransferID string
	Files      []FileInfo
	TotalSize  uint64
}

// PlanDownload resolves resolvedPath into a DownloadPlan. Callers are
// expected to have already validated the request, checked the
// FileDownload permission, and resolved/canonicalized resolvedPath via
// internal/pathresolve before calling this.
func PlanDownload(areaRoot, resolvedPath, username string, isAdmin bool) (DownloadPlan, error) {
	files, err := ScanForDownload(areaRoot, resolvedPath, username, isAdmin)
	if err != nil {
		return DownloadPlan{}, err
	}
	return DownloadPlan{
		TransferID: NewTransferID(),
		Files:      files,
		TotalSize:  TotalSize(files),
	}, nil
}
