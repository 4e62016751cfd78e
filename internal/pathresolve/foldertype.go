package pathresolve

import "strings"

// FolderKind classifies a file-area folder by the bracketed suffix tag
// in its directory name.
type FolderKind int

const (
	// FolderDefault carries no special tag: normal access rules apply.
	FolderDefault FolderKind = iota
	// FolderUpload is tagged "[NEXUS-UL]": anyone may upload into it.
	FolderUpload
	// FolderDropBox is tagged "[NEXUS-DB]": anyone may upload, but only
	// admins may list or download its contents.
	FolderDropBox
	// FolderUserDropBox is tagged "[NEXUS-DB-<user>]": anyone may
	// upload, but only <user> or admins may list or download.
	FolderUserDropBox
)

const (
	uploadSuffix   = "[nexus-ul]"
	dropBoxSuffix  = "[nexus-db]"
	dropBoxPrefix  = "[nexus-db-"
	dropBoxCloser  = "]"
)

// ParseFolderType inspects name (a single path component, not a full
// path) for a bracketed tag suffix, matched case-insensitively, and
// reports its kind and, for a per-user drop box, the owning username.
func ParseFolderType(name string) (FolderKind, string) {
	lower := strings.ToLower(name)

	if strings.HasSuffix(lower, uploadSuffix) {
		return FolderUpload, ""
	}
	if strings.HasSuffix(lower, dropBoxSuffix) {
		return FolderDropBox, ""
	}
	if strings.HasSuffix(lower, dropBoxCloser) {
		if idx := strings.LastIndex(lower, dropBoxPrefix); idx >= 0 {
			user := lower[idx+len(dropBoxPrefix) : len(lower)-len(dropBoxCloser)]
			if user != "" {
				return FolderUserDropBox, user
			}
		}
	}
	return FolderDefault, ""
}
