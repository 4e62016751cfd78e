// Package permission defines the fixed enumeration of Nexus account
// permissions and the restricted subset available to shared accounts.
package permission

import "sort"

// Permission is one fine-grained capability an IdentityAccount may hold.
type Permission string

const (
	ChatReceive   Permission = "chat_receive"
	ChatSend      Permission = "chat_send"
	ChatTopic     Permission = "chat_topic"
	ChatTopicEdit Permission = "chat_topic_edit"

	FileCopy      Permission = "file_copy"
	FileCreateDir Permission = "file_create_dir"
	FileDelete    Permission = "file_delete"
	FileDownload  Permission = "file_download"
	FileInfo      Permission = "file_info"
	FileList      Permission = "file_list"
	FileMove      Permission = "file_move"
	FileRename    Permission = "file_rename"
	FileRoot      Permission = "file_root"

	NewsCreate Permission = "news_create"
	NewsDelete Permission = "news_delete"
	NewsEdit   Permission = "news_edit"
	NewsList   Permission = "news_list"

	UserBroadcast Permission = "user_broadcast"
	UserCreate    Permission = "user_create"
	UserDelete    Permission = "user_delete"
	UserEdit      Permission = "user_edit"
	UserInfo      Permission = "user_info"
	UserKick      Permission = "user_kick"
	UserList      Permission = "user_list"
	UserMessage   Permission = "user_message"

	// VoiceListen and VoiceTalk are not part of the original 25-entry
	// ALL_PERMISSIONS list but are exercised by the voice relay
	// (Permission::VoiceTalk in the Rust original) and named by the
	// data model's permission enumeration. See DESIGN.md for the
	// reconciliation of the two sources.
	VoiceListen Permission = "voice_listen"
	VoiceTalk   Permission = "voice_talk"

	BanCreate   Permission = "ban_create"
	BanDelete   Permission = "ban_delete"
	BanList     Permission = "ban_list"
	TrustCreate Permission = "trust_create"
	TrustDelete Permission = "trust_delete"
	TrustList   Permission = "trust_list"
)

// All is every permission identifier in the system, alphabetically sorted.
var All = sortedCopy([]Permission{
	ChatReceive, ChatSend, ChatTopic, ChatTopicEdit,
	FileCopy, FileCreateDir, FileDelete, FileDownload, FileInfo, FileList, FileMove, FileRename, FileRoot,
	NewsCreate, NewsDelete, NewsEdit, NewsList,
	UserBroadcast, UserCreate, UserDelete, UserEdit, UserInfo, UserKick, UserList, UserMessage,
	VoiceListen, VoiceTalk,
	BanCreate, BanDelete, BanList, TrustCreate, TrustDelete, TrustList,
})

// Shared is the subset of permissions that may be granted to a shared
// account. Any attempt to assign a permission outside this list to a
// shared account is rejected.
var Shared = sortedCopy([]Permission{
	ChatReceive, ChatSend, ChatTopic,
	FileDownload, FileInfo, FileList,
	NewsList,
	UserInfo, UserList, UserMessage,
})

func sortedCopy(in []Permission) []Permission {
	out := make([]Permission, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var sharedSet = func() map[Permission]bool {
	m := make(map[Permission]bool, len(Shared))
	for _, p := range Shared {
		m[p] = true
	}
	return m
}()

var allSet = func() map[Permission]bool {
	m := make(map[Permission]bool, len(All))
	for _, p := range All {
		m[p] = true
	}
	return m
}()

// IsShared reports whether p may be granted to a shared account.
func IsShared(p Permission) bool {
	return sharedSet[p]
}

// IsValid reports whether p is a recognized permission identifier.
func IsValid(p Permission) bool {
	return allSet[p]
}

// Set is a convenience map-backed set of permissions held by an account.
type Set map[Permission]bool

// NewSet builds a Set from a list of permission strings, dropping any
// identifier that is not in All.
func NewSet(perms []string) Set {
	s := make(Set, len(perms))
	for _, raw := range perms {
		p := Permission(raw)
		if IsValid(p) {
			s[p] = true
		}
	}
	return s
}

// Has reports whether the set grants p. Callers that need admin
// override semantics should check Session.IsAdmin before calling Has.
func (s Set) Has(p Permission) bool {
	return s[p]
}

// Strings renders the set as a sorted slice, for persistence and display.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// RestrictToShared drops any permission not allowed for shared accounts,
// returning a new Set. Used when persisting or editing a shared account.
func (s Set) RestrictToShared() Set {
	out := make(Set, len(s))
	for p := range s {
		if IsShared(p) {
			out[p] = true
		}
	}
	return out
}
