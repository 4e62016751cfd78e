// Package protocol defines the tagged-union ClientMessage/ServerMessage
// payloads carried inside a frame.Frame, and the msgpack codec used to
// encode/decode them. The frame's kind byte (see internal/frame) doubles
// as the tag for this union: each Kind below names exactly one Go struct.
package protocol

import "github.com/vmihailenco/msgpack/v5"

// Kind tags a ClientMessage or ServerMessage payload. Client-originated
// and server-originated kinds share one numeric space partitioned by
// range so a stray byte from the wrong direction is caught immediately.
type Kind = uint8

const (
	// Client -> server requests.
	KindHandshake Kind = iota + 1
	KindLogin
	KindChatJoin
	KindChatLeave
	KindChatSend
	KindChatTopicUpdate
	KindChatSecretToggle
	KindChatList
	KindUserList
	KindUserInfo
	KindUserKick
	KindUserBroadcast
	KindUserMessage
	KindNewsCreate
	KindNewsEdit
	KindNewsDelete
	KindNewsList
	KindBanAdd
	KindBanDelete
	KindBanList
	KindTrustAdd
	KindTrustDelete
	KindTrustList
	KindFileList
	KindFileCreateDir
	KindFileDelete
	KindFileInfo
	KindFileRename
	KindFileMove
	KindFileCopy
	KindFileSearch
	KindFileReindex
	KindFileDownload
	KindFileUpload
	KindFileStartResponse
	KindFileHashingClient
	KindVoiceJoin
	KindVoiceLeave
	KindPing
)

const (
	// Server -> client responses and unsolicited events.
	KindHandshakeReply Kind = iota + 128
	KindLoginResponse
	KindError
	KindChatJoinResponse
	KindChatLeaveResponse
	KindChatUserJoined
	KindChatUserLeft
	KindChatUpdated
	KindChatMessage
	KindChatListResponse
	KindUserListResponse
	KindUserInfoResponse
	KindUserDisconnected
	KindServerBroadcast
	KindNewsUpdated
	KindNewsListResponse
	KindGenericOK
	KindFileListResponse
	KindFileInfoResponse
	KindFileOpResult
	KindFileDownloadResponse
	KindFileStart
	KindFileData
	KindFileHashingServer
	KindTransferComplete
	KindVoiceJoinResponse
	KindVoiceUserJoined
	KindVoiceUserLeft
	KindPong
	KindBanListResponse
	KindTrustListResponse
)

// Encode serializes v (a pointer to one of the structs in this package)
// as a msgpack map, preserving field names so the encoding is
// self-describing and stable under field reordering or additive change.
func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode deserializes payload into v (a pointer to the struct matching
// the frame's Kind byte).
func Decode(payload []byte, v any) error {
	return msgpack.Unmarshal(payload, v)
}
