package protocol

import "fmt"

// NewPayload returns a freshly-allocated, zero-valued pointer to the
// struct associated with kind, ready to be passed to Decode. Dispatch
// code uses this to turn a frame's kind byte into a concrete type
// without a giant hand-written switch at every call site.
func NewPayload(kind Kind) (any, error) {
	switch kind {
	case KindHandshake:
		return &Handshake{}, nil
	case KindLogin:
		return &Login{}, nil
	case KindChatJoin:
		return &ChatJoin{}, nil
	case KindChatLeave:
		return &ChatLeave{}, nil
	case KindChatSend:
		return &ChatSend{}, nil
	case KindChatTopicUpdate:
		return &ChatTopicUpdate{}, nil
	case KindChatSecretToggle:
		return &ChatSecretToggle{}, nil
	case KindChatList:
		return &ChatList{}, nil
	case KindUserList:
		return &UserList{}, nil
	case KindUserInfo:
		return &UserInfo{}, nil
	case KindUserKick:
		return &UserKick{}, nil
	case KindUserBroadcast:
		return &UserBroadcast{}, nil
	case KindUserMessage:
		return &UserMessage{}, nil
	case KindNewsCreate:
		return &NewsCreate{}, nil
	case KindNewsEdit:
		return &NewsEdit{}, nil
	case KindNewsDelete:
		return &NewsDelete{}, nil
	case KindNewsList:
		return &NewsList{}, nil
	case KindBanAdd:
		return &BanAdd{}, nil
	case KindBanDelete:
		return &BanDelete{}, nil
	case KindBanList:
		return &BanList{}, nil
	case KindTrustAdd:
		return &TrustAdd{}, nil
	case KindTrustDelete:
		return &TrustDelete{}, nil
	case KindTrustList:
		return &TrustList{}, nil
	case KindFileList:
		return &FileList{}, nil
	case KindFileCreateDir:
		return &FileCreateDir{}, nil
	case KindFileDelete:
		return &FileDelete{}, nil
	case KindFileInfo:
		return &FileInfo{}, nil
	case KindFileRename:
		return &FileRename{}, nil
	case KindFileMove:
		return &FileMove{}, nil
	case KindFileCopy:
		return &FileCopy{}, nil
	case KindFileSearch:
		return &FileSearch{}, nil
	case KindFileReindex:
		return &FileReindex{}, nil
	case KindFileDownload:
		return &FileDownload{}, nil
	case KindFileUpload:
		return &FileUpload{}, nil
	case KindFileStartResponse:
		return &FileStartResponse{}, nil
	case KindFileHashingClient:
		return &FileHashingClient{}, nil
	case KindVoiceJoin:
		return &VoiceJoin{}, nil
	case KindVoiceLeave:
		return &VoiceLeave{}, nil
	case KindPing:
		return &Ping{}, nil

	case KindHandshakeReply:
		return &HandshakeReply{}, nil
	case KindLoginResponse:
		return &LoginResponse{}, nil
	case KindError:
		return &Error{}, nil
	case KindChatJoinResponse:
		return &ChatJoinResponse{}, nil
	case KindChatLeaveResponse:
		return &ChatLeaveResponse{}, nil
	case KindChatUserJoined:
		return &ChatUserJoined{}, nil
	case KindChatUserLeft:
		return &ChatUserLeft{}, nil
	case KindChatUpdated:
		return &ChatUpdated{}, nil
	case KindChatMessage:
		return &ChatMessage{}, nil
	case KindChatListResponse:
		return &ChatListResponse{}, nil
	case KindUserListResponse:
		return &UserListResponse{}, nil
	case KindUserInfoResponse:
		return &UserInfoResponse{}, nil
	case KindUserDisconnected:
		return &UserDisconnected{}, nil
	case KindServerBroadcast:
		return &ServerBroadcast{}, nil
	case KindNewsUpdated:
		return &NewsUpdated{}, nil
	case KindNewsListResponse:
		return &NewsListResponse{}, nil
	case KindGenericOK:
		return &GenericOK{}, nil
	case KindFileListResponse:
		return &FileListResponse{}, nil
	case KindFileInfoResponse:
		return &FileInfoResponse{}, nil
	case KindFileOpResult:
		return &FileOpResult{}, nil
	case KindFileDownloadResponse:
		return &FileDownloadResponse{}, nil
	case KindFileStart:
		return &FileStart{}, nil
	case KindFileData:
		return &FileData{}, nil
	case KindFileHashingServer:
		return &FileHashingServer{}, nil
	case KindTransferComplete:
		return &TransferComplete{}, nil
	case KindVoiceJoinResponse:
		return &VoiceJoinResponse{}, nil
	case KindVoiceUserJoined:
		return &VoiceUserJoined{}, nil
	case KindVoiceUserLeft:
		return &VoiceUserLeft{}, nil
	case KindPong:
		return &Pong{}, nil
	case KindBanListResponse:
		return &BanListResponse{}, nil
	case KindTrustListResponse:
		return &TrustListResponse{}, nil
	}
	return nil, fmt.Errorf("protocol: unknown kind %d", kind)
}

// DecodeKind allocates the struct for kind and decodes payload into it.
func DecodeKind(kind Kind, payload []byte) (any, error) {
	v, err := NewPayload(kind)
	if err != nil {
		return nil, err
	}
	if err := Decode(payload, v); err != nil {
		return nil, fmt.Errorf("protocol: decode kind %d: %w", kind, err)
	}
	return v, nil
}
