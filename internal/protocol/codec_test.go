package protocol

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &ChatSend{Channel: "lobby", Message: "hello", Action: false}
	payload, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := DecodeKind(KindChatSend, payload)
	if err != nil {
		t.Fatalf("DecodeKind: %v", err)
	}
	got, ok := out.(*ChatSend)
	if !ok {
		t.Fatalf("DecodeKind returned %T, want *ChatSend", out)
	}
	if *got != *in {
		t.Errorf("got %+v, want %+v", got, in)
	}
}

func TestDecodeKindUnknown(t *testing.T) {
	if _, err := DecodeKind(Kind(250), nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestNewPayloadCoversEveryClientKind(t *testing.T) {
	kinds := []Kind{
		KindHandshake, KindLogin, KindChatJoin, KindChatLeave, KindChatSend,
		KindChatTopicUpdate, KindChatSecretToggle, KindChatList, KindUserList,
		KindUserInfo, KindUserKick, KindUserBroadcast, KindUserMessage,
		KindNewsCreate, KindNewsEdit, KindNewsDelete, KindNewsList,
		KindBanAdd, KindBanDelete, KindBanList, KindTrustAdd, KindTrustDelete, KindTrustList,
		KindFileList, KindFileCreateDir, KindFileDelete, KindFileInfo, KindFileRename,
		KindFileMove, KindFileCopy, KindFileSearch, KindFileReindex, KindFileDownload,
		KindFileUpload, KindFileStartResponse, KindFileHashingClient,
		KindVoiceJoin, KindVoiceLeave, KindPing,
	}
	for _, k := range kinds {
		if _, err := NewPayload(k); err != nil {
			t.Errorf("NewPayload(%d): %v", k, err)
		}
	}
}

func TestNewPayloadCoversEveryServerKind(t *testing.T) {
	kinds := []Kind{
		KindHandshakeReply, KindLoginResponse, KindError, KindChatJoinResponse,
		KindChatLeaveResponse, KindChatUserJoined, KindChatUserLeft, KindChatUpdated,
		KindChatMessage, KindChatListResponse, KindUserListResponse, KindUserInfoResponse,
		KindUserDisconnected, KindServerBroadcast, KindNewsUpdated, KindNewsListResponse,
		KindGenericOK, KindFileListResponse, KindFileInfoResponse, KindFileOpResult,
		KindFileDownloadResponse, KindFileStart, KindFileData, KindFileHashingServer,
		KindTransferComplete, KindVoiceJoinResponse, KindVoiceUserJoined, KindVoiceUserLeft,
		KindPong, KindBanListResponse, KindTrustListResponse,
	}
	for _, k := range kinds {
		if _, err := NewPayload(k); err != nil {
			t.Errorf("NewPayload(%d): %v", k, err)
		}
	}
}
