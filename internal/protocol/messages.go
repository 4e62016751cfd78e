package protocol

// CurrentProtocolVersion is the version string this server's
// HandshakeReply claims. A client handshake is compatible when its
// version matches exactly; there is no version negotiation beyond
// that, since the wire format has no optional-field layer.
const CurrentProtocolVersion = "1"

// Client -> server request payloads. Field names are exported so the
// msgpack map encoding stays self-describing and additive changes don't
// break older clients.

type Handshake struct {
	ProtocolVersion string
}

type Login struct {
	Username string
	Password string
	Nickname string
	Features []string
	Locale   string
	Avatar   []byte
	Status   string
}

type ChatJoin struct {
	Channel string
}

type ChatLeave struct {
	Channel string
}

type ChatSend struct {
	Channel string
	Message string
	Action  bool
}

type ChatTopicUpdate struct {
	Channel string
	Topic   string
}

type ChatSecretToggle struct {
	Channel string
	Secret  bool
}

type ChatList struct{}

type UserList struct {
	All bool
}

type UserInfo struct {
	Nickname string
}

// TargetKind distinguishes a kick/ban/trust target named by nickname
// (one shared-account session) from one named by username (every
// session logged in under that account) or by IP/CIDR.
type TargetKind string

const (
	TargetNickname TargetKind = "nickname"
	TargetUsername TargetKind = "username"
	TargetAddress  TargetKind = "address"
)

type UserKick struct {
	Target     string
	TargetKind TargetKind
	Reason     string
}

type UserBroadcast struct {
	Message string
}

type UserMessage struct {
	Target  string
	Message string
}

type NewsCreate struct {
	Title string
	Body  string
}

type NewsEdit struct {
	ID    int64
	Title string
	Body  string
}

type NewsDelete struct {
	ID int64
}

type NewsList struct{}

type BanAdd struct {
	Target     string
	TargetKind TargetKind
	Reason     string
	ExpiresAt  *int64 // unix seconds, nil means permanent
}

type BanDelete struct {
	Target     string
	TargetKind TargetKind
}

type BanList struct{}

type TrustAdd struct {
	Target     string
	TargetKind TargetKind
	Reason     string
}

type TrustDelete struct {
	Target     string
	TargetKind TargetKind
}

type TrustList struct{}

type FileList struct {
	Path string
	Root bool
}

type FileCreateDir struct {
	Path string
	Root bool
}

type FileDelete struct {
	Path string
	Root bool
}

type FileInfo struct {
	Path string
	Root bool
}

type FileRename struct {
	Path    string
	NewName string
	Root    bool
}

type FileMove struct {
	Src       string
	Dst       string
	Root      bool
	Overwrite bool
}

type FileCopy struct {
	Src       string
	Dst       string
	Root      bool
	Overwrite bool
}

type FileSearch struct {
	Query string
	Root  bool
}

type FileReindex struct{}

// FileDownload and FileUpload are exchanged on the transfer connection,
// after that connection has authenticated with its own Login exchange.
type FileDownload struct {
	Path string
	Root bool
}

type FileUpload struct {
	Path   string
	Size   uint64
	Sha256 string
	Root   bool
}

// FileStartResponse is the client's resume decision in reply to a
// FileStart: it reports what it already has locally so the server can
// pick an offset per the resume-negotiation rules.
type FileStartResponse struct {
	SizeLocal   uint64
	Sha256Local string // empty if SizeLocal == 0
}

// FileHashingClient is a keepalive the client emits while computing the
// SHA-256 of a file it is about to upload.
type FileHashingClient struct {
	Name string
}

type VoiceJoin struct {
	Target string // channel or username to join voice with
}

type VoiceLeave struct{}

type Ping struct{}

// Server -> client response and event payloads.

type HandshakeReply struct {
	ProtocolVersion string
	Compatible      bool
}

type LoginResponse struct {
	Success     bool
	Error       string
	SessionID   uint32
	Nickname    string
	Permissions []string
	IsAdmin     bool
}

// Error is a generic failure reply. Callers correlate it to the
// triggering request via the frame's message id.
type Error struct {
	Code    string
	Message string
}

type ChannelMember struct {
	Nickname string
	IsAdmin  bool
}

type ChatJoinResponse struct {
	Success    bool
	Error      string
	Channel    string
	Members    []ChannelMember
	Topic      string
	TopicSetBy string
	Secret     bool
}

type ChatLeaveResponse struct {
	Success bool
	Error   string
	Channel string
}

type ChatUserJoined struct {
	Channel  string
	Nickname string
}

type ChatUserLeft struct {
	Channel  string
	Nickname string
}

type ChatUpdated struct {
	Channel      string
	Topic        *string
	TopicSetBy   string
	Secret       *bool
	SecretSetBy  string
}

type ChatMessage struct {
	Channel  string
	Nickname string
	Message  string
	Action   bool
}

type ChannelSummary struct {
	Name       string
	MemberCount int
	Topic      string
	Secret     bool
	Persistent bool
}

type ChatListResponse struct {
	Channels []ChannelSummary
}

type UserSummary struct {
	Nickname string
	Username string
	Channels []string
	IsAdmin  bool
	Idle     bool
}

type UserListResponse struct {
	Users []UserSummary
}

type UserInfoResponse struct {
	Success  bool
	Error    string
	Summary  UserSummary
	LoginAt  int64
	Address  string // empty unless caller holds user_info on an admin-scoped query
}

type UserDisconnected struct {
	Nickname string
	Reason   string
}

type ServerBroadcast struct {
	Message string
	From    string
}

type NewsUpdated struct {
	Action string // "created", "edited", "deleted"
	ID     int64
}

type NewsItem struct {
	ID        int64
	Title     string
	Body      string
	Author    string
	CreatedAt int64
	UpdatedAt int64
}

type NewsListResponse struct {
	Items []NewsItem
}

// GenericOK acknowledges requests with no richer response shape
// (UserKick, UserBroadcast, BanAdd/Delete, TrustAdd/Delete, FileReindex).
type GenericOK struct {
	Success bool
	Error   string
}

type FileEntry struct {
	Name    string
	IsDir   bool
	Size    uint64
	ModTime int64
}

type FileListResponse struct {
	Success bool
	Error   string
	Path    string
	Entries []FileEntry
}

type FileInfoResponse struct {
	Success bool
	Error   string
	Entry   FileEntry
}

// FileOpResult answers FileCreateDir/FileDelete/FileRename/FileMove/
// FileCopy/FileSearch. ErrorKind distinguishes access-denied from
// not-found from generic io failure for client-side messaging.
type FileOpResult struct {
	Success bool
	Error   string
	ErrorKind string
	Matches []FileEntry // populated for FileSearch
}

type FileDownloadResponse struct {
	Success    bool
	Error      string
	ErrorKind  string
	Size       uint64
	FileCount  uint64
	TransferID string
}

// FileStart begins a transfer-connection byte stream: the server
// announces what it is about to send (download) or is willing to
// receive (upload ack), then FileData frames follow.
type FileStart struct {
	Path      string
	Size      uint64
	Sha256    string
	Offset    uint64
}

type FileData struct {
	Data []byte
}

type FileHashingServer struct {
	Name string
}

type TransferComplete struct {
	Success   bool
	Error     string
	ErrorKind string
}

type VoiceJoinResponse struct {
	Success      bool
	Error        string
	Token        string
	Target       string
	RelayAddress string
	Participants []string
}

type VoiceUserJoined struct {
	Nickname string
	Target   string
}

type VoiceUserLeft struct {
	Nickname string
	Target   string
}

type Pong struct{}

// BanEntry is one row of a BanListResponse. Target is the raw nickname,
// username, or IP/CIDR the ban was created against.
type BanEntry struct {
	Target     string
	TargetKind TargetKind
	Reason     string
	ExpiresAt  *int64
	CreatedBy  string
}

type BanListResponse struct {
	Bans []BanEntry
}

// TrustEntry is one row of a TrustListResponse.
type TrustEntry struct {
	Target     string
	TargetKind TargetKind
	Reason     string
	CreatedBy  string
}

type TrustListResponse struct {
	Trusts []TrustEntry
}
