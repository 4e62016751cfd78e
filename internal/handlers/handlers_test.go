package handlers

import (
	"net/netip"
	"sync"

	"nexus/server/internal/channel"
	"nexus/server/internal/config"
	"nexus/server/internal/iprule"
	"nexus/server/internal/permission"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/voice"
)

// fakeStore is an in-memory Store good enough to exercise every
// handler without a real database.
type fakeStore struct {
	mu sync.Mutex

	accounts  map[string]AccountRecord
	passwords map[string]string

	news   map[int64]protocol.NewsItem
	nextID int64

	bans   []BanRecord
	trusts []TrustRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  make(map[string]AccountRecord),
		passwords: make(map[string]string),
		news:      make(map[int64]protocol.NewsItem),
	}
}

func (f *fakeStore) GetAccount(username string) (AccountRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.accounts[username]
	return rec, ok, nil
}

// addAccount registers a test account with a plaintext password; only
// Authenticate ever compares it, mirroring the real store's bcrypt
// encapsulation closely enough for handler tests.
func (f *fakeStore) addAccount(rec AccountRecord, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[rec.Username] = rec
	f.passwords[rec.Username] = password
}

func (f *fakeStore) Authenticate(username, password string) (AccountRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.accounts[username]
	if !ok || !rec.Enabled || f.passwords[username] != password {
		return AccountRecord{}, false, nil
	}
	return rec, true, nil
}

func (f *fakeStore) CreateNews(title, body, author string, createdAt int64) (protocol.NewsItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	item := protocol.NewsItem{ID: f.nextID, Title: title, Body: body, Author: author, CreatedAt: createdAt, UpdatedAt: createdAt}
	f.news[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateNews(id int64, title, body string, updatedAt int64) (protocol.NewsItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.news[id]
	if !ok {
		return protocol.NewsItem{}, false, nil
	}
	item.Title, item.Body, item.UpdatedAt = title, body, updatedAt
	f.news[id] = item
	return item, true, nil
}

func (f *fakeStore) DeleteNews(id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.news[id]; !ok {
		return false, nil
	}
	delete(f.news, id)
	return true, nil
}

func (f *fakeStore) ListNews() ([]protocol.NewsItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.NewsItem, 0, len(f.news))
	for _, item := range f.news {
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeStore) NewsAuthor(id int64) (string, bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.news[id]
	if !ok {
		return "", false, false, nil
	}
	acc := f.accounts[item.Author]
	return item.Author, acc.IsAdmin, true, nil
}

func (f *fakeStore) AddBan(rec BanRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans = append(f.bans, rec)
	return nil
}

func (f *fakeStore) DeleteBan(target string, kind protocol.TargetKind) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []string
	kept := f.bans[:0]
	for _, b := range f.bans {
		if b.Target == target && b.TargetKind == kind {
			removed = append(removed, b.Target)
			continue
		}
		kept = append(kept, b)
	}
	f.bans = kept
	return removed, nil
}

func (f *fakeStore) ListBans() ([]BanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BanRecord(nil), f.bans...), nil
}

func (f *fakeStore) AddTrust(rec TrustRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trusts = append(f.trusts, rec)
	return nil
}

func (f *fakeStore) DeleteTrust(target string, kind protocol.TargetKind) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []string
	kept := f.trusts[:0]
	for _, tr := range f.trusts {
		if tr.Target == target && tr.TargetKind == kind {
			removed = append(removed, tr.Target)
			continue
		}
		kept = append(kept, tr)
	}
	f.trusts = kept
	return removed, nil
}

func (f *fakeStore) ListTrusts() ([]TrustRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TrustRecord(nil), f.trusts...), nil
}

// testContext builds a Context over fresh in-memory dependencies.
func testContext() (*Context, *fakeStore) {
	store := newFakeStore()
	return &Context{
		Sessions: session.NewRegistry(),
		Channels: channel.NewManager(nil),
		Bans:     iprule.New(),
		Settings: config.New(nil),
		Voice:    voice.NewRegistry(),
		Store:    store,
		Now:      func() int64 { return 1000 },
	}, store
}

// addSession registers and returns a logged-in session with the given
// permissions (admins get every permission implicitly).
func addSession(ctx *Context, nickname string, perms ...permission.Permission) *session.Session {
	set := permission.Set{}
	for _, p := range perms {
		set[p] = true
	}
	acc := session.Account{Username: nickname, Enabled: true, Permissions: set}
	sess, err := ctx.Sessions.Register(acc, map[string]bool{"chat": true, "news": true}, "en", nil, "", netip.Addr{}, 1000)
	if err != nil {
		panic(err)
	}
	return sess
}

func drain(sess *session.Session) *session.Envelope {
	select {
	case env := <-sess.Outbox():
		return &env
	default:
		return nil
	}
}
