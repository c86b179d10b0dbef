// stores.go
//
// Shared in-memory mocks of the store and session cache.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/egiraffe/egiraffe/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MockStore implements every store interface the HTTP packages consume.
//
// Always stateful...maps behave like the real tables.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	CreateUserErr        error
	GetUserErr           error
	UpdateUserErr        error
	CreateSessionErr     error
	GetSessionErr        error
	DeleteSessionErr     error
	DeleteAllSessionsErr error
	GetFileAccessErr     error
	GetPurchaseErr       error
	PurchaseErr          error
	CreateFileErr        error

	Users        map[uuid.UUID]*store.User
	Sessions     map[string]*store.Session // keyed by string(tokenHash)
	Uploads      map[uuid.UUID]*store.Upload
	Files        map[uuid.UUID]*store.File
	Purchases    map[[2]uuid.UUID]*store.Purchase // {user, upload}
	Transactions []store.SystemTransaction

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given users.
func NewMockStore(users ...*store.User) *MockStore {
	ms := &MockStore{
		Users:     make(map[uuid.UUID]*store.User),
		Sessions:  make(map[string]*store.Session),
		Uploads:   make(map[uuid.UUID]*store.Upload),
		Files:     make(map[uuid.UUID]*store.File),
		Purchases: make(map[[2]uuid.UUID]*store.Purchase),
	}
	for _, u := range users {
		ms.Users[u.ID] = u
	}
	return ms
}

// --- Users ---

func (m *MockStore) CreateUser(_ context.Context, u *store.User) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Users {
		if strings.EqualFold(existing.Email, u.Email) {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	cp := *u
	m.Users[u.ID] = &cp
	return nil
}

func (m *MockStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MockStore) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *MockStore) UpdateUserPassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *MockStore) UpdateUserRole(_ context.Context, id uuid.UUID, role int16) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.Role = role
	return nil
}

// --- Sessions ---

func (m *MockStore) CreateSession(_ context.Context, id, userID uuid.UUID, tokenHash []byte) error {
	if m.CreateSessionErr != nil {
		return m.CreateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[string(tokenHash)] = &store.Session{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: time.Now(),
	}
	return nil
}

// GetSessionIdentity joins the session with the user's current role, like the real query.
func (m *MockStore) GetSessionIdentity(_ context.Context, tokenHash []byte) (*store.SessionIdentity, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[string(tokenHash)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	u, ok := m.Users[s.UserID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &store.SessionIdentity{UserID: u.ID, Role: u.Role}, nil
}

func (m *MockStore) DeleteSession(_ context.Context, tokenHash []byte) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	delete(m.Sessions, string(tokenHash))
	m.mu.Unlock()
	return nil
}

func (m *MockStore) DeleteAllUserSessions(_ context.Context, userID uuid.UUID) error {
	if m.DeleteAllSessionsErr != nil {
		return m.DeleteAllSessionsErr
	}
	m.mu.Lock()
	for key, s := range m.Sessions {
		if s.UserID == userID {
			delete(m.Sessions, key)
		}
	}
	m.mu.Unlock()
	return nil
}

// SessionCount returns the number of stored sessions for userID.
func (m *MockStore) SessionCount(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// --- Uploads and files ---

func (m *MockStore) GetUpload(_ context.Context, id uuid.UUID) (*store.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Uploads[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *MockStore) GetUploadOwner(_ context.Context, uploadID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Uploads[uploadID]
	if !ok {
		return uuid.Nil, pgx.ErrNoRows
	}
	return u.Uploader, nil
}

func (m *MockStore) CreateUpload(_ context.Context, u *store.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.Uploads[u.ID] = &cp
	return nil
}

func (m *MockStore) UpdateUpload(_ context.Context, u *store.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.Uploads[u.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	cp := *u
	cp.Uploader = existing.Uploader
	cp.UploadDate = existing.UploadDate
	m.Uploads[u.ID] = &cp
	return nil
}

func (m *MockStore) GetFile(_ context.Context, id uuid.UUID) (*store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Files[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *f
	return &cp, nil
}

func (m *MockStore) GetFileAccess(_ context.Context, fileID uuid.UUID) (*store.FileAccess, error) {
	if m.GetFileAccessErr != nil {
		return nil, m.GetFileAccessErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Files[fileID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	u, ok := m.Uploads[f.UploadID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &store.FileAccess{
		FileID:           f.ID,
		UploadID:         u.ID,
		Uploader:         u.Uploader,
		ApprovalUploader: f.ApprovalUploader,
		ApprovalMod:      f.ApprovalMod,
	}, nil
}

func (m *MockStore) CreateFile(_ context.Context, f *store.File) error {
	if m.CreateFileErr != nil {
		return m.CreateFileErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.Files[f.ID] = &cp
	return nil
}

func (m *MockStore) SetFileApprovalUploader(_ context.Context, fileID uuid.UUID, approved bool) error {
	return m.setFileFlag(fileID, func(f *store.File) { f.ApprovalUploader = approved })
}

func (m *MockStore) SetFileApprovalMod(_ context.Context, fileID uuid.UUID, approved bool) error {
	return m.setFileFlag(fileID, func(f *store.File) { f.ApprovalMod = approved })
}

func (m *MockStore) setFileFlag(fileID uuid.UUID, set func(*store.File)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Files[fileID]
	if !ok {
		return pgx.ErrNoRows
	}
	set(f)
	return nil
}

// --- Ledger ---

func (m *MockStore) GetPurchase(_ context.Context, userID, uploadID uuid.UUID) (*store.Purchase, error) {
	if m.GetPurchaseErr != nil {
		return nil, m.GetPurchaseErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Purchases[[2]uuid.UUID{userID, uploadID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

// AvailableFunds mirrors the ledger query: grants + sales - spending.
func (m *MockStore) AvailableFunds(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fundsLocked(userID), nil
}

func (m *MockStore) fundsLocked(userID uuid.UUID) int64 {
	var total int64
	for _, t := range m.Transactions {
		if t.AffectedUser == userID {
			total += t.DeltaEC
		}
	}
	for key, p := range m.Purchases {
		if key[0] == userID {
			total -= int64(p.ECSSpent)
		}
		if up, ok := m.Uploads[key[1]]; ok && up.Uploader == userID {
			total += int64(p.ECSSpent)
		}
	}
	return total
}

func (m *MockStore) CreateSystemTransaction(_ context.Context, t *store.SystemTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transactions = append(m.Transactions, *t)
	return nil
}

// PurchaseUpload runs the same checks as the real transaction under the mock's mutex.
func (m *MockStore) PurchaseUpload(_ context.Context, userID, uploadID uuid.UUID) (*store.Purchase, error) {
	if m.PurchaseErr != nil {
		return nil, m.PurchaseErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	up, ok := m.Uploads[uploadID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if up.Uploader == userID {
		return nil, store.ErrOwnUpload
	}
	key := [2]uuid.UUID{userID, uploadID}
	if _, ok := m.Purchases[key]; ok {
		return nil, store.ErrAlreadyPurchased
	}
	if m.fundsLocked(userID) < int64(up.Price) {
		return nil, store.ErrInsufficientFunds
	}
	p := &store.Purchase{
		UserID:       userID,
		UploadID:     uploadID,
		ECSSpent:     up.Price,
		PurchaseDate: time.Now().UTC(),
	}
	m.Purchases[key] = p
	return p, nil
}

// --- Health ---

func (m *MockStore) Ping(context.Context) error { return nil }

// MockCache implements auth.SessionCache for tests.
// Always stateful...Sessions is a map, like a real cache.
// Use *Err fields to inject errors for specific operations.
type MockCache struct {
	// Error injection...zero value means no error
	GetSessionErr        error
	SetSessionErr        error
	DeleteSessionErr     error
	DeleteAllSessionsErr error

	Sessions map[string]*store.CachedSession // keyed by base64 token hash

	mu sync.Mutex
}

// NewMockCache returns an empty MockCache ready for use.
func NewMockCache() *MockCache {
	return &MockCache{
		Sessions: make(map[string]*store.CachedSession),
	}
}

func (m *MockCache) GetSession(_ context.Context, tokenHash string) (*store.CachedSession, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[tokenHash]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	cp := *s
	return &cp, nil
}

func (m *MockCache) SetSession(_ context.Context, tokenHash string, sess store.CachedSession, _ time.Duration) error {
	if m.SetSessionErr != nil {
		return m.SetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[tokenHash] = &sess
	return nil
}

func (m *MockCache) DeleteSession(_ context.Context, tokenHash string, _ uuid.UUID) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, tokenHash)
	return nil
}

func (m *MockCache) DeleteAllUserSessions(_ context.Context, userID uuid.UUID) error {
	if m.DeleteAllSessionsErr != nil {
		return m.DeleteAllSessionsErr
	}
	m.mu.Lock()
	for key, s := range m.Sessions {
		if s.UserID == userID {
			delete(m.Sessions, key)
		}
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached sessions.
func (m *MockCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sessions)
}
