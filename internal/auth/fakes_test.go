package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/mobilbff/internal/model"
	"github.com/hitoshi/mobilbff/internal/repository"
	"github.com/hitoshi/mobilbff/internal/woocommerce"
	"github.com/hitoshi/mobilbff/internal/wordpress"
)

// --- モック定義 ---

type mockIdP struct {
	authenticateFn func(ctx context.Context, identifier, password string) (*wordpress.TokenResult, error)
	fetchProfileFn func(ctx context.Context, token string) (*wordpress.Profile, error)
	authCalls      int
	profileCalls   int
}

func (m *mockIdP) Authenticate(ctx context.Context, identifier, password string) (*wordpress.TokenResult, error) {
	m.authCalls++
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, identifier, password)
	}
	return &wordpress.TokenResult{Token: "wp-token", Email: identifier}, nil
}

func (m *mockIdP) FetchProfile(ctx context.Context, token string) (*wordpress.Profile, error) {
	m.profileCalls++
	if m.fetchProfileFn != nil {
		return m.fetchProfileFn(ctx, token)
	}
	return nil, &wordpress.Error{StatusCode: 404, Code: "rest_no_route"}
}

type mockCommerce struct {
	createFn func(ctx context.Context, in woocommerce.CustomerInput) (*woocommerce.Customer, error)
	calls    []woocommerce.CustomerInput
}

func (m *mockCommerce) CreateCustomer(ctx context.Context, in woocommerce.CustomerInput) (*woocommerce.Customer, error) {
	m.calls = append(m.calls, in)
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &woocommerce.Customer{ID: 1, Email: in.Email}, nil
}

type mockMetrics struct {
	logins        []string
	registrations []string
	issued        int
	fallbacks     int
}

func (m *mockMetrics) RecordLogin(outcome string) { m.logins = append(m.logins, outcome) }
func (m *mockMetrics) RecordRegistration(outcome string) {
	m.registrations = append(m.registrations, outcome)
}
func (m *mockMetrics) RecordSessionIssued(bool) { m.issued++ }
func (m *mockMetrics) RecordProfileFallback() { m.fallbacks++ }
func (m *mockMetrics) RecordProviderLatency(string, string, time.Duration) {}
func (m *mockMetrics) RecordHTTPStatus(int) {}
func (m *mockMetrics) RecordSessionsPurged(int64) {}

// --- インメモリストア ---

// memState はストアの内容。トランザクションごとに複製し、成功時のみ差し替える。
type memState struct {
	accounts   map[int64]model.Account
	identities map[int64]model.IdentityMapping
	sessions   map[string]model.Session
	nextID     int64
}

func (s *memState) clone() *memState {
	c := &memState{
		accounts:   make(map[int64]model.Account, len(s.accounts)),
		identities: make(map[int64]model.IdentityMapping, len(s.identities)),
		sessions:   make(map[string]model.Session, len(s.sessions)),
		nextID:     s.nextID,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

// memStore はrepository.Transactorのインメモリ実装。
// fail*に値を設定すると対応する操作がそのエラーを返す。
type memStore struct {
	mu    sync.Mutex
	state *memState

	failRefresh        error
	failIdentityUpsert error
	failSessionCreate  error
	failFind           error

	txCount int
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		accounts:   map[int64]model.Account{},
		identities: map[int64]model.IdentityMapping{},
		sessions:   map[string]model.Session{},
		nextID:     1,
	}}
}

func (m *memStore) WithinTx(_ context.Context, fn func(repos repository.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	work := m.state.clone()
	if err := fn(m.reposFor(work)); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) Repositories() repository.Repositories {
	return m.reposFor(m.state)
}

func (m *memStore) reposFor(st *memState) repository.Repositories {
	return repository.Repositories{
		Accounts:   &memAccounts{store: m, st: st},
		Identities: &memIdentities{store: m, st: st},
		Sessions:   &memSessions{store: m, st: st},
	}
}

// seedAccount はアカウントを直接登録する。
func (m *memStore) seedAccount(a model.Account) model.Account {
	a.ID = m.state.nextID
	m.state.nextID++
	m.state.accounts[a.ID] = a
	return a
}

func (m *memStore) accountCount() int { return len(m.state.accounts) }

func (m *memStore) accountByEmail(email string) (model.Account, bool) {
	for _, a := range m.state.accounts {
		if a.Email == email {
			return a, true
		}
	}
	return model.Account{}, false
}

type memAccounts struct {
	store *memStore
	st    *memState
}

func (r *memAccounts) FindByID(_ context.Context, id int64) (*model.Account, error) {
	if r.store.failFind != nil {
		return nil, r.store.failFind
	}
	a, ok := r.st.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *memAccounts) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	for _, a := range r.st.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *memAccounts) RefreshByEmail(_ context.Context, email, name string, role model.Role) (*model.Account, error) {
	if r.store.failRefresh != nil {
		return nil, r.store.failRefresh
	}
	for id, a := range r.st.accounts {
		if a.Email != email {
			continue
		}
		if name != "" {
			a.Name = name
		}
		if role != "" {
			a.Role = role
		}
		a.IsActive = true
		r.st.accounts[id] = a
		return &a, nil
	}
	return nil, nil
}

func (r *memAccounts) Insert(ctx context.Context, account *model.Account) (*model.Account, error) {
	if existing, _ := r.RefreshByEmail(ctx, account.Email, account.Name, account.Role); existing != nil {
		return existing, nil
	}
	a := *account
	a.ID = r.st.nextID
	r.st.nextID++
	r.st.accounts[a.ID] = a
	return &a, nil
}

type memIdentities struct {
	store *memStore
	st    *memState
}

func (r *memIdentities) Upsert(_ context.Context, mapping *model.IdentityMapping) error {
	if r.store.failIdentityUpsert != nil {
		return r.store.failIdentityUpsert
	}
	m := *mapping
	m.IsActive = true
	r.st.identities[m.ExternalUserID] = m
	return nil
}

func (r *memIdentities) FindByExternalUserID(_ context.Context, externalUserID int64) (*model.IdentityMapping, error) {
	m, ok := r.st.identities[externalUserID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *memIdentities) FindActiveByAccountID(_ context.Context, accountID int64) (*model.IdentityMapping, error) {
	var found *model.IdentityMapping
	for _, m := range r.st.identities {
		if m.AccountID != accountID || !m.IsActive {
			continue
		}
		if found == nil || m.LinkedAt.After(found.LinkedAt) {
			m := m
			found = &m
		}
	}
	return found, nil
}

type memSessions struct {
	store *memStore
	st    *memState
}

func (r *memSessions) Create(_ context.Context, session *model.Session) error {
	if r.store.failSessionCreate != nil {
		return r.store.failSessionCreate
	}
	if _, exists := r.st.sessions[session.Token]; exists {
		return errors.Join(repository.ErrConflict, errors.New("duplicate token"))
	}
	r.st.sessions[session.Token] = *session
	return nil
}

func (r *memSessions) FindByToken(_ context.Context, token string) (*model.Session, error) {
	if r.store.failFind != nil {
		return nil, r.store.failFind
	}
	s, ok := r.st.sessions[token]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memSessions) DeleteByToken(_ context.Context, token string) error {
	delete(r.st.sessions, token)
	return nil
}

func (r *memSessions) DeleteExpiredBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for k, s := range r.st.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.st.sessions, k)
			n++
		}
	}
	return n, nil
}
