package accounts

import (
	"sync"
)

// StateEvent is broadcast on every login-state transition.
type StateEvent struct {
	AccountID string
	State     LoginState
}

// Account owns one account's provider and login state. State writes are
// whole-value replacements published to subscribers.
type Account struct {
	id string

	mu       sync.RWMutex
	desc     ProviderDescription
	provider *Provider
	state    LoginState

	subMu sync.Mutex
	subs  map[int]chan StateEvent
	next  int
}

func NewAccount(desc ProviderDescription) *Account {
	return &Account{
		id:    desc.ID,
		desc:  desc,
		state: NotLoggedIn{},
		subs:  map[int]chan StateEvent{},
	}
}

func (a *Account) ID() string { return a.id }

func (a *Account) Description() ProviderDescription {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.desc
}

func (a *Account) Provider() *Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.provider
}

// SetProvider replaces the resolved provider wholesale.
func (a *Account) SetProvider(p *Provider) {
	a.mu.Lock()
	a.provider = p
	a.mu.Unlock()
}

func (a *Account) State() LoginState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Account) SetState(s LoginState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.publish(StateEvent{AccountID: a.id, State: s})
}

// Credentials returns the current credentials when logged in.
func (a *Account) Credentials() (Credentials, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if st, ok := a.state.(LoggedIn); ok {
		return st.Credentials, true
	}
	return nil, false
}

func (a *Account) Subscribe() (<-chan StateEvent, func()) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	id := a.next
	a.next++
	ch := make(chan StateEvent, 16)
	a.subs[id] = ch
	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if c, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(c)
		}
	}
}

func (a *Account) publish(ev StateEvent) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Store holds all configured accounts.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewStore(descs []ProviderDescription) *Store {
	s := &Store{accounts: map[string]*Account{}}
	for _, d := range descs {
		s.accounts[d.ID] = NewAccount(d)
	}
	return s
}

func (s *Store) Account(id string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	return a, ok
}

func (s *Store) Accounts() []*Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out
}
