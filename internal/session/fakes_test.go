package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/profiles"
)

type fakeProvider struct {
	mu          sync.Mutex
	session     *auth.Session
	sessionErr  error
	sessionGate chan struct{}
	user        *auth.User
	userErr     error

	handler      auth.EventHandler
	subscribed   chan struct{}
	unsubscribed bool

	signInErr      error
	signOutErr     error
	resendErr      error
	verifyErr      error
	signInOptions  []auth.OAuthOptions
	resendRequests []auth.ResendRequest
	verifyRequests []auth.VerifyRequest
	userCalls      int
}

func newFakeProvider(session *auth.Session) *fakeProvider {
	return &fakeProvider{session: session, subscribed: make(chan struct{})}
}

func (p *fakeProvider) CurrentSession(ctx context.Context) (*auth.Session, error) {
	p.mu.Lock()
	gate := p.sessionGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.sessionErr
}

func (p *fakeProvider) Subscribe(_ context.Context, handler auth.EventHandler) auth.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
	close(p.subscribed)
	return subscriptionFunc(func() {
		p.mu.Lock()
		p.unsubscribed = true
		p.mu.Unlock()
	})
}

func (p *fakeProvider) SignInWithOAuth(_ context.Context, provider string, options auth.OAuthOptions) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signInOptions = append(p.signInOptions, options)
	if p.signInErr != nil {
		return "", p.signInErr
	}
	return "https://accounts.example.com/authorize?provider=" + provider, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signOutErr != nil {
		return p.signOutErr
	}
	p.session = nil
	return nil
}

func (p *fakeProvider) ResendConfirmation(_ context.Context, request auth.ResendRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resendRequests = append(p.resendRequests, request)
	return p.resendErr
}

func (p *fakeProvider) VerifyConfirmationToken(_ context.Context, request auth.VerifyRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyRequests = append(p.verifyRequests, request)
	return p.verifyErr
}

func (p *fakeProvider) CurrentUser(context.Context) (*auth.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userCalls++
	if p.userErr != nil {
		return nil, p.userErr
	}
	if p.user != nil {
		return p.user, nil
	}
	if p.session != nil && p.session.User != nil {
		return p.session.User, nil
	}
	return nil, auth.ErrNoSession
}

func (p *fakeProvider) emit(event auth.Event) {
	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	handler(event)
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeProvider) currentUserCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userCalls
}

type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }

type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]profiles.Profile
	findGate   chan struct{}
	afterRead  func()
	findErr    error
	missNext   int
	insertErr  error
	updateErr  error
	inserts    int
	updates    int
	nicknameQs int
	now        time.Time
}

func newFakeStore(rows ...profiles.Profile) *fakeStore {
	store := &fakeStore{
		rows: make(map[string]profiles.Profile),
		now:  time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	for _, row := range rows {
		store.rows[row.ID] = row
	}
	return store
}

func (s *fakeStore) FindByID(_ context.Context, id string) (profiles.Profile, error) {
	s.mu.Lock()
	gate := s.findGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	row, err := s.readRow(id)
	s.mu.Lock()
	afterRead := s.afterRead
	s.mu.Unlock()
	if afterRead != nil {
		afterRead()
	}
	return row, err
}

func (s *fakeStore) readRow(id string) (profiles.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return profiles.Profile{}, s.findErr
	}
	if s.missNext > 0 {
		s.missNext--
		return profiles.Profile{}, profiles.ErrNotFound
	}
	row, ok := s.rows[id]
	if !ok {
		return profiles.Profile{}, profiles.ErrNotFound
	}
	return row, nil
}

func (s *fakeStore) FindByNickname(_ context.Context, nickname string) (profiles.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nicknameQs++
	for _, row := range s.rows {
		if row.Nickname == nickname {
			return row, nil
		}
	}
	return profiles.Profile{}, profiles.ErrNotFound
}

func (s *fakeStore) Insert(_ context.Context, draft profiles.Draft) (profiles.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.insertErr != nil {
		return profiles.Profile{}, s.insertErr
	}
	if _, exists := s.rows[draft.ID]; exists {
		return profiles.Profile{}, fmt.Errorf("%w: id %s", profiles.ErrConflict, draft.ID)
	}
	for _, row := range s.rows {
		if row.Nickname == draft.Nickname {
			return profiles.Profile{}, fmt.Errorf("%w: nickname %s", profiles.ErrConflict, draft.Nickname)
		}
	}
	row := profiles.Profile{
		ID:               draft.ID,
		Email:            draft.Email,
		FullName:         draft.FullName,
		AvatarURL:        draft.AvatarURL,
		Nickname:         draft.Nickname,
		EmailConfirmed:   draft.EmailConfirmed,
		EmailConfirmedAt: draft.EmailConfirmedAt,
		CreatedAt:        s.now,
		UpdatedAt:        s.now,
	}
	s.rows[row.ID] = row
	return row, nil
}

func (s *fakeStore) UpdateByID(_ context.Context, id string, update profiles.Update) (profiles.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return profiles.Profile{}, s.updateErr
	}
	row, ok := s.rows[id]
	if !ok {
		return profiles.Profile{}, profiles.ErrNotFound
	}
	if update.Nickname != nil {
		for otherID, other := range s.rows {
			if otherID != id && other.Nickname == *update.Nickname {
				return profiles.Profile{}, fmt.Errorf("%w: nickname %s", profiles.ErrConflict, *update.Nickname)
			}
		}
		row.Nickname = *update.Nickname
	}
	if update.FullName != nil {
		row.FullName = update.FullName
	}
	if update.AvatarURL != nil {
		row.AvatarURL = update.AvatarURL
	}
	if update.EmailConfirmed != nil {
		row.EmailConfirmed = *update.EmailConfirmed
	}
	if update.EmailConfirmedAt != nil {
		stamp := *update.EmailConfirmedAt
		row.EmailConfirmedAt = &stamp
	}
	s.rows[id] = row
	return row, nil
}

func (s *fakeStore) set(fn func(s *fakeStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeStore) snapshot() (rows map[string]profiles.Profile, inserts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows = make(map[string]profiles.Profile, len(s.rows))
	for id, row := range s.rows {
		rows[id] = row
	}
	return rows, s.inserts
}

type fakeGenerator struct {
	mu    sync.Mutex
	names []string
	calls int
}

func newFakeGenerator(names ...string) *fakeGenerator {
	return &fakeGenerator{names: names}
}

func (g *fakeGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	index := g.calls
	if index >= len(g.names) {
		index = len(g.names) - 1
	}
	g.calls++
	return g.names[index]
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.WelcomeEmail
	err  error
}

func (n *fakeNotifier) SendWelcomeEmail(_ context.Context, email notify.WelcomeEmail) (notify.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, email)
	if n.err != nil {
		return notify.Receipt{}, n.err
	}
	return notify.Receipt{MessageID: "welcome-1"}, nil
}

func (n *fakeNotifier) messages() []notify.WelcomeEmail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.WelcomeEmail(nil), n.sent...)
}

type recordingMetrics struct {
	mu           sync.Mutex
	fetches      map[string]int
	provisioning map[string]int
	collisions   int
	detached     map[string]int
	events       map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		fetches:      make(map[string]int),
		provisioning: make(map[string]int),
		detached:     make(map[string]int),
		events:       make(map[string]int),
	}
}

func (m *recordingMetrics) RecordProfileFetch(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[outcome]++
}

func (m *recordingMetrics) RecordProvisioning(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provisioning[outcome]++
}

func (m *recordingMetrics) RecordNicknameCollision() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collisions++
}

func (m *recordingMetrics) RecordDetachedFailure(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detached[task]++
}

func (m *recordingMetrics) RecordAuthEvent(eventType string, reconciled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[fmt.Sprintf("%s/%t", eventType, reconciled)]++
}

func (m *recordingMetrics) fetchCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[outcome]
}

func (m *recordingMetrics) provisioningCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provisioning[outcome]
}

func (m *recordingMetrics) detachedCount(task string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detached[task]
}

func (m *recordingMetrics) eventCount(eventType auth.EventType, reconciled bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[fmt.Sprintf("%s/%t", eventType, reconciled)]
}
