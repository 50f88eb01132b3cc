package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/evanmoreau/loginshield/internal/models"
	pkgauth "github.com/evanmoreau/loginshield/pkg/auth"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// The plaintext behind every test user's password hash. Hashed once,
// bcrypt is too slow to run per test.
const testPassword = "Str0ng!Passw0rd"

var (
	testHashOnce sync.Once
	testHash     string
)

func testPasswordHash() string {
	testHashOnce.Do(func() {
		hash, err := pkgauth.HashPassword(testPassword)
		if err != nil {
			panic(err)
		}
		testHash = hash
	})
	return testHash
}

func newTestUser(id, email string) *models.User {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: testPasswordHash(),
		Name:         "Test User",
		Role:         "user",
		Status:       "active",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MockUserRepository implements UserRepository with pluggable behavior
type MockUserRepository struct {
	CreateFunc     func(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	UpdateFunc     func(ctx context.Context, id string, user *models.User) (*models.User, error)
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return user, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Update(ctx context.Context, id string, user *models.User) (*models.User, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, user)
	}
	return user, nil
}

// MockLocationStore implements LoginLocationStore and records appends
type MockLocationStore struct {
	mu           sync.Mutex
	Appended     []*models.LoginLocationEvent
	AppendErr    error
	ListByUserFn func(ctx context.Context, userID string, limit int) ([]models.LoginLocationEvent, error)
	ListUnusualF func(ctx context.Context, since time.Time, limit int) ([]models.LoginLocationEvent, error)
}

func (m *MockLocationStore) Append(ctx context.Context, event *models.LoginLocationEvent) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Seq = int64(len(m.Appended) + 1)
	m.Appended = append(m.Appended, event)
	return nil
}

func (m *MockLocationStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.LoginLocationEvent, error) {
	if m.ListByUserFn != nil {
		return m.ListByUserFn(ctx, userID, limit)
	}
	return nil, nil
}

func (m *MockLocationStore) ListUnusual(ctx context.Context, since time.Time, limit int) ([]models.LoginLocationEvent, error) {
	if m.ListUnusualF != nil {
		return m.ListUnusualF(ctx, since, limit)
	}
	return nil, nil
}

// MockResolver implements LocationResolver with a pluggable lookup and
// the real distance formula.
type MockResolver struct {
	GetLocationFunc func(ctx context.Context, ip string) (*models.GeoLocation, error)
}

func (m *MockResolver) GetLocation(ctx context.Context, ip string) (*models.GeoLocation, error) {
	if m.GetLocationFunc != nil {
		return m.GetLocationFunc(ctx, ip)
	}
	return nil, models.ErrGeoLookupFailed
}

func (m *MockResolver) CalculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return haversineKm(lat1, lon1, lat2, lon2)
}

// MockGeoProvider implements GeoProvider and counts lookups
type MockGeoProvider struct {
	mu         sync.Mutex
	LookupFunc func(ctx context.Context, ip string) (*models.GeoLocation, error)
	Calls      int
}

func (m *MockGeoProvider) Lookup(ctx context.Context, ip string) (*models.GeoLocation, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, ip)
	}
	return nil, models.ErrGeoLookupFailed
}

func (m *MockGeoProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// MockEventRepo implements repositories.SecurityEventRepository and
// records created events.
type MockEventRepo struct {
	mu          sync.Mutex
	Created     []*models.SecurityEvent
	CreateErr   error
	ListRecentF func(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error)
	ListEmailF  func(ctx context.Context, email string, limit, offset int) ([]*models.SecurityEvent, error)
	DeleteF     func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockEventRepo) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Created = append(m.Created, event)
	return event, nil
}

func (m *MockEventRepo) ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListRecentF != nil {
		return m.ListRecentF(ctx, limit, offset)
	}
	return nil, nil
}

func (m *MockEventRepo) ListByEmail(ctx context.Context, email string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListEmailF != nil {
		return m.ListEmailF(ctx, email, limit, offset)
	}
	return nil, nil
}

func (m *MockEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteF != nil {
		return m.DeleteF(ctx, cutoff)
	}
	return 0, nil
}

// EventTypes returns the recorded event types in creation order
func (m *MockEventRepo) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.Created))
	for i, ev := range m.Created {
		types[i] = ev.EventType
	}
	return types
}

// MockSender implements NoticeSender and records deliveries
type MockSender struct {
	mu      sync.Mutex
	channel string
	SendErr error
	FailN   int
	Sent    []Notice
}

func (m *MockSender) Channel() string { return m.channel }

// Send fails the first FailN attempts with SendErr, then succeeds
func (m *MockSender) Send(ctx context.Context, notice Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailN > 0 {
		m.FailN--
		return m.SendErr
	}
	m.Sent = append(m.Sent, notice)
	return nil
}

func (m *MockSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// lockoutAlert captures one NotifyLockout call
type lockoutAlert struct {
	identifier  string
	ipAddress   string
	lockedUntil time.Time
}

// recordingLockoutNotifier implements LockoutNotifier
type recordingLockoutNotifier struct {
	mu     sync.Mutex
	alerts []lockoutAlert
}

func (r *recordingLockoutNotifier) NotifyLockout(identifier, ipAddress string, lockedUntil time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, lockoutAlert{identifier, ipAddress, lockedUntil})
}

func (r *recordingLockoutNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}
