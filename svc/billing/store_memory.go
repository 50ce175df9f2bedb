package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]User
	subscriptions map[uuid.UUID]Subscription
	freeQuota     int
	now           func() time.Time
}

// NewMemoryStore returns an empty store granting freeQuota optimizations to new users.
func NewMemoryStore(freeQuota int) *MemoryStore {
	return &MemoryStore{
		users:         make(map[uuid.UUID]User),
		subscriptions: make(map[uuid.UUID]Subscription),
		freeQuota:     freeQuota,
		now:           time.Now,
	}
}

// CreateUser inserts u, rejecting a duplicate email with ErrUserExists.
func (s *MemoryStore) CreateUser(_ context.Context, u User, opts ...UserOption) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range s.users {
		if existing.Email == email {
			return User{}, ErrUserExists
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = email
	u.PromptOptimizations = initialQuota(s.freeQuota, opts)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	s.users[u.ID] = u
	return u, nil
}

// Get returns the user with their subscription.
func (s *MemoryStore) Get(_ context.Context, userID uuid.UUID) (Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return Entitlement{}, ErrUserNotFound
	}
	ent := Entitlement{User: u}
	if sub, ok := s.subscriptions[userID]; ok {
		ent.Subscription = &sub
	}
	return ent, nil
}

// UserByEmail looks the user up by case-insensitive email.
func (s *MemoryStore) UserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

// UserByCustomerID looks the user up by billing customer reference.
func (s *MemoryStore) UserByCustomerID(_ context.Context, customerID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customerID == "" {
		return User{}, ErrUserNotFound
	}
	for _, u := range s.users {
		if u.CustomerID == customerID {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

// ClaimCustomerID sets the customer reference unless one is already stored.
func (s *MemoryStore) ClaimCustomerID(_ context.Context, userID uuid.UUID, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	if u.CustomerID != "" {
		return u.CustomerID, nil
	}
	u.CustomerID = customerID
	s.users[userID] = u
	return customerID, nil
}

// SubscriptionByProviderID returns the subscription mirroring the provider
// subscription, or nil when none does.
func (s *MemoryStore) SubscriptionByProviderID(_ context.Context, providerSubscriptionID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if providerSubscriptionID != "" && sub.ProviderSubscriptionID == providerSubscriptionID {
			return &sub, nil
		}
	}
	return nil, nil
}

// CreateTrial inserts sub unless the user already has a subscription.
func (s *MemoryStore) CreateTrial(_ context.Context, sub Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sub.UserID]; !ok {
		return false, ErrUserNotFound
	}
	if _, ok := s.subscriptions[sub.UserID]; ok {
		return false, nil
	}
	now := s.now().UTC()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.subscriptions[sub.UserID] = sub
	return true, nil
}

// Upsert creates or replaces the user's subscription, skipping writes from
// events older than the stored one.
func (s *MemoryStore) Upsert(_ context.Context, sub Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sub.UserID]; !ok {
		return false, ErrUserNotFound
	}

	now := s.now().UTC()
	existing, ok := s.subscriptions[sub.UserID]
	if ok {
		if !supersedes(existing, sub) {
			return false, nil
		}
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
		if sub.ProviderEventAt.IsZero() {
			sub.ProviderEventAt = existing.ProviderEventAt
		}
	} else {
		if sub.ID == uuid.Nil {
			sub.ID = uuid.New()
		}
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	s.subscriptions[sub.UserID] = sub
	return true, nil
}

// DecrementQuota takes one optimization from the user's quota.
func (s *MemoryStore) DecrementQuota(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if u.PromptOptimizations <= 0 {
		return 0, ErrQuotaExhausted
	}
	u.PromptOptimizations--
	s.users[userID] = u
	return u.PromptOptimizations, nil
}
