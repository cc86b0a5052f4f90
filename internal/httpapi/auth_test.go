package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"condicional/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateSellerStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	seller, err := manager.CreateSeller(domain.SellerCreateRequest{
		Username: "vendedora",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create seller failed: %v", err)
	}
	if seller.Username != "vendedora" {
		t.Fatalf("unexpected username %s", seller.Username)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "vendedora" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected seller to be saved")
	}
	if found.Password == "pass1234" {
		t.Fatalf("expected seller password to be hashed")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	_, err = manager.Login(domain.LoginRequest{
		Username: "vendedora",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("login with hashed seller failed: %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	managerA := NewAuthManager("secret-a", time.Hour, store)
	managerB := NewAuthManager("secret-b", time.Hour, store)

	token, err := managerA.sign("seller", "seller", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := managerB.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}

	actor, err := managerA.ParseToken(token)
	if err != nil {
		t.Fatalf("parse with owning secret failed: %v", err)
	}
	if actor.Username != "seller" || actor.Role != "seller" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}
