// Package account implements the register/login collaborator
// (SPEC_FULL.md §6.1 [ADD]): bcrypt-hashed credentials and a plan
// assignment, both stored in the shared KV store. The core gateway
// pipeline never imports this package — it only ever sees a principal
// string, matching PURPOSE's "shallow collaborator" framing.
package account

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/froggu-tantei/apigateway/auth"
	"github.com/froggu-tantei/apigateway/kvstore"
	"github.com/froggu-tantei/apigateway/plans"
)

// credentialTTL matches spec.md §6.2's 86400s refresh TTL for
// credential and plan-assignment keys.
const credentialTTL = 86400 * time.Second

// defaultPlan is assigned to every newly registered account.
const defaultPlan = "basic"

// ErrUserExists is returned by Register when the username is taken.
type ErrUserExists struct {
	Username string
}

func (e ErrUserExists) Error() string {
	return fmt.Sprintf("account: user %q already exists", e.Username)
}

// ErrInvalidCredentials is returned by Login on a bad username/password.
var ErrInvalidCredentials = fmt.Errorf("account: invalid credentials")

// Service implements registration and login against the KV store.
type Service struct {
	store kvstore.Store
	plans *plans.Registry
}

// New builds a Service over store. registry is used only to validate
// plan-change requests elsewhere; account creation always assigns basic.
func New(store kvstore.Store, registry *plans.Registry) *Service {
	return &Service{store: store, plans: registry}
}

// Register creates a new account: bcrypt-hashes the password, stores it
// at user:<name>:password, and defaults the plan to basic at
// user:<name>:plan. Fails with ErrUserExists if the username is taken.
func (s *Service) Register(ctx context.Context, username, password string) error {
	key := credentialKey(username)
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("account: check existing user: %w", err)
	}
	if exists {
		return ErrUserExists{Username: username}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("account: hash password: %w", err)
	}

	if err := s.store.Set(ctx, key, string(hash), credentialTTL); err != nil {
		return fmt.Errorf("account: store credential: %w", err)
	}
	if err := s.store.Set(ctx, planKey(username), defaultPlan, credentialTTL); err != nil {
		return fmt.Errorf("account: store plan assignment: %w", err)
	}
	return nil
}

// Login verifies username/password and mints a JWT carrying the
// principal. The principal is the username itself — the account
// subsystem has no separate numeric id.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	hash, err := s.store.Get(ctx, credentialKey(username))
	if err == kvstore.ErrNotFound {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("account: read credential: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(username, username)
	if err != nil {
		return "", fmt.Errorf("account: mint token: %w", err)
	}
	return token, nil
}

// Plan returns the account's currently assigned plan name, defaulting
// to basic if none is stored — mirrors the gateway pipeline's own
// resolution rule in SPEC_FULL.md §4.6 step 3.
func (s *Service) Plan(ctx context.Context, username string) (string, error) {
	name, err := s.store.Get(ctx, planKey(username))
	if err == kvstore.ErrNotFound {
		return defaultPlan, nil
	}
	if err != nil {
		return "", fmt.Errorf("account: read plan: %w", err)
	}
	return name, nil
}

// SetPlan changes the account's plan assignment. Fails if name isn't a
// registered plan.
func (s *Service) SetPlan(ctx context.Context, username, name string) error {
	if _, err := s.plans.Lookup(name); err != nil {
		return err
	}
	if err := s.store.Set(ctx, planKey(username), name, credentialTTL); err != nil {
		return fmt.Errorf("account: store plan assignment: %w", err)
	}
	return nil
}

func credentialKey(username string) string {
	return fmt.Sprintf("user:%s:password", username)
}

func planKey(username string) string {
	return fmt.Sprintf("user:%s:plan", username)
}
