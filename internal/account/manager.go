// Package account manages the lifecycle of remote tracker accounts.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	gojira "github.com/andygrunwald/go-jira"
	"github.com/google/uuid"

	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/jira"
	"github.com/JohanCodinha/jtime/internal/logger"
)

var (
	// ErrVerificationFailed is returned when the remote rejects new credentials.
	ErrVerificationFailed = errors.New("account verification failed")
	// ErrInvalidInstance is returned for instance URLs that cannot be parsed.
	ErrInvalidInstance = errors.New("invalid instance url")
)

// Verifier checks credentials against the remote.
type Verifier interface {
	Myself(ctx context.Context) (*gojira.User, error)
}

// Manager adds, selects and removes accounts.
type Manager struct {
	cache    *cache.DB
	verifier Verifier
	newID    func() string
}

// NewManager creates a Manager.
func NewManager(cacheDB *cache.DB, verifier Verifier) *Manager {
	return &Manager{
		cache:    cacheDB,
		verifier: verifier,
		newID:    func() string { return uuid.NewString() },
	}
}

// NormalizeInstanceURL prefixes https:// when no scheme is given and trims
// trailing slashes.
func NormalizeInstanceURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidInstance)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	s = strings.TrimRight(s, "/")

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInstance, err)
	}
	if u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", fmt.Errorf("%w: %q", ErrInvalidInstance, raw)
	}
	return s, nil
}

// Add verifies the credentials and stores the account as the only active one.
// Adding an instance/username pair that already exists refreshes its token
// and keeps its id, so its issues and worklogs survive.
func (m *Manager) Add(ctx context.Context, instanceURL, username, token string) (*cache.Account, error) {
	instance, err := NormalizeInstanceURL(instanceURL)
	if err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)

	vctx := jira.WithAccount(ctx, jira.Credentials{InstanceURL: instance, Username: username, Token: token})
	user, err := m.verifier.Myself(vctx)
	if err != nil {
		logger.Warn("account: verification failed", "instance", instance, "username", username, "token", logger.MaskSecret(token), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	logger.Debug("account: verified", "instance", instance, "display_name", user.DisplayName)

	existing, err := m.find(ctx, instance, username)
	if err != nil {
		return nil, err
	}

	acct := cache.Account{
		ID:          m.newID(),
		InstanceURL: instance,
		Username:    username,
		Token:       token,
		Active:      true,
	}
	if existing != nil {
		acct.ID = existing.ID
	}

	err = m.cache.Update(ctx, func(tx *cache.Tx) error {
		if err := tx.ClearActiveAccounts(); err != nil {
			return err
		}
		return tx.InsertAccount(acct)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}

	logger.Info("account: added", "account", acct.ID, "instance", instance, "username", username)
	return &acct, nil
}

func (m *Manager) find(ctx context.Context, instance, username string) (*cache.Account, error) {
	accounts, err := m.cache.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, a := range accounts {
		if a.InstanceURL == instance && strings.EqualFold(a.Username, username) {
			return &a, nil
		}
	}
	return nil, nil
}

// List returns every account, active first.
func (m *Manager) List(ctx context.Context) ([]cache.Account, error) {
	return m.cache.ListAccounts(ctx)
}

// Active returns the active account, or nil when logged out.
func (m *Manager) Active(ctx context.Context) (*cache.Account, error) {
	return m.cache.ActiveAccount(ctx)
}

// Resolve finds an account by id, id prefix or username.
func (m *Manager) Resolve(ctx context.Context, ref string) (*cache.Account, error) {
	accounts, err := m.cache.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var matches []cache.Account
	for _, a := range accounts {
		if a.ID == ref {
			return &a, nil
		}
		if strings.HasPrefix(a.ID, ref) || strings.EqualFold(a.Username, ref) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("account %q: %w", ref, cache.ErrNotFound)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("account %q is ambiguous (%d matches)", ref, len(matches))
	}
}

// Select makes ref the only active account.
func (m *Manager) Select(ctx context.Context, ref string) (*cache.Account, error) {
	acct, err := m.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := m.cache.Update(ctx, func(tx *cache.Tx) error {
		return tx.SelectAccount(acct.ID)
	}); err != nil {
		return nil, fmt.Errorf("failed to select account: %w", err)
	}
	acct.Active = true
	logger.Info("account: selected", "account", acct.ID)
	return acct, nil
}

// Logout deselects every account.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.cache.Update(ctx, func(tx *cache.Tx) error {
		return tx.ClearActiveAccounts()
	}); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	logger.Info("account: logged out")
	return nil
}

// Remove deletes an account with all of its issues and worklogs. Removing
// the active account leaves nobody logged in.
func (m *Manager) Remove(ctx context.Context, ref string) (*cache.Account, error) {
	acct, err := m.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := m.cache.Update(ctx, func(tx *cache.Tx) error {
		return tx.DeleteAccount(acct.ID)
	}); err != nil {
		return nil, fmt.Errorf("failed to remove account: %w", err)
	}
	logger.Info("account: removed", "account", acct.ID, "was_active", acct.Active)
	return acct, nil
}
