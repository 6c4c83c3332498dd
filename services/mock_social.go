// services/mock_social.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const (
	MockAccessToken  = "mockAccessToken"
	MockRefreshToken = "mockRefreshToken"
)

// MockSocial is the SOCIAL_BACKEND=mock verifier. Follow and repost sets are
// keyed by platform user id and can be changed while the service runs.
type MockSocial struct {
	mu        sync.RWMutex
	follows   map[string]map[string]bool
	reposts   map[string]map[string]bool
	usernames map[string]string
	errs      map[string]error
}

func NewMockSocial() *MockSocial {
	return &MockSocial{
		follows:   map[string]map[string]bool{},
		reposts:   map[string]map[string]bool{},
		usernames: map[string]string{},
		errs:      map[string]error{},
	}
}

func (m *MockSocial) SetFollow(user, target string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.follows[user] == nil {
		m.follows[user] = map[string]bool{}
	}
	m.follows[user][target] = on
}

func (m *MockSocial) SetRepost(user, tweetID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reposts[user] == nil {
		m.reposts[user] = map[string]bool{}
	}
	m.reposts[user][tweetID] = on
}

func (m *MockSocial) SetUsername(username, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usernames[strings.ToLower(username)] = id
}

// FailFor makes every membership query for user return err; nil clears it.
func (m *MockSocial) FailFor(user string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, user)
		return
	}
	m.errs[user] = err
}

func (m *MockSocial) Follows(_ context.Context, user, target string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errs[user]; err != nil {
		return false, err
	}
	return m.follows[user][target], nil
}

func (m *MockSocial) Reposted(_ context.Context, user, tweetID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errs[user]; err != nil {
		return false, err
	}
	return m.reposts[user][tweetID], nil
}

func (m *MockSocial) UserIDByUsername(_ context.Context, _, username string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.usernames[strings.ToLower(username)]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSocialUserNotFound, username)
}

func (m *MockSocial) RefreshToken(_ context.Context, refreshToken string) (*OAuthToken, error) {
	if !strings.HasPrefix(refreshToken, MockRefreshToken) {
		return nil, fmt.Errorf("invalid refresh token")
	}
	return &OAuthToken{
		AccessToken:  MockAccessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    3600,
	}, nil
}
