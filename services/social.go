// services/social.go
package services

import (
	"context"
	"errors"
	"regexp"
)

var ErrSocialUserNotFound = errors.New("social platform user not found")

// SocialVerifier answers membership questions against the social platform.
// Live and mock backends are injected at startup.
type SocialVerifier interface {
	Follows(ctx context.Context, platformUserID, targetID string) (bool, error)
	Reposted(ctx context.Context, platformUserID, tweetID string) (bool, error)
	UserIDByUsername(ctx context.Context, accessToken, username string) (string, error)
	RefreshToken(ctx context.Context, refreshToken string) (*OAuthToken, error)
}

type OAuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

var (
	profileURLPattern = regexp.MustCompile(`(?:x\.com|twitter\.com)/([^/?#]+)`)
	statusURLPattern  = regexp.MustCompile(`status/(\d+)`)
)

// ExtractUsername returns the handle from a profile URL such as https://x.com/solana.
func ExtractUsername(rawURL string) (string, bool) {
	m := profileURLPattern.FindStringSubmatch(rawURL)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// ExtractTweetID returns the numeric status id from a post URL.
func ExtractTweetID(rawURL string) (string, bool) {
	m := statusURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}
