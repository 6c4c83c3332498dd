// services/twitter_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// TwitterClient reads follow and repost lists through RapidAPI and
// resolves users and OAuth2 tokens through the X API v2.
type TwitterClient struct {
	RapidAPIKey  string
	RapidAPIBase string
	APIBase      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

type rapidFollowing struct {
	Results []struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
	} `json:"results"`
}

type rapidTweets struct {
	Results []struct {
		TweetID        string  `json:"tweet_id"`
		RetweetTweetID *string `json:"retweet_tweet_id"`
	} `json:"results"`
}

func (c *TwitterClient) Follows(ctx context.Context, platformUserID, targetID string) (bool, error) {
	var resp rapidFollowing
	if err := c.rapidGet(ctx, "/user/following", platformUserID, &resp); err != nil {
		return false, err
	}
	for _, f := range resp.Results {
		if f.UserID == targetID {
			return true, nil
		}
	}
	return false, nil
}

func (c *TwitterClient) Reposted(ctx context.Context, platformUserID, tweetID string) (bool, error) {
	var resp rapidTweets
	if err := c.rapidGet(ctx, "/user/tweets", platformUserID, &resp); err != nil {
		return false, err
	}
	for _, t := range resp.Results {
		if t.RetweetTweetID != nil && *t.RetweetTweetID == tweetID {
			return true, nil
		}
	}
	return false, nil
}

func (c *TwitterClient) rapidGet(ctx context.Context, endpoint, userID string, out any) error {
	u, err := url.Parse(c.RapidAPIBase + endpoint)
	if err != nil {
		return fmt.Errorf("failed to parse rapidapi URL: %w", err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", c.RapidAPIKey)
	req.Header.Set("X-RapidAPI-Host", u.Host)

	return c.do(req, endpoint, out)
}

func (c *TwitterClient) UserIDByUsername(ctx context.Context, accessToken, username string) (string, error) {
	endpoint := "/2/users/by/username/" + url.PathEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBase+endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var resp struct {
		Data *struct {
			ID string `json:"id"`
		} `json:"data"`
		Errors []json.RawMessage `json:"errors"`
	}
	if err := c.do(req, endpoint, &resp); err != nil {
		return "", err
	}
	if len(resp.Errors) > 0 || resp.Data == nil || resp.Data.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrSocialUserNotFound, username)
	}
	return resp.Data.ID, nil
}

func (c *TwitterClient) RefreshToken(ctx context.Context, refreshToken string) (*OAuthToken, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.ClientID)

	endpoint := "/2/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.ClientID, c.ClientSecret)

	var token OAuthToken
	if err := c.do(req, endpoint, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("refresh token: empty access token")
	}
	return &token, nil
}

func (c *TwitterClient) do(req *http.Request, endpoint string, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Logger.Error("[TWITTER] request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("failed to call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.Logger.Error("[TWITTER] unexpected status",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
