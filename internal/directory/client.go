package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"presenceboard/pkg/types"
)

// Config holds the connection settings for the external identity/directory
// service. The service speaks a Supabase-shaped API: bearer-token session
// verification under /auth/v1 and a PostgREST profile table under /rest/v1.
type Config struct {
	BaseURL        string
	AnonKey        string
	ServiceKey     string
	VerifyTimeout  time.Duration
	ProfileTimeout time.Duration
}

// Client implements interfaces.TokenVerifier and interfaces.ProfileDirectory
// against the external service. A zero BaseURL yields a client whose calls
// all fail with ErrNotConfigured; callers treat that as auth failure or
// missing enrichment data respectively.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a directory client. Timeouts left at zero get the
// standard budgets (10s verify, 15s profile fetch).
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 10 * time.Second
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
	}
}

// Configured reports whether the client has a base URL and at least one
// credential to present.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && (c.cfg.AnonKey != "" || c.cfg.ServiceKey != "")
}

// userPayload is the subset of the identity provider's user object we need.
type userPayload struct {
	ID string `json:"id"`
}

// VerifyToken validates a session token and returns the user ID it belongs
// to. Every failure mode (unconfigured, non-200, timeout, malformed body)
// is an error; the caller reports them all as "Invalid token".
func (c *Client) VerifyToken(ctx context.Context, token string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.VerifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", c.apiKey())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ErrInvalidToken
	}

	var user userPayload
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("failed to decode user payload: %w", err)
	}
	if user.ID == "" {
		return "", ErrInvalidToken
	}

	return user.ID, nil
}

// profileRow mirrors one row of the profiles table, including the embedded
// teachers relation carrying the designation.
type profileRow struct {
	UserID     string          `json:"user_id"`
	FullName   *string         `json:"full_name"`
	Department *string         `json:"department"`
	Role       *string         `json:"role"`
	Teachers   json.RawMessage `json:"teachers"`
}

// Profiles batch-fetches profiles for the given identities. A failed or
// unconfigured lookup returns an error and no data; callers fall back to
// cached values. Profile fetching requires the service key.
func (c *Client) Profiles(ctx context.Context, userIDs []string) (map[string]types.Profile, error) {
	if len(userIDs) == 0 {
		return map[string]types.Profile{}, nil
	}
	if c.cfg.BaseURL == "" || c.cfg.ServiceKey == "" {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProfileTimeout)
	defer cancel()

	quoted := make([]string, len(userIDs))
	for i, id := range userIDs {
		quoted[i] = `"` + id + `"`
	}
	query := url.Values{}
	query.Set("user_id", "in.("+strings.Join(quoted, ",")+")")
	query.Set("select", "user_id,full_name,department,role,teachers(designation)")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/rest/v1/profiles?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profiles request: %w", err)
	}
	req.Header.Set("apikey", c.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("profiles batch fetch failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var rows []profileRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode profiles payload: %w", err)
	}

	profiles := make(map[string]types.Profile, len(rows))
	for _, row := range rows {
		if row.UserID == "" {
			continue
		}

		profile := types.Profile{
			UserID:      row.UserID,
			FullName:    "Teacher",
			Department:  row.Department,
			Designation: parseDesignation(row.Teachers),
		}
		if row.FullName != nil && *row.FullName != "" {
			profile.FullName = *row.FullName
		}
		if row.Role != nil {
			profile.Role = *row.Role
		}

		profiles[row.UserID] = profile
	}

	return profiles, nil
}

// parseDesignation extracts the designation from the embedded teachers
// relation, which PostgREST emits as either an array of rows or a single
// object depending on the declared relationship.
func parseDesignation(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}

	var list []struct {
		Designation *string `json:"designation"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			return list[0].Designation
		}
		return nil
	}

	var single struct {
		Designation *string `json:"designation"`
	}
	if err := json.Unmarshal(raw, &single); err == nil {
		return single.Designation
	}

	return nil
}

// apiKey returns the key presented on verify calls, preferring the anon key
// the way browser clients would.
func (c *Client) apiKey() string {
	if c.cfg.AnonKey != "" {
		return c.cfg.AnonKey
	}
	return c.cfg.ServiceKey
}
