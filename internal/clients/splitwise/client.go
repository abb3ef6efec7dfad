// Package splitwise provides a client for the Splitwise API
package splitwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

const (
	DefaultBaseURL   = "https://secure.splitwise.com/api/v3.0"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 2 // requests per second
	DefaultPageSize  = 100
)

// Compile-time interface check
var _ interfaces.SplitwiseClient = (*Client)(nil)

// Client implements the SplitwiseClient interface
type Client struct {
	baseURL    string
	apiKey     string
	groupID    int64
	pageSize   int
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter

	mu            sync.Mutex
	currentUserID int64
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithGroup restricts fetched and created expenses to one Splitwise group.
func WithGroup(groupID int64) ClientOption {
	return func(c *Client) {
		c.groupID = groupID
	}
}

// WithPageSize sets the page size of expense listings
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a new Splitwise client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		pageSize: DefaultPageSize,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewClientFromConfig builds a client from the [clients.splitwise] section.
func NewClientFromConfig(cfg common.SplitwiseConfig, logger *common.Logger) *Client {
	opts := []ClientOption{
		WithLogger(logger),
		WithTimeout(cfg.GetTimeout()),
		WithRateLimit(cfg.RateLimit),
		WithGroup(cfg.GroupID),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	return NewClient(cfg.APIKey, opts...)
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Splitwise API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// do performs a rate-limited request. Every failure is reported as an
// external service error.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return common.External(err, "rate limit wait")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("url", path).Msg("Splitwise API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.External(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return common.External(&APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
			Endpoint:   path,
		}, "%s %s", method, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return common.External(err, "decode %s response", path)
	}
	return nil
}

type apiUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u apiUser) name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type apiShare struct {
	UserID    int64   `json:"user_id"`
	User      apiUser `json:"user"`
	PaidShare string  `json:"paid_share"`
	OwedShare string  `json:"owed_share"`
}

type apiExpense struct {
	ID          int64      `json:"id"`
	Description string     `json:"description"`
	Cost        string     `json:"cost"`
	Date        string     `json:"date"`
	UpdatedAt   string     `json:"updated_at"`
	DeletedAt   *string    `json:"deleted_at"`
	Users       []apiShare `json:"users"`
}

// errorsMessage renders the "errors" member of a mutating response, which
// is either an object of field messages or a list. Empty means success.
func errorsMessage(e json.RawMessage) string {
	raw := strings.TrimSpace(string(e))
	switch raw {
	case "", "null", "{}", "[]":
		return ""
	}
	return raw
}

// parseAmount reads a share. An absent share is zero; anything else must be
// a decimal.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// toModel reduces an API expense to the perspective of user me.
func (e apiExpense) toModel(me int64) (*models.SplitwiseExpense, error) {
	date, err := parseTime(e.Date)
	if err != nil {
		return nil, fmt.Errorf("expense %d date %q: %w", e.ID, e.Date, err)
	}
	updated, err := parseTime(e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("expense %d updated_at %q: %w", e.ID, e.UpdatedAt, err)
	}

	out := &models.SplitwiseExpense{
		ID:             e.ID,
		Description:    e.Description,
		Date:           models.Day(date),
		PaidAmount:     decimal.Zero,
		PersonalAmount: decimal.Zero,
		UpdatedAt:      updated.UTC(),
		IsDeleted:      e.DeletedAt != nil && *e.DeletedAt != "",
	}
	for _, u := range e.Users {
		id := u.UserID
		if id == 0 {
			id = u.User.ID
		}
		owed, err := parseAmount(u.OwedShare)
		if err != nil {
			return nil, fmt.Errorf("expense %d user %d owed_share %q: %w", e.ID, id, u.OwedShare, err)
		}
		if id == me {
			paid, err := parseAmount(u.PaidShare)
			if err != nil {
				return nil, fmt.Errorf("expense %d user %d paid_share %q: %w", e.ID, id, u.PaidShare, err)
			}
			out.PaidAmount = paid
			out.PersonalAmount = owed
			continue
		}
		if !owed.IsZero() {
			out.Splits = append(out.Splits, models.SplitwiseSplit{UserID: id, Name: u.User.name(), Amount: owed})
		}
	}
	return out, nil
}

// CurrentUserID returns the id of the user owning the API key. It is fetched
// once per client.
func (c *Client) CurrentUserID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentUserID != 0 {
		return c.currentUserID, nil
	}

	var resp struct {
		User apiUser `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/get_current_user", nil, &resp); err != nil {
		return 0, err
	}
	if resp.User.ID == 0 {
		return 0, common.External(fmt.Errorf("empty user"), "get current user")
	}
	c.currentUserID = resp.User.ID
	return c.currentUserID, nil
}

// GetExpensesUpdatedAfter pages through every expense updated after ts,
// deleted ones included.
func (c *Client) GetExpensesUpdatedAfter(ctx context.Context, ts time.Time) ([]*models.SplitwiseExpense, error) {
	me, err := c.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	var out []*models.SplitwiseExpense
	for offset := 0; ; offset += c.pageSize {
		q := url.Values{}
		q.Set("updated_after", ts.UTC().Format(time.RFC3339))
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))
		if c.groupID != 0 {
			q.Set("group_id", strconv.FormatInt(c.groupID, 10))
		}

		var resp struct {
			Expenses []apiExpense `json:"expenses"`
		}
		if err := c.do(ctx, http.MethodGet, "/get_expenses?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}
		for _, e := range resp.Expenses {
			m, err := e.toModel(me)
			if err != nil {
				return nil, common.External(err, "parse expense")
			}
			out = append(out, m)
		}
		if len(resp.Expenses) < c.pageSize {
			break
		}
	}

	c.logger.Debug().Int("count", len(out)).Time("updated_after", ts).Msg("Fetched Splitwise expenses")
	return out, nil
}

// CreateExpense creates an expense paid in full by the current user and
// split with the given users. The current user owes the remainder.
func (c *Client) CreateExpense(ctx context.Context, e models.NewSplitwiseExpense) (*models.SplitwiseExpense, error) {
	me, err := c.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	cost := e.Amount.Abs()
	personal := cost
	body := map[string]any{
		"cost":        cost.StringFixed(2),
		"description": e.Description,
		"date":        models.Day(e.Date).Format(time.RFC3339),
	}
	if c.groupID != 0 {
		body["group_id"] = c.groupID
	}
	for i, s := range e.Splits {
		prefix := fmt.Sprintf("users__%d__", i+1)
		body[prefix+"user_id"] = s.SplitwiseUserID
		body[prefix+"paid_share"] = "0.00"
		body[prefix+"owed_share"] = s.Amount.StringFixed(2)
		personal = personal.Sub(s.Amount)
	}
	body["users__0__user_id"] = me
	body["users__0__paid_share"] = cost.StringFixed(2)
	body["users__0__owed_share"] = personal.StringFixed(2)

	var resp struct {
		Expenses []apiExpense    `json:"expenses"`
		Errors   json.RawMessage `json:"errors"`
	}
	if err := c.do(ctx, http.MethodPost, "/create_expense", body, &resp); err != nil {
		return nil, err
	}
	if msg := errorsMessage(resp.Errors); msg != "" {
		return nil, common.External(&APIError{StatusCode: http.StatusOK, Message: msg, Endpoint: "/create_expense"}, "create expense")
	}
	if len(resp.Expenses) == 0 {
		return nil, common.External(fmt.Errorf("no expense in response"), "create expense")
	}

	created, err := resp.Expenses[0].toModel(me)
	if err != nil {
		return nil, common.External(err, "parse created expense")
	}
	c.logger.Info().Int64("expense", created.ID).Str("cost", cost.String()).Msg("Splitwise expense created")
	return created, nil
}

// DeleteExpense deletes an expense upstream.
func (c *Client) DeleteExpense(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/delete_expense/%d", id)
	var resp struct {
		Success bool            `json:"success"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		msg := errorsMessage(resp.Errors)
		if msg == "" {
			msg = "delete not acknowledged"
		}
		return common.External(&APIError{StatusCode: http.StatusOK, Message: msg, Endpoint: path}, "delete expense %d", id)
	}
	c.logger.Info().Int64("expense", id).Msg("Splitwise expense deleted")
	return nil
}

// GetUsers returns the current user's friends.
func (c *Client) GetUsers(ctx context.Context) ([]*models.SplitwiseUser, error) {
	var resp struct {
		Friends []apiUser `json:"friends"`
	}
	if err := c.do(ctx, http.MethodGet, "/get_friends", nil, &resp); err != nil {
		return nil, err
	}
	users := make([]*models.SplitwiseUser, len(resp.Friends))
	for i, f := range resp.Friends {
		users[i] = &models.SplitwiseUser{ID: f.ID, Name: f.name()}
	}
	return users, nil
}
