package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callsync/internal/auth"

	"golang.org/x/time/rate"
)

var (
	// ErrLookupFailed is returned when a read query fails. Callers treat it as "not found".
	ErrLookupFailed = errors.New("crm: lookup failed")
	// ErrWriteFailed is returned when an activity record could not be created.
	ErrWriteFailed = errors.New("crm: write failed")
)

// WriteError carries the CRM's rejection details for a failed create.
type WriteError struct {
	Status  int
	Details []APIError
	Body    string
}

func (e *WriteError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("crm: create rejected (status %d): %s: %s", e.Status, e.Details[0].ErrorCode, e.Details[0].Message)
	}
	return fmt.Sprintf("crm: create rejected (status %d)", e.Status)
}

func (e *WriteError) Unwrap() error { return ErrWriteFailed }

// existenceChunk bounds the number of LIKE clauses per existence query.
const existenceChunk = 50

// Client talks to the CRM REST API on behalf of the integration user.
type Client struct {
	tokens     auth.TokenSource
	apiVersion string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

type Options struct {
	APIVersion        string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

func NewClient(tokens auth.TokenSource, opts Options) *Client {
	if opts.APIVersion == "" {
		opts.APIVersion = "v61.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		tokens:     tokens,
		apiVersion: opts.APIVersion,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
		log:        opts.Logger,
	}
}

// IntegrationUserID is the id of the authenticated integration user, taken
// from the identity URL returned with the access token.
func (c *Client) IntegrationUserID(ctx context.Context) (string, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	id := auth.UserIDFromIdentityURL(tok.IdentityURL)
	if id == "" {
		return "", fmt.Errorf("%w: token response has no identity url", auth.ErrAuthFailed)
	}
	return id, nil
}

// FindExistingByCorrelationKeys returns the subset of keys already present in
// the unique-id field of some Task. Stored values are matched back to keys by
// substring, so legacy composite ids containing the key also count.
func (c *Client) FindExistingByCorrelationKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(keys) == 0 {
		return found, nil
	}

	for start := 0; start < len(keys); start += existenceChunk {
		end := min(start+existenceChunk, len(keys))
		chunk := keys[start:end]

		clauses := make([]string, len(chunk))
		args := make([]Literal, len(chunk))
		for i, k := range chunk {
			clauses[i] = "rcsfl__CALL_UNIQUE_ID__c LIKE ?"
			args[i] = Contains(k)
		}
		q, err := Bind("SELECT rcsfl__CALL_UNIQUE_ID__c FROM Task WHERE "+strings.Join(clauses, " OR "), args...)
		if err != nil {
			return nil, err
		}

		var records []struct {
			UniqueID string `json:"rcsfl__CALL_UNIQUE_ID__c"`
		}
		if err := c.queryAll(ctx, q, &records); err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.UniqueID == "" {
				continue
			}
			for _, k := range chunk {
				if strings.Contains(r.UniqueID, k) {
					found[k] = struct{}{}
				}
			}
		}
	}
	return found, nil
}

// FindPartyByPhone returns the first Contact or Lead whose phone contains digits.
func (c *Client) FindPartyByPhone(ctx context.Context, kind RecordKind, digits string) (Party, bool, error) {
	if digits == "" {
		return Party{}, false, nil
	}

	var tmpl string
	switch kind {
	case KindContact:
		tmpl = "SELECT Id, AccountId, Name FROM Contact WHERE Phone LIKE ? LIMIT 1"
	case KindLead:
		tmpl = "SELECT Id, Name FROM Lead WHERE Phone LIKE ? LIMIT 1"
	default:
		return Party{}, false, fmt.Errorf("crm: unsupported record kind %q", kind)
	}
	q, err := Bind(tmpl, Contains(digits))
	if err != nil {
		return Party{}, false, err
	}

	var records []struct {
		ID        string `json:"Id"`
		AccountID string `json:"AccountId"`
		Name      string `json:"Name"`
	}
	if err := c.query(ctx, q, &records, nil); err != nil {
		return Party{}, false, err
	}
	if len(records) == 0 {
		return Party{}, false, nil
	}
	r := records[0]
	return Party{Kind: kind, ID: r.ID, AccountID: r.AccountID, Name: r.Name}, true, nil
}

// FindUserByName returns the id of the user whose full name matches exactly.
func (c *Client) FindUserByName(ctx context.Context, name string) (string, bool, error) {
	if name == "" {
		return "", false, nil
	}
	q, err := Bind("SELECT Id FROM User WHERE Name = ? LIMIT 1", String(name))
	if err != nil {
		return "", false, err
	}
	var records []struct {
		ID string `json:"Id"`
	}
	if err := c.query(ctx, q, &records, nil); err != nil {
		return "", false, err
	}
	if len(records) == 0 {
		return "", false, nil
	}
	return records[0].ID, true, nil
}

// CreateActivity creates a Task and returns its id.
func (c *Client) CreateActivity(ctx context.Context, rec ActivityRecord) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: encode: %w", ErrWriteFailed, err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, "/sobjects/Task", body)
	if err != nil {
		if errors.Is(err, auth.ErrAuthFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if status < 200 || status > 299 {
		werr := &WriteError{Status: status, Body: truncate(string(respBody), 1024)}
		_ = json.Unmarshal(respBody, &werr.Details)
		return "", werr
	}

	var out struct {
		ID      string     `json:"id"`
		Success bool       `json:"success"`
		Errors  []APIError `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("%w: decode: %w", ErrWriteFailed, err)
	}
	if !out.Success || out.ID == "" {
		return "", &WriteError{Status: status, Details: out.Errors, Body: truncate(string(respBody), 1024)}
	}
	return out.ID, nil
}

type queryResponse struct {
	TotalSize      int             `json:"totalSize"`
	Done           bool            `json:"done"`
	NextRecordsURL string          `json:"nextRecordsUrl"`
	Records        json.RawMessage `json:"records"`
}

// query runs one query and decodes the first batch of records into out.
// The next-batch locator, if any, is returned through next.
func (c *Client) query(ctx context.Context, soql string, out any, next *string) error {
	return c.fetchRecords(ctx, "/query?q="+url.QueryEscape(soql), out, next)
}

// queryAll follows nextRecordsUrl until done and appends every batch to out.
func (c *Client) queryAll(ctx context.Context, soql string, out any) error {
	var next string
	var batch json.RawMessage
	if err := c.query(ctx, soql, &batch, &next); err != nil {
		return err
	}
	batches := []json.RawMessage{batch}
	for next != "" {
		path := next
		next = ""
		var more json.RawMessage
		if err := c.fetchRecords(ctx, c.relative(path), &more, &next); err != nil {
			return err
		}
		batches = append(batches, more)
	}
	return mergeBatches(batches, out)
}

func (c *Client) fetchRecords(ctx context.Context, path string, out any, next *string) error {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if errors.Is(err, auth.ErrAuthFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrLookupFailed, status, truncate(string(body), 512))
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: decode: %w", ErrLookupFailed, err)
	}
	if len(resp.Records) == 0 {
		resp.Records = json.RawMessage("[]")
	}
	if err := json.Unmarshal(resp.Records, out); err != nil {
		return fmt.Errorf("%w: decode records: %w", ErrLookupFailed, err)
	}
	if next != nil && !resp.Done {
		*next = resp.NextRecordsURL
	}
	return nil
}

// relative strips the /services/data/{version} prefix from a locator URL.
func (c *Client) relative(locator string) string {
	prefix := "/services/data/" + c.apiVersion
	if i := strings.Index(locator, prefix); i >= 0 {
		return locator[i+len(prefix):]
	}
	return locator
}

func mergeBatches(batches []json.RawMessage, out any) error {
	var all []json.RawMessage
	for _, b := range batches {
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("%w: decode records: %w", ErrLookupFailed, err)
		}
		all = append(all, items...)
	}
	if all == nil {
		all = []json.RawMessage{}
	}
	merged, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, out)
}

// do sends one rate-limited request against the instance API. A 401 drops the
// cached token and retries once; a second 401 is an auth failure.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return 0, nil, err
		}
		if tok.InstanceURL == "" {
			return 0, nil, fmt.Errorf("%w: token has no instance url", auth.ErrAuthFailed)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limiter: %w", err)
		}

		status, respBody, err := c.send(ctx, tok, method, path, body)
		if err != nil {
			return 0, nil, err
		}
		if status == http.StatusUnauthorized {
			c.tokens.Invalidate()
			if attempt == 0 {
				c.log.Warn("crm rejected token, refreshing", "path", path)
				continue
			}
			return status, respBody, fmt.Errorf("%w: crm rejected refreshed token", auth.ErrAuthFailed)
		}
		return status, respBody, nil
	}
}

func (c *Client) send(ctx context.Context, tok auth.Token, method, path string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := tok.InstanceURL + "/services/data/" + c.apiVersion + path
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("crm request failed", "error", err, "method", method)
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
