package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callsync/internal/auth"
	"callsync/internal/calls"

	"github.com/go-playground/validator/v10"
)

const callLogPath = "/restapi/v1.0/account/~/call-log"

const rcTimeLayout = "2006-01-02T15:04:05.000Z"

// RingCentralClient reads the account call log (Detailed view).
type RingCentralClient struct {
	server     string
	tokens     auth.TokenSource
	httpClient *http.Client
	validate   *validator.Validate
	log        *slog.Logger
}

func NewRingCentralClient(server string, tokens auth.TokenSource, timeout time.Duration, log *slog.Logger) *RingCentralClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &RingCentralClient{
		server:     strings.TrimRight(server, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		validate:   validator.New(),
		log:        log,
	}
}

// WithHTTPClient swaps the transport (tests).
func (c *RingCentralClient) WithHTTPClient(h *http.Client) *RingCentralClient {
	c.httpClient = h
	return c
}

func (c *RingCentralClient) FetchCalls(ctx context.Context, req FetchCallsRequest) (CallPage, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return CallPage{}, err
	}

	if req.PageSize <= 0 {
		req.PageSize = 50
	}
	if req.Page <= 0 {
		req.Page = 1
	}

	params := url.Values{}
	params.Set("dateFrom", req.Since.UTC().Format(rcTimeLayout))
	if !req.Until.IsZero() {
		params.Set("dateTo", req.Until.UTC().Format(rcTimeLayout))
	}
	params.Set("perPage", strconv.Itoa(req.PageSize))
	params.Set("page", strconv.Itoa(req.Page))
	params.Set("view", "Detailed")
	reqURL := fmt.Sprintf("%s%s?%s", c.server, callLogPath, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return CallPage{}, fmt.Errorf("%w: create request: %w", ErrSourceUnavailable, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Error("call log request failed", "error", err, "page", req.Page)
		return CallPage{}, fmt.Errorf("%w: http request: %w", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate()
		c.log.Error("call log unauthorized", "status", resp.StatusCode)
		return CallPage{}, fmt.Errorf("%w: call log rejected bearer token", auth.ErrAuthFailed)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.log.Error("call log upstream error", "status", resp.StatusCode, "page", req.Page)
		return CallPage{}, fmt.Errorf("%w: status %d: %s", ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out apiCallLogResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CallPage{}, fmt.Errorf("%w: decode response: %w", ErrSourceUnavailable, err)
	}

	page := CallPage{
		Records: make([]calls.CallEvent, 0, len(out.Records)),
		HasNext: out.Navigation.NextPage != nil && out.Navigation.NextPage.URI != "",
	}
	for _, rec := range out.Records {
		ev, err := c.toCallEvent(rec)
		if err != nil {
			page.Invalid++
			c.log.Warn("dropping invalid call log record", "id", rec.ID, "error", err)
			continue
		}
		page.Records = append(page.Records, ev)
	}
	return page, nil
}

func (c *RingCentralClient) toCallEvent(rec apiCallRecord) (calls.CallEvent, error) {
	if err := c.validate.Struct(rec); err != nil {
		return calls.CallEvent{}, err
	}
	start, err := time.Parse(time.RFC3339Nano, rec.StartTime)
	if err != nil {
		return calls.CallEvent{}, fmt.Errorf("startTime: %w", err)
	}
	if rec.Direction != string(calls.DirectionInbound) && rec.Direction != string(calls.DirectionOutbound) {
		return calls.CallEvent{}, errors.New("direction must be Inbound or Outbound")
	}

	ev := calls.CallEvent{
		CorrelationKey:  rec.SessionID,
		Direction:       calls.Direction(rec.Direction),
		Type:            calls.CallType(rec.Type),
		From:            rec.From.toParty(),
		To:              rec.To.toParty(),
		StartTime:       start.UTC(),
		DurationSeconds: rec.Duration,
		Result:          rec.Result,
	}
	if len(rec.Legs) > 0 {
		ev.Legs = make([]calls.Leg, 0, len(rec.Legs))
		for _, l := range rec.Legs {
			ev.Legs = append(ev.Legs, calls.Leg{From: l.From.toParty(), To: l.To.toParty()})
		}
	}
	return ev, nil
}

type apiCallLogResponse struct {
	Records    []apiCallRecord `json:"records"`
	Navigation struct {
		NextPage *struct {
			URI string `json:"uri"`
		} `json:"nextPage"`
	} `json:"navigation"`
}

type apiCallRecord struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionId" validate:"required"`
	StartTime string   `json:"startTime" validate:"required"`
	Duration  int      `json:"duration" validate:"gte=0"`
	Type      string   `json:"type"`
	Direction string   `json:"direction"`
	Result    string   `json:"result"`
	From      apiParty `json:"from"`
	To        apiParty `json:"to"`
	Legs      []apiLeg `json:"legs"`
}

type apiLeg struct {
	From apiParty `json:"from"`
	To   apiParty `json:"to"`
}

type apiParty struct {
	PhoneNumber     string `json:"phoneNumber"`
	Name            string `json:"name"`
	ExtensionID     string `json:"extensionId"`
	ExtensionNumber string `json:"extensionNumber"`
	Location        string `json:"location"`
}

func (p apiParty) toParty() calls.Party {
	return calls.Party{
		PhoneNumber:     p.PhoneNumber,
		Name:            p.Name,
		ExtensionID:     p.ExtensionID,
		ExtensionNumber: p.ExtensionNumber,
		Location:        p.Location,
	}
}
