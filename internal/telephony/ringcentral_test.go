package telephony

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callsync/internal/auth"
	"callsync/internal/calls"
)

type fakeTokens struct {
	err         error
	invalidated int
}

func (f *fakeTokens) Token(ctx context.Context) (auth.Token, error) {
	if f.err != nil {
		return auth.Token{}, f.err
	}
	return auth.Token{AccessToken: "rc-token"}, nil
}

func (f *fakeTokens) Invalidate() { f.invalidated++ }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const callLogBody = `{
  "records": [
    {
      "id": "r1",
      "sessionId": "S1",
      "startTime": "2024-05-01T10:00:00.000Z",
      "duration": 120,
      "type": "Voice",
      "direction": "Inbound",
      "result": "Accepted",
      "from": {"phoneNumber": "+15551234567", "name": "Jane Customer", "location": "Austin, TX"},
      "to": {"phoneNumber": "+15559876543", "name": "Customer Service"},
      "legs": [
        {"from": {"phoneNumber": "+15551234567"}, "to": {"name": "Customer Service"}},
        {"from": {"phoneNumber": "+15551234567"}, "to": {"name": "Alice Smith", "extensionNumber": "101", "extensionId": "9001"}}
      ]
    },
    {"id": "r2", "startTime": "2024-05-01T10:05:00.000Z", "type": "Voice", "direction": "Inbound"},
    {"id": "r3", "sessionId": "S3", "startTime": "not a time", "type": "Voice", "direction": "Outbound"}
  ],
  "navigation": {"nextPage": {"uri": "https://platform.example.com/restapi/v1.0/account/~/call-log?page=2"}}
}`

func TestFetchCalls_MapsRecordsAndDropsInvalid(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != callLogPath {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer rc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		gotQuery = map[string]string{
			"dateFrom": q.Get("dateFrom"),
			"perPage":  q.Get("perPage"),
			"page":     q.Get("page"),
			"view":     q.Get("view"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(callLogBody))
	}))
	defer srv.Close()

	c := NewRingCentralClient(srv.URL, &fakeTokens{}, time.Second, quietLogger())
	since := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	page, err := c.FetchCalls(context.Background(), FetchCallsRequest{Since: since, PageSize: 25, Page: 1})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotQuery["dateFrom"] != "2024-05-01T09:00:00.000Z" || gotQuery["perPage"] != "25" || gotQuery["page"] != "1" || gotQuery["view"] != "Detailed" {
		t.Fatalf("unexpected query: %+v", gotQuery)
	}
	if !page.HasNext {
		t.Fatalf("expected HasNext")
	}
	if page.Invalid != 2 {
		t.Fatalf("expected 2 invalid records, got %d", page.Invalid)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(page.Records))
	}

	ev := page.Records[0]
	if ev.CorrelationKey != "S1" || ev.Direction != calls.DirectionInbound || !ev.IsVoice() {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.DurationSeconds != 120 || ev.Result != "Accepted" {
		t.Fatalf("unexpected duration/result: %+v", ev)
	}
	if !ev.StartTime.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %s", ev.StartTime)
	}
	if len(ev.Legs) != 2 || ev.Legs[1].To.ExtensionNumber != "101" {
		t.Fatalf("unexpected legs: %+v", ev.Legs)
	}
	if ev.From.Location != "Austin, TX" {
		t.Fatalf("expected location mapped, got %+v", ev.From)
	}
}

func TestFetchCalls_UntilSetsDateTo(t *testing.T) {
	var dateTo string
	var hasDateTo bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDateTo = r.URL.Query()["dateTo"]
		dateTo = r.URL.Query().Get("dateTo")
		_, _ = w.Write([]byte(`{"records":[],"navigation":{}}`))
	}))
	defer srv.Close()

	c := NewRingCentralClient(srv.URL, &fakeTokens{}, time.Second, quietLogger())
	since := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	if _, err := c.FetchCalls(context.Background(), FetchCallsRequest{Since: since}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hasDateTo {
		t.Fatalf("dateTo must be omitted without an upper bound, got %q", dateTo)
	}

	until := time.Date(2024, 5, 1, 11, 30, 0, 1_000_000, time.UTC)
	if _, err := c.FetchCalls(context.Background(), FetchCallsRequest{Since: since, Until: until}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if dateTo != "2024-05-01T11:30:00.001Z" {
		t.Fatalf("unexpected dateTo %q", dateTo)
	}
}

func TestFetchCalls_LastPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"records":[],"navigation":{}}`))
	}))
	defer srv.Close()

	c := NewRingCentralClient(srv.URL, &fakeTokens{}, time.Second, quietLogger())
	page, err := c.FetchCalls(context.Background(), FetchCallsRequest{Since: time.Now()})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.HasNext || len(page.Records) != 0 {
		t.Fatalf("expected empty last page, got %+v", page)
	}
}

func TestFetchCalls_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			want: ErrSourceUnavailable,
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"records": [`))
			},
			want: ErrSourceUnavailable,
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			want: auth.ErrAuthFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			tokens := &fakeTokens{}
			c := NewRingCentralClient(srv.URL, tokens, time.Second, quietLogger())
			_, err := c.FetchCalls(context.Background(), FetchCallsRequest{Since: time.Now()})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.want == auth.ErrAuthFailed && tokens.invalidated != 1 {
				t.Fatalf("expected token invalidation on 401")
			}
		})
	}
}

func TestFetchCalls_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	c := NewRingCentralClient(srv.URL, &fakeTokens{}, 20*time.Millisecond, quietLogger())
	if _, err := c.FetchCalls(context.Background(), FetchCallsRequest{Since: time.Now()}); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable on timeout, got %v", err)
	}
}

func TestFetchCalls_TokenFailure(t *testing.T) {
	c := NewRingCentralClient("http://127.0.0.1:1", &fakeTokens{err: auth.ErrAuthFailed}, time.Second, quietLogger())
	if _, err := c.FetchCalls(context.Background(), FetchCallsRequest{Since: time.Now()}); !errors.Is(err, auth.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}
