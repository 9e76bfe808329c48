package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/mioxtw/sol-wallet-monitor/internal/events"
	"github.com/mioxtw/sol-wallet-monitor/internal/ingest"
	"github.com/mioxtw/sol-wallet-monitor/internal/metrics"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

type fakeWallets struct {
	added   []string
	removed []string
	addErr  error
	rmErr   error
}

func (f *fakeWallets) AddWallet(_ context.Context, name, address string) (domain.Summary, error) {
	if f.addErr != nil {
		return domain.Summary{}, f.addErr
	}
	f.added = append(f.added, address)
	return domain.Summary{Address: address, Name: name, SOL: decimal.NewFromInt(1), Total: decimal.NewFromInt(1)}, nil
}

func (f *fakeWallets) RemoveWallet(_ context.Context, address string) (string, error) {
	if f.rmErr != nil {
		return "", f.rmErr
	}
	f.removed = append(f.removed, address)
	return "main", nil
}

type fakeReader struct {
	summaries map[string]domain.Summary
}

func (f *fakeReader) ListSnapshots() []domain.Summary {
	out := make([]domain.Summary, 0, len(f.summaries))
	for _, s := range f.summaries {
		out = append(out, s)
	}
	return out
}

func (f *fakeReader) Snapshot(address string) (domain.Summary, error) {
	s, ok := f.summaries[address]
	if !ok {
		return domain.Summary{}, errors.Wrapf(domain.ErrNotFound, "address %s", address)
	}
	return s, nil
}

type fakeCharts struct {
	points []domain.ChartPoint
	err    error
	metric domain.Metric
	window domain.Interval
}

func (f *fakeCharts) Chart(_ string, metric domain.Metric, interval domain.Interval) ([]domain.ChartPoint, error) {
	f.metric, f.window = metric, interval
	return f.points, f.err
}

// fakeFeed sends its batch once and then waits for the client to leave.
type fakeFeed struct {
	batch events.BatchUpdate
}

func (f *fakeFeed) Run(ctx context.Context, send func(events.BatchUpdate) error) error {
	if err := send(f.batch); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

type fixedState ingest.State

func (f fixedState) State() ingest.State { return ingest.State(f) }

type fixture struct {
	server  *Server
	wallets *fakeWallets
	charts  *fakeCharts
}

func newFixture(t *testing.T, token string) fixture {
	t.Helper()
	wallets := &fakeWallets{}
	charts := &fakeCharts{points: []domain.ChartPoint{{Time: 1, Value: 1.5}}}
	reader := &fakeReader{summaries: map[string]domain.Summary{
		testAddress: {Address: testAddress, Name: "main", SOL: decimal.RequireFromString("1.5"), Total: decimal.RequireFromString("1.5")},
	}}
	feed := &fakeFeed{batch: events.BatchUpdate{
		Type: events.TypeBatchUpdate,
		Updates: []events.UpdateEntry{{
			Type:   events.TypeUpdate,
			Wallet: &events.WalletPayload{Address: testAddress, Name: "main"},
		}},
	}}
	s := NewServer(Params{
		Addr:       ":0",
		AdminToken: token,
		Wallets:    wallets,
		Reader:     reader,
		Charts:     charts,
		Feed:       feed,
		Ingest:     fixedState(ingest.Streaming),
		Metrics:    metrics.New(),
	})
	return fixture{server: s, wallets: wallets, charts: charts}
}

func (f fixture) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, ingest.Streaming.String(), body["ingest"])
	assert.EqualValues(t, 1, body["wallets"])
}

func TestServer_ListAndGetWallet(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/wallets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "1.5", list[0]["sol_balance"])

	rec = f.do(t, http.MethodGet, "/api/wallets/"+testAddress, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "main", decodeBody(t, rec)["name"])

	rec = f.do(t, http.MethodGet, "/api/wallets/unknown", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ErrNotFound.Error(), decodeBody(t, rec)["error"])
}

func TestServer_AddWallet(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "ok", body: `{"name":"main","address":"` + testAddress + `"}`, status: http.StatusOK},
		{name: "bad json", body: `{`, status: http.StatusBadRequest},
		{name: "validation", body: `{"name":"","address":"x"}`, err: domain.NewValidationError("name", "required"), status: http.StatusBadRequest},
		{name: "duplicate", body: `{"name":"main","address":"x"}`, err: errors.Wrap(domain.ErrDuplicateID, "x"), status: http.StatusConflict},
		{name: "internal", body: `{"name":"main","address":"x"}`, err: errors.New("rpc down"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			f.wallets.addErr = tt.err
			rec := f.do(t, http.MethodPost, "/api/wallets", tt.body, map[string]string{"Content-Type": "application/json"})
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, []string{testAddress}, f.wallets.added)
			}
		})
	}
}

func TestServer_RemoveWallet(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodDelete, "/api/wallets/"+testAddress, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wallet main removed", decodeBody(t, rec)["message"])
	assert.Equal(t, []string{testAddress}, f.wallets.removed)

	f.wallets.rmErr = errors.Wrap(domain.ErrNotFound, "missing")
	rec = f.do(t, http.MethodDelete, "/api/wallets/"+testAddress, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AdminToken(t *testing.T) {
	f := newFixture(t, "secret")

	rec := f.do(t, http.MethodDelete, "/api/wallets/"+testAddress, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/wallets/"+testAddress, "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/wallets/"+testAddress, "", map[string]string{"Authorization": "secret"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/wallets/"+testAddress, "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// reads stay public
	rec = f.do(t, http.MethodGet, "/api/wallets", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	f := newFixture(t, "secret")
	rec := f.do(t, http.MethodOptions, "/api/wallets", "", map[string]string{"Origin": "https://example.com"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestServer_Chart(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/chart?wallet="+testAddress+"&data_type=sol&interval=1h", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "sol", body["data_type"])
	assert.Equal(t, "1H", body["interval"])
	assert.Len(t, body["data"], 1)
	assert.Equal(t, domain.MetricSOL, f.charts.metric)
	assert.Equal(t, domain.Interval1H, f.charts.window)

	rec = f.do(t, http.MethodGet, "/api/chart", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/chart?wallet=x&interval=3D", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/chart?wallet=x&data_type=usd", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.charts.err = errors.Wrap(domain.ErrNotFound, "x")
	rec = f.do(t, http.MethodGet, "/api/chart?wallet=x", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Dashboard(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/", "", map[string]string{"Accept-Encoding": "gzip"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "solmon_live_clients")
}

func TestServer_StreamSendsBatch(t *testing.T) {
	f := newFixture(t, "")
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var event, data string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, events.TypeBatchUpdate, event)

	var batch events.BatchUpdate
	require.NoError(t, json.Unmarshal([]byte(data), &batch))
	require.Len(t, batch.Updates, 1)
	assert.Equal(t, testAddress, batch.Updates[0].Wallet.Address)
}

func TestServer_WebSocketSendsBatch(t *testing.T) {
	f := newFixture(t, "")
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var batch events.BatchUpdate
	require.NoError(t, conn.ReadJSON(&batch))
	assert.Equal(t, events.TypeBatchUpdate, batch.Type)
	require.Len(t, batch.Updates, 1)
	assert.Equal(t, events.TypeUpdate, batch.Updates[0].Type)

	assert.Eventually(t, func() bool { return f.server.sessions.Size() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return f.server.sessions.Size() == 0 }, 2*time.Second, 10*time.Millisecond)
}
