package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stockdesk/internal/model"
	"stockdesk/internal/session"
	"stockdesk/internal/store/sqlite"
	"stockdesk/pkg/kiwoom"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request, body map[string]any)

// upstream is a fake broker API that counts data calls separately from
// token calls.
type upstream struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	seen     map[string]seenRequest
	calls    atomic.Int32
	srv      *httptest.Server
}

type seenRequest struct {
	Header http.Header
	Body   map[string]any
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{handlers: map[string]handlerFunc{}, seen: map[string]seenRequest{}}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiID := r.Header.Get("api-id")
		if apiID == kiwoom.APIIDToken {
			w.Write([]byte(`{"token":"T-1","expires_dt":"20261018000000","return_code":0,"return_msg":"ok"}`))
			return
		}
		if apiID == kiwoom.APIIDRevoke {
			w.Write([]byte(`{"return_code":0,"return_msg":"revoked"}`))
			return
		}
		u.calls.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		u.mu.Lock()
		u.seen[apiID] = seenRequest{Header: r.Header.Clone(), Body: body}
		h := u.handlers[apiID]
		u.mu.Unlock()
		if h == nil {
			w.Write([]byte(`{"return_code":0,"return_msg":"ok"}`))
			return
		}
		h(w, r, body)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) handle(apiID string, h handlerFunc) {
	u.mu.Lock()
	u.handlers[apiID] = h
	u.mu.Unlock()
}

func (u *upstream) last(apiID string) seenRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.seen[apiID]
}

func reply(s string) handlerFunc {
	return func(w http.ResponseWriter, _ *http.Request, _ map[string]any) { w.Write([]byte(s)) }
}

type harness struct {
	up    *upstream
	store *sqlite.Store
	mgr   *session.Manager
	d     *Dispatcher
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	up := newUpstream(t)
	store, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "stock.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	client := kiwoom.NewClient(kiwoom.Config{RootURL: up.srv.URL})
	mgr := session.NewManager(client, session.Credentials{AppKey: "a", SecretKey: "s"}, nil)
	d := New(Config{Client: client, Store: store, Invalidator: mgr, Timeout: timeout})
	return &harness{up: up, store: store, mgr: mgr, d: d}
}

func (h *harness) login(t *testing.T) *session.Session {
	t.Helper()
	s, err := h.mgr.Login(context.Background(), session.Credentials{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return s
}

func TestDispatch_UnknownQueryMakesNoCall(t *testing.T) {
	h := newHarness(t, 0)
	s := h.login(t)

	_, err := h.d.Dispatch(context.Background(), "ka99999", nil, s)
	var uq *model.UnknownQueryError
	if !errors.As(err, &uq) || uq.QueryID != "ka99999" {
		t.Fatalf("expected UnknownQueryError, got %v", err)
	}
	if h.up.calls.Load() != 0 {
		t.Errorf("made %d calls", h.up.calls.Load())
	}
}

func TestDispatch_InvalidPayload(t *testing.T) {
	h := newHarness(t, 0)
	s := h.login(t)

	_, err := h.d.Dispatch(context.Background(), "ka10015", map[string]any{"stk_cd": "005930"}, s)
	var ip *model.InvalidPayloadError
	if !errors.As(err, &ip) {
		t.Fatalf("expected InvalidPayloadError, got %v", err)
	}
	if fmt.Sprint(ip.Missing) != "[strt_dt]" {
		t.Errorf("missing: %v", ip.Missing)
	}
	if h.up.calls.Load() != 0 {
		t.Errorf("made %d calls", h.up.calls.Load())
	}
}

func TestDispatch_UnauthenticatedMakesNoCall(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	payload := map[string]any{"stk_cd": "005930"}

	if _, err := h.d.Dispatch(ctx, "ka10001", payload, h.mgr.Session()); !errors.Is(err, model.ErrUnauthenticated) {
		t.Fatalf("before login: %v", err)
	}
	if _, err := h.d.Dispatch(ctx, "ka10001", payload, nil); !errors.Is(err, model.ErrUnauthenticated) {
		t.Fatalf("nil session: %v", err)
	}

	s := h.login(t)
	if _, err := h.mgr.Revoke(ctx, s); err != nil {
		t.Fatal(err)
	}
	if s.Status() != session.Revoked {
		t.Fatalf("status %v", s.Status())
	}
	if _, err := h.d.Dispatch(ctx, "ka10001", payload, s); !errors.Is(err, model.ErrUnauthenticated) {
		t.Fatalf("after revoke: %v", err)
	}
	if h.up.calls.Load() != 0 {
		t.Errorf("made %d calls", h.up.calls.Load())
	}
}

func TestDispatch_SendsWireContract(t *testing.T) {
	h := newHarness(t, 0)
	s := h.login(t)

	h.up.handle("ka10004", func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		w.Header().Set("cont-yn", "Y")
		w.Header().Set("next-key", "K2")
		w.Write([]byte(`{"sel_fpr_bid":"+71500","return_code":0,"return_msg":"ok"}`))
	})

	res, err := h.d.Dispatch(context.Background(), "orderBook",
		map[string]any{"stk_cd": "005930", "cont-yn": "Y", "next-key": "K1"}, s)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	seen := h.up.last("ka10004")
	gotHeader, gotBody := seen.Header, seen.Body
	if gotHeader.Get("api-id") != "ka10004" || gotHeader.Get("authorization") != "Bearer T-1" {
		t.Errorf("headers: %v", gotHeader)
	}
	if gotHeader.Get("cont-yn") != "Y" || gotHeader.Get("next-key") != "K1" {
		t.Errorf("continuation not sent as headers: %v", gotHeader)
	}
	if _, leaked := gotBody["cont-yn"]; leaked {
		t.Errorf("continuation key leaked into body: %v", gotBody)
	}
	if res.QueryID != "ka10004" || res.ContYN != "Y" || res.NextKey != "K2" {
		t.Errorf("result: %+v", res)
	}
	if m, ok := res.Data.(map[string]any); !ok || m["sel_fpr_bid"] != "+71500" {
		t.Errorf("data: %#v", res.Data)
	}
}

func TestDispatch_RemoteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
		msg    string
	}{
		{"rate limited", 200, `{"return_code":3,"return_msg":"rate limited"}`, 3, "rate limited"},
		{"http failure without message", 500, `{}`, NoReturnCode, model.UnknownErrorMessage},
		{"http failure html", 502, `<html>bad gateway</html>`, NoReturnCode, "<html>bad gateway</html>"},
		{"missing return code", 200, `{"stk_cd":"005930"}`, NoReturnCode, model.UnknownErrorMessage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, 0)
			s := h.login(t)
			h.up.handle("ka10001", func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			res, err := h.d.Dispatch(context.Background(), "ka10001", map[string]any{"stk_cd": "005930"}, s)
			var re *model.RemoteAPIError
			if !errors.As(err, &re) {
				t.Fatalf("expected RemoteAPIError, got %v", err)
			}
			if res != nil {
				t.Errorf("result on failure: %+v", res)
			}
			if re.Code != tc.code || re.Message != tc.msg || re.HTTPStatus != tc.status {
				t.Errorf("got %+v", re)
			}
			if s.Status() != session.Active {
				t.Error("non-auth failure must not touch the session")
			}
		})
	}
}

func TestDispatch_AuthFailureRevokesSession(t *testing.T) {
	h := newHarness(t, 0)
	s := h.login(t)
	h.up.handle("ka10001", func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"return_code":3,"return_msg":"token expired"}`))
	})

	_, err := h.d.Dispatch(context.Background(), "ka10001", map[string]any{"stk_cd": "005930"}, s)
	var re *model.RemoteAPIError
	if !errors.As(err, &re) || re.Message != "token expired" {
		t.Fatalf("expected RemoteAPIError, got %v", err)
	}
	if s.Status() != session.Revoked {
		t.Errorf("status: %v", s.Status())
	}
}

func TestDispatch_TimeoutIsTransportError(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	s := h.login(t)
	release := make(chan struct{})
	defer close(release)
	h.up.handle("ka10001", func(w http.ResponseWriter, _ *http.Request, _ map[string]any) { <-release })

	_, err := h.d.Dispatch(context.Background(), "ka10001", map[string]any{"stk_cd": "005930"}, s)
	var te *model.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

const instrumentList = `{"list":[
	{"code":"005930","name":"Samsung","listCount":"0000005969782550","marketName":"거래소","nxtEnable":"Y"},
	{"code":"000660","name":"SK hynix","marketName":"거래소"},
	{"name":"no code"}
],"return_code":0,"return_msg":"ok"}`

func TestDispatch_WriteThrough(t *testing.T) {
	h := newHarness(t, 0)
	s := h.login(t)
	h.up.handle("ka10099", reply(instrumentList))
	ctx := context.Background()

	res, err := h.d.Dispatch(ctx, "ka10099", map[string]any{"mrkt_tp": "0"}, s)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	records, ok := res.Data.([]model.Instrument)
	if !ok || len(records) != 2 {
		t.Fatalf("data: %#v", res.Data)
	}

	inst, err := h.store.LookupByExactName(ctx, "Samsung")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if inst.Code != "005930" || inst.ListCount != "0000005969782550" || inst.NxtEnable != "Y" {
		t.Errorf("stored: %+v", inst)
	}
}

func TestDispatch_WriteThroughEmptyList(t *testing.T) {
	h := newHarness(t, 0)
	s := h.login(t)
	ctx := context.Background()
	h.up.handle("ka10099", reply(instrumentList))
	if _, err := h.d.Dispatch(ctx, "ka10099", map[string]any{"mrkt_tp": "0"}, s); err != nil {
		t.Fatal(err)
	}

	h.up.handle("ka10099", reply(`{"list":[],"return_code":0,"return_msg":"ok"}`))
	res, err := h.d.Dispatch(ctx, "ka10099", map[string]any{"mrkt_tp": "10"}, s)
	if err != nil {
		t.Fatal(err)
	}
	if records := res.Data.([]model.Instrument); len(records) != 0 {
		t.Errorf("expected empty list, got %v", records)
	}
	if n, _ := h.store.Count(ctx); n != 0 {
		t.Errorf("store should be empty, has %d", n)
	}
}

func TestDispatch_WriteThroughWithoutListKeepsStore(t *testing.T) {
	h := newHarness(t, 0)
	s := h.login(t)
	ctx := context.Background()
	h.up.handle("ka10099", reply(instrumentList))
	if _, err := h.d.Dispatch(ctx, "ka10099", map[string]any{"mrkt_tp": "0"}, s); err != nil {
		t.Fatal(err)
	}

	for _, body := range []string{
		`{"return_code":0,"return_msg":"ok"}`,
		`{"list":{"code":"005930"},"return_code":0,"return_msg":"ok"}`,
	} {
		h.up.handle("ka10099", reply(body))
		res, err := h.d.Dispatch(ctx, "ka10099", map[string]any{"mrkt_tp": "0"}, s)
		var trErr *model.TransportError
		if !errors.As(err, &trErr) || !errors.Is(err, ErrNoInstrumentList) || res != nil {
			t.Errorf("%s: got %v, %v", body, res, err)
		}
		if n, _ := h.store.Count(ctx); n != 2 {
			t.Errorf("%s: store should keep 2 rows, has %d", body, n)
		}
	}
}

type failingStore struct{ model.InstrumentStore }

func (failingStore) ReplaceAll(context.Context, []model.Instrument) error {
	return errors.New("disk full")
}

func TestDispatch_CacheWriteErrorKeepsResult(t *testing.T) {
	up := newUpstream(t)
	up.handle("ka10099", reply(instrumentList))
	client := kiwoom.NewClient(kiwoom.Config{RootURL: up.srv.URL})
	mgr := session.NewManager(client, session.Credentials{AppKey: "a", SecretKey: "s"}, nil)
	s, err := mgr.Login(context.Background(), session.Credentials{})
	if err != nil {
		t.Fatal(err)
	}
	d := New(Config{Client: client, Store: failingStore{}})

	res, err := d.Dispatch(context.Background(), "ka10099", map[string]any{"mrkt_tp": "0"}, s)
	var cw *model.CacheWriteError
	if !errors.As(err, &cw) || !IsCacheWrite(err) {
		t.Fatalf("expected CacheWriteError, got %v", err)
	}
	if model.Kind(err) != "cache_write" {
		t.Errorf("kind: %s", model.Kind(err))
	}
	if res == nil || len(res.Data.([]model.Instrument)) != 2 {
		t.Errorf("fetched data should still be returned: %+v", res)
	}
}

// TestDispatch_ConcurrentRefreshLastCompletedWins starts refresh A, holds it
// at the upstream, starts refresh B, then lets A finish. B must land last
// and the table must hold exactly B.
func TestDispatch_ConcurrentRefreshLastCompletedWins(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	s := h.login(t)
	ctx := context.Background()

	mkList := func(tag string, n int) string {
		rows := make([]map[string]string, n)
		for i := range rows {
			rows[i] = map[string]string{"code": fmt.Sprintf("%s%05d", tag, i), "name": tag + fmt.Sprint(i)}
		}
		b, _ := json.Marshal(map[string]any{"list": rows, "return_code": 0})
		return string(b)
	}
	listA, listB := mkList("A", 40), mkList("B", 25)

	aArrived := make(chan struct{})
	releaseA := make(chan struct{})
	h.up.handle("ka10099", func(w http.ResponseWriter, _ *http.Request, body map[string]any) {
		if body["mrkt_tp"] == "A" {
			close(aArrived)
			<-releaseA
			w.Write([]byte(listA))
			return
		}
		w.Write([]byte(listB))
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = h.d.Dispatch(ctx, "ka10099", map[string]any{"mrkt_tp": "A"}, s)
	}()
	<-aArrived

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = h.d.Dispatch(ctx, "ka10099", map[string]any{"mrkt_tp": "B"}, s)
	}()
	time.Sleep(50 * time.Millisecond)
	close(releaseA)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	n, _ := h.store.Count(ctx)
	if n != 25 {
		t.Errorf("expected exactly B's 25 rows, got %d", n)
	}
	if got, _ := h.store.Search(ctx, "A", 100); len(got) != 0 {
		t.Errorf("rows from A survived: %d", len(got))
	}
}

func TestDispatch_ResolvesNames(t *testing.T) {
	h := newHarness(t, 0)
	s := h.login(t)
	ctx := context.Background()
	if err := h.store.ReplaceAll(ctx, []model.Instrument{{Code: "005930", Name: "삼성전자"}}); err != nil {
		t.Fatal(err)
	}

	h.up.handle("ka10002", reply(`{"sel_trde_ori_nm_1":"키움증권","sel_trde_qty_1":"+000300","return_code":0,"return_msg":"ok"}`))

	res, err := h.d.Dispatch(ctx, "tradingMembers", map[string]any{"stk_cd": "삼성전자"}, s)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sent := h.up.last("ka10002").Body["stk_cd"]; sent != "005930" || res.ResolvedCode != "005930" {
		t.Errorf("sent %v, resolved %q", h.up.last("ka10002").Body["stk_cd"], res.ResolvedCode)
	}
	b, _ := json.Marshal(res.Data)
	if string(b) != `{"sell":[{"member":"키움증권","volume":"300"}],"buy":[]}` {
		t.Errorf("data: %s", b)
	}

	before := h.up.calls.Load()
	_, err = h.d.Dispatch(ctx, "ka10001", map[string]any{"stk_cd": "없는회사"}, s)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if h.up.calls.Load() != before {
		t.Error("name miss must not reach the network")
	}
}

func TestDispatch_ArrayDefault(t *testing.T) {
	h := newHarness(t, 0)
	s := h.login(t)
	h.up.handle("ka10011", reply(`{"return_code":0,"return_msg":"ok"}`))

	res, err := h.d.Dispatch(context.Background(), "ka10011", map[string]any{"newstk_recvrht_tp": "00"}, s)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(res.Data)
	if string(b) != "[]" {
		t.Errorf("data: %s", b)
	}
}

type capturePublisher struct {
	mu  sync.Mutex
	got map[string][]byte
	ch  chan struct{}
}

func (p *capturePublisher) Publish(_ context.Context, queryID string, data []byte) {
	p.mu.Lock()
	p.got[queryID] = data
	p.mu.Unlock()
	p.ch <- struct{}{}
}

func TestDispatch_PublishesResults(t *testing.T) {
	up := newUpstream(t)
	up.handle("ka10008", reply(`{"stk_frgnr":[{"dt":"20261016"}],"return_code":0}`))
	client := kiwoom.NewClient(kiwoom.Config{RootURL: up.srv.URL})
	mgr := session.NewManager(client, session.Credentials{AppKey: "a", SecretKey: "s"}, nil)
	s, _ := mgr.Login(context.Background(), session.Credentials{})

	pub := &capturePublisher{got: map[string][]byte{}, ch: make(chan struct{}, 1)}
	d := New(Config{Client: client, Publisher: pub})

	if _, err := d.Dispatch(context.Background(), "ka10008", map[string]any{"stk_cd": "005930"}, s); err != nil {
		t.Fatal(err)
	}
	select {
	case <-pub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("result not published")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	var res Result
	if err := json.Unmarshal(pub.got["ka10008"], &res); err != nil {
		t.Fatal(err)
	}
	if res.QueryID != "ka10008" {
		t.Errorf("published: %s", pub.got["ka10008"])
	}
}
