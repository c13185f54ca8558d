package api

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/config"
	"github.com/affbridge/affbridge/internal/geoip"
	"github.com/affbridge/affbridge/internal/logic/ratelimit"
	"github.com/affbridge/affbridge/internal/models"
	"github.com/affbridge/affbridge/internal/observability"
	"github.com/affbridge/affbridge/internal/recorder"
	"github.com/affbridge/affbridge/internal/store"
	"github.com/affbridge/affbridge/internal/template"
)

const (
	uaChrome   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	uaFacebook = "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)"
	uaCurl     = "curl/8.4.0"

	ipResidentialVN = "123.21.0.1"
	ipDatacenter    = "35.190.0.1"
	ipForeign       = "93.184.216.34"
)

const testTemplate = `<!DOCTYPE html><html><head><title>__META_TITLE__</title>` +
	`<meta property="og:image" content="__META_IMAGE__">` +
	`<meta property="og:url" content="__META_URL__"></head><body></body></html>`

const ipFixture = `[
  {"net": "123.21.0.0/16", "country": "VN", "isp": "VNPT Corp"},
  {"net": "35.190.0.0/17", "country": "US", "isp": "Google LLC"},
  {"net": "93.184.216.0/24", "country": "US", "isp": "Edgecast Networks"}
]`

// testAdapter is an in-memory store.Adapter for handler tests.
type testAdapter struct {
	mu      sync.Mutex
	links   map[string]*models.Link
	logs    []models.ClickRecord
	banners map[int]*models.Banner
	uniques map[int]map[string]bool
}

func newTestAdapter() *testAdapter {
	return &testAdapter{
		links:   make(map[string]*models.Link),
		banners: make(map[int]*models.Banner),
		uniques: make(map[int]map[string]bool),
	}
}

func (a *testAdapter) FindLinkBySlug(_ context.Context, slug string) (*models.Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[slug]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (a *testAdapter) UpdateLinkOnClick(_ context.Context, slug string, rec models.ClickRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[slug]
	if !ok {
		return store.ErrNotFound
	}
	l.TotalClicks++
	if rec.Valid {
		l.ValidClicks++
	}
	a.logs = append(a.logs, rec)
	return nil
}

func (a *testAdapter) ListActiveBanners(_ context.Context, kind string, now time.Time) ([]models.Banner, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.Banner
	for _, b := range a.banners {
		if b.Kind == kind && b.IsActiveAt(now) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (a *testAdapter) UpdateBannerImpression(_ context.Context, id int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.banners[id]
	if !ok {
		return store.ErrNotFound
	}
	b.Impressions++
	return nil
}

func (a *testAdapter) UpdateBannerClick(_ context.Context, id int, ip string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.banners[id]
	if !ok {
		return store.ErrNotFound
	}
	b.Clicks++
	if a.uniques[id] == nil {
		a.uniques[id] = make(map[string]bool)
	}
	if !a.uniques[id][ip] {
		a.uniques[id][ip] = true
		b.UniqueClicks++
	}
	return nil
}

type testEnv struct {
	srv     *Server
	adapter *testAdapter
	queue   recorder.Queue
}

func newTestEnv(t *testing.T, limiter *ratelimit.SlidingWindow) *testEnv {
	t.Helper()
	dir := t.TempDir()

	tplPath := filepath.Join(dir, "landing.html")
	if err := os.WriteFile(tplPath, []byte(testTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	ipPath := filepath.Join(dir, "v4.json")
	if err := os.WriteFile(ipPath, []byte(ipFixture), 0o644); err != nil {
		t.Fatalf("write ip fixture: %v", err)
	}

	classifier := geoip.New(geoip.Options{
		PathV4:         ipPath,
		PathV6:         filepath.Join(dir, "none"),
		AllowCountries: []string{"VN"},
		DatacenterISPs: []string{"google", "amazon", "cloudflare"},
	}, zap.NewNop())
	t.Cleanup(func() { _ = classifier.Close() })

	adapter := newTestAdapter()
	logger := zap.NewNop()
	links := store.NewLinkStore(adapter, logger)
	banners := store.NewBannerStore(adapter, rand.NewSource(1), logger)

	// Workers stay unstarted so tests can inspect queued records.
	queue := recorder.NewMemoryQueue(100)
	rec := recorder.New(queue, links, nil, nil, logger, recorder.Options{Workers: 1})

	cfg := config.Config{SiteName: "mysite"}
	srv := NewServer(logger, links, banners, rec, template.NewStore(tplPath, logger), classifier, limiter, observability.NewNoOpRegistry(), cfg, nil, nil)

	return &testEnv{srv: srv, adapter: adapter, queue: queue}
}

func (e *testEnv) addLink(slug string) {
	e.adapter.links[slug] = &models.Link{
		Slug:      slug,
		Title:     "Deal Title",
		ImageURL:  "https://img.example/x.jpg",
		TargetURL: "https://shop.example/buy",
		Active:    true,
	}
}

func (e *testEnv) poppedClick(t *testing.T) models.ClickRecord {
	t.Helper()
	if e.queue.Len() == 0 {
		t.Fatal("no click record queued")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, ok := e.queue.Pop(ctx)
	if !ok {
		t.Fatal("pop click record failed")
	}
	return rec
}

func doGet(t *testing.T, h http.Handler, path, ip, ua string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":40000"
	req.Host = "land.example"
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLandingValidVisitor(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")

	w := doGet(t, env.srv.Router(), "/deal", ipResidentialVN, uaChrome)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<title>Deal Title</title>") {
		t.Fatalf("meta title not injected:\n%s", body)
	}
	if !strings.Contains(body, "http://land.example/deal") {
		t.Fatalf("og:url not injected:\n%s", body)
	}

	rec := env.poppedClick(t)
	if !rec.Valid || rec.InvalidReason != "" {
		t.Fatalf("click should be valid: %+v", rec)
	}
	if rec.IP != ipResidentialVN || rec.Slug != "deal" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestLandingDatacenterVisitor(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")

	w := doGet(t, env.srv.Router(), "/deal", ipDatacenter, uaChrome)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Deal Title") {
		t.Fatal("datacenter visitor should still see the page")
	}

	rec := env.poppedClick(t)
	if rec.Valid || rec.InvalidReason != models.ReasonSuspiciousISP {
		t.Fatalf("want suspicious_isp, got %+v", rec)
	}
}

func TestLandingForeignVisitor(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")

	doGet(t, env.srv.Router(), "/deal", ipForeign, uaChrome)

	rec := env.poppedClick(t)
	if rec.Valid || rec.InvalidReason != models.ReasonForeignCountry {
		t.Fatalf("want foreign_country, got %+v", rec)
	}
}

func TestLandingCrawlerSeesPageWithoutRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")

	w := doGet(t, env.srv.Router(), "/deal", ipDatacenter, uaFacebook)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Deal Title") {
		t.Fatal("crawler must receive the full meta page")
	}
	if env.queue.Len() != 0 {
		t.Fatal("crawler hit must not enqueue a click")
	}
}

func TestLandingBotGetsDecoy(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")

	w := doGet(t, env.srv.Router(), "/deal", ipResidentialVN, uaCurl)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-Robots-Tag"); got != "noindex, nofollow" {
		t.Fatalf("X-Robots-Tag = %q", got)
	}
	if strings.Contains(w.Body.String(), "Deal Title") {
		t.Fatal("bot must not see affiliate content")
	}
	if env.queue.Len() != 0 {
		t.Fatal("bot hit must not enqueue a click")
	}
}

func TestLandingUnknownSlugReturns200(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doGet(t, env.srv.Router(), "/ghost", ipResidentialVN, uaChrome)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, unknown slug must stay 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Không tìm thấy") {
		t.Fatalf("not-found meta missing:\n%s", w.Body.String())
	}
	if env.queue.Len() != 0 {
		t.Fatal("unknown slug must not enqueue a click")
	}
}

func TestLandingInactiveLink(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")
	env.adapter.links["deal"].Active = false

	w := doGet(t, env.srv.Router(), "/deal", ipResidentialVN, uaChrome)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Không tìm thấy") {
		t.Fatal("inactive link should serve the not-found page")
	}
	if env.queue.Len() != 0 {
		t.Fatal("inactive link must not enqueue a click")
	}
}

func TestLandingRateLimited(t *testing.T) {
	limiter := ratelimit.NewSlidingWindow(1, time.Minute)
	env := newTestEnv(t, limiter)
	env.addLink("deal")
	router := env.srv.Router()

	doGet(t, router, "/deal", ipResidentialVN, uaChrome)
	first := env.poppedClick(t)
	if !first.Valid {
		t.Fatalf("first click should be valid: %+v", first)
	}

	doGet(t, router, "/deal", ipResidentialVN, uaChrome)
	second := env.poppedClick(t)
	if second.Valid || second.InvalidReason != models.ReasonRateLimited {
		t.Fatalf("want rate_limited, got %+v", second)
	}
}

func TestLandingUnparseableProxyHeader(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")
	env.srv.Config.TrustProxyHeaders = true

	req := httptest.NewRequest(http.MethodGet, "/deal", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Host = "land.example"
	req.Header.Set("User-Agent", uaChrome)
	req.Header.Set("X-Real-IP", "not-an-ip")
	w := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, garbage header still sees the page", w.Code)
	}
	rec := env.poppedClick(t)
	if rec.Valid || rec.InvalidReason != models.ReasonInvalidIP {
		t.Fatalf("want invalid_ip, got %+v", rec)
	}
}

func TestLandingFallbackWithoutTemplate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")
	env.srv.Templates = template.NewStore(filepath.Join(t.TempDir(), "missing.html"), zap.NewNop())

	w := doGet(t, env.srv.Router(), "/deal", ipResidentialVN, uaChrome)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "og:title") || !strings.Contains(body, `content="0;url=/"`) {
		t.Fatalf("fallback page malformed:\n%s", body)
	}
}

func TestBridgeRedirect(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")

	w := doGet(t, env.srv.BridgeRouter(), "/go/deal", ipResidentialVN, uaChrome)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "https://shop.example/buy" {
		t.Fatalf("Location = %q", got)
	}
	headers := map[string]string{
		"Referrer-Policy":        "no-referrer-when-downgrade",
		"Cache-Control":          "no-store, no-cache, must-revalidate",
		"Pragma":                 "no-cache",
		"Expires":                "0",
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	}
	for k, want := range headers {
		if got := w.Header().Get(k); got != want {
			t.Fatalf("%s = %q, want %q", k, got, want)
		}
	}

	rec := env.poppedClick(t)
	if !rec.Valid || rec.Slug != "deal" {
		t.Fatalf("bridge click record = %+v", rec)
	}
}

func TestBridgeUnknownSlug(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doGet(t, env.srv.BridgeRouter(), "/go/ghost", ipResidentialVN, uaChrome)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if env.queue.Len() != 0 {
		t.Fatal("missing slug must not enqueue a click")
	}
}

func TestBridgeEmptySlug(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doGet(t, env.srv.BridgeRouter(), "/go/", ipResidentialVN, uaChrome)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestBridgeNotRateLimited(t *testing.T) {
	limiter := ratelimit.NewSlidingWindow(1, time.Minute)
	env := newTestEnv(t, limiter)
	env.addLink("deal")
	router := env.srv.BridgeRouter()

	for i := 0; i < 3; i++ {
		doGet(t, router, "/go/deal", ipResidentialVN, uaChrome)
		rec := env.poppedClick(t)
		if !rec.Valid || rec.InvalidReason != "" {
			t.Fatalf("bridge click %d should stay valid: %+v", i, rec)
		}
	}
}

func TestBridgeBotNotCounted(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addLink("deal")

	w := doGet(t, env.srv.BridgeRouter(), "/go/deal", ipResidentialVN, uaCurl)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, bots still get redirected", w.Code)
	}
	if env.queue.Len() != 0 {
		t.Fatal("bot redirect must not enqueue a click")
	}
}

func addBanner(env *testEnv, id, weight, priority int) {
	env.adapter.banners[id] = &models.Banner{
		ID:               id,
		Name:             "promo",
		ImageURL:         "https://img.example/b.jpg",
		TargetSlug:       "deal",
		Kind:             models.BannerKindStickyBottom,
		Active:           true,
		DeviceConstraint: models.DeviceAny,
		Weight:           weight,
		Priority:         priority,
	}
}

func TestRandomBannerServedAndCounted(t *testing.T) {
	env := newTestEnv(t, nil)
	addBanner(env, 1, 70, 1)

	w := doGet(t, env.srv.Router(), "/api/banners/random?kind=sticky_bottom", ipResidentialVN, uaChrome)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Data["id"] != float64(1) {
		t.Fatalf("resp = %+v", resp)
	}
	for _, key := range []string{"imageUrl", "kind", "targetSlug", "displayWidthPercent", "dismissible"} {
		if _, ok := resp.Data[key]; !ok {
			t.Fatalf("public field %q missing: %+v", key, resp.Data)
		}
	}
	// Selection internals and counters never leave the server.
	for _, key := range []string{"weight", "priority", "active", "targetUrl", "impressions", "clicks", "uniqueClicks", "startAt", "targetArticles"} {
		if _, ok := resp.Data[key]; ok {
			t.Fatalf("internal field %q leaked: %+v", key, resp.Data)
		}
	}
	if env.adapter.banners[1].Impressions != 1 {
		t.Fatalf("stored impressions = %d, want 1", env.adapter.banners[1].Impressions)
	}
}

func TestRandomBannerNoneActive(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doGet(t, env.srv.Router(), "/api/banners/random", ipResidentialVN, uaChrome)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var resp bannerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Error != "No active banner found" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestBannerClick(t *testing.T) {
	env := newTestEnv(t, nil)
	addBanner(env, 1, 70, 1)
	router := env.srv.Router()

	post := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/banners/1/click", nil)
		req.RemoteAddr = ip + ":40000"
		req.Header.Set("User-Agent", uaChrome)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := post(ipResidentialVN); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	post(ipResidentialVN)
	post("123.21.0.2")

	b := env.adapter.banners[1]
	if b.Clicks != 3 {
		t.Fatalf("clicks = %d, want 3", b.Clicks)
	}
	if b.UniqueClicks != 2 {
		t.Fatalf("unique clicks = %d, want 2", b.UniqueClicks)
	}
}

func TestBannerClickBadID(t *testing.T) {
	env := newTestEnv(t, nil)
	router := env.srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/banners/abc/click", nil)
	req.RemoteAddr = ipResidentialVN + ":40000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestBannerClickUnknownBanner(t *testing.T) {
	env := newTestEnv(t, nil)
	router := env.srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/banners/99/click", nil)
	req.RemoteAddr = ipResidentialVN + ":40000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListBanners(t *testing.T) {
	env := newTestEnv(t, nil)
	for id, pr := range map[int]int{1: 2, 2: 1} {
		addBanner(env, id, 50, pr)
		env.adapter.banners[id].Kind = models.BannerKindInline
	}

	w := doGet(t, env.srv.Router(), "/api/banners?kind=inline", ipResidentialVN, uaChrome)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Success bool `json:"success"`
		Data    []struct {
			ID int `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0].ID != 2 {
		t.Fatalf("want priority order [2 1], got %+v", resp.Data)
	}
}

func TestHealthShape(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doGet(t, env.srv.Router(), "/health", ipResidentialVN, uaChrome)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// No Postgres in the test env, so the process reports degraded.
	if resp.Status != "degraded" {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.TemplateStatus != "empty" && resp.TemplateStatus != "loaded" {
		t.Fatalf("template status = %q", resp.TemplateStatus)
	}
}
