package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"git.sr.ht/~kabue/hotspot-api/kernel"
	"git.sr.ht/~kabue/hotspot-api/middleware"
	"git.sr.ht/~kabue/hotspot-api/models"
)

var dbSeq int64

func newTestRuntime(t *testing.T, darajaUrl, ledgerUrl string) *kernel.AppRuntime {
	t.Helper()

	dsn := fmt.Sprintf("file:paytest%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Transaction{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return &kernel.AppRuntime{
		DarajaUrl:      darajaUrl,
		Shortcode:      "174379",
		TillNumber:     "5071234",
		Passkey:        "testpasskey",
		ConsumerKey:    "test-consumer-key",
		ConsumerSecret: "test-consumer-secret",
		CallbackUrl:    "https://example.com/mpesa/callback",
		LedgerUrl:      ledgerUrl,
		PendingTTL:     3 * time.Minute,
		GatewayClient:  &http.Client{Timeout: 5 * time.Second},
		DatabaseClient: db,
		Diagnostic: &kernel.AppDiagnostic{
			Tracer: otel.Tracer("test-tracer"),
			Meter:  otel.Meter("test-meter"),
		},
		Context: context.Background(),
	}
}

func newTestRouter(art *kernel.AppRuntime) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.TracerMiddleware(art))
	RegisterController(r.Group("/"))
	return r
}

// fakeDaraja stands in for the Safaricom gateway: a token endpoint and an
// STK push endpoint returning a canned acknowledgement.
type fakeDaraja struct {
	mu         sync.Mutex
	tokenCalls int
	pushCalls  int
	lastPush   map[string]interface{}
	response   StkPushResponse

	srv *httptest.Server
}

func newFakeDaraja(t *testing.T, response StkPushResponse) *fakeDaraja {
	t.Helper()

	f := &fakeDaraja{response: response}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/oauth/v1/generate"):
			f.mu.Lock()
			f.tokenCalls++
			f.mu.Unlock()
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"access_token":"test-bearer-token","expires_in":"3599"}`)
		case r.URL.Path == "/mpesa/stkpush/v1/processrequest":
			f.mu.Lock()
			f.pushCalls++
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.lastPush = body
			f.mu.Unlock()
			if r.Header.Get("Authorization") != "Bearer test-bearer-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(f.response)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDaraja) counts() (tokens, pushes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.pushCalls
}

// fakeLedger stands in for the Apps Script web app: action=check reads and
// action=save writes.
type fakeLedger struct {
	mu         sync.Mutex
	checkCalls int
	saveCalls  int
	access     bool
	expires    string
	saveStatus int
	saveDelay  time.Duration
	saves      []map[string]interface{}

	srv *httptest.Server
}

func newFakeLedger(t *testing.T) *fakeLedger {
	t.Helper()

	f := &fakeLedger{saveStatus: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			f.checkCalls++
			access, expires := f.access, f.expires
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access":  access,
				"expires": expires,
			})
		case http.MethodPost:
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if f.saveDelay > 0 {
				time.Sleep(f.saveDelay)
			}
			f.mu.Lock()
			f.saveCalls++
			f.saves = append(f.saves, body)
			status := f.saveStatus
			f.mu.Unlock()
			w.WriteHeader(status)
			fmt.Fprint(w, `{"ok":true}`)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLedger) grant(expires time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = true
	f.expires = expires.Format(ledgerTimeLayout)
}

func (f *fakeLedger) counts() (checks, saves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls, f.saveCalls
}

func (f *fakeLedger) lastSave(t *testing.T) map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.saves)
	return f.saves[len(f.saves)-1]
}
