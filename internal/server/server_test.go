package server

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
	attestrepo "github.com/voxguard/voxguard/internal/attest/repository"
	attestservice "github.com/voxguard/voxguard/internal/attest/service"
	"github.com/voxguard/voxguard/internal/broker"
	"github.com/voxguard/voxguard/internal/config"
	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	ledgerrepo "github.com/voxguard/voxguard/internal/ledger/repository"
	ledgerservice "github.com/voxguard/voxguard/internal/ledger/service"
	"github.com/voxguard/voxguard/internal/observability"
	"github.com/voxguard/voxguard/internal/pricing"
	"github.com/voxguard/voxguard/internal/ratelimit"
	usagedomain "github.com/voxguard/voxguard/internal/usage/domain"
	usageservice "github.com/voxguard/voxguard/internal/usage/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testTeamID   = "TEAM123456"
	testBundleID = "com.voxguard.app"
)

func testConfig(limits config.RateLimitConfig) config.Config {
	return config.Config{
		Attest: config.AttestConfig{
			TeamID:              testTeamID,
			BundleID:            testBundleID,
			ChallengeTTLSeconds: 60,
			KeyRetentionDays:    90,
		},
		RateLimit: limits,
	}
}

type gateway struct {
	engine *gin.Engine
	db     *gorm.DB
}

func newTestGateway(t *testing.T, cfg config.Config, brokerCfg config.BrokerConfig) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&attestdomain.AttestedKey{},
		&ledgerdomain.Receipt{},
		&ledgerdomain.UserAccount{},
		&usagedomain.UsageLog{},
	))

	log := zap.NewNop()
	holder := pricing.NewStaticHolder(pricing.DefaultTable())

	attestSvc := attestservice.NewService(attestservice.ServiceParam{
		Log:        log,
		Cfg:        cfg,
		Repo:       attestrepo.NewKeyStore(db),
		Challenges: attestrepo.NewMemoryChallengeStore(),
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{
		Log:     log,
		Cfg:     cfg,
		Repo:    ledgerrepo.NewLedgerStore(db),
		Pricing: holder,
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB:      db,
		Log:     log,
		Node:    node,
		Ledger:  ledgerrepo.NewLedgerStore(db),
		Pricing: holder,
	})

	engine := NewEngine(observability.Config{}, nil)
	srv := NewServer(Params{
		Engine:    engine,
		Cfg:       cfg,
		Log:       log,
		AttestSvc: attestSvc,
		LedgerSvc: ledgerSvc,
		UsageSvc:  usageSvc,
		Broker: broker.NewBroker(broker.Params{
			Log: log,
			Cfg: config.Config{Broker: brokerCfg},
		}),
		Limiter: ratelimit.NewLimiter(ratelimit.Params{Cfg: cfg, Log: log}),
	})
	srv.RegisterRoutes()

	return &gateway{engine: engine, db: db}
}

func (g *gateway) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.engine.ServeHTTP(rec, req)
	return rec
}

// device simulates one attested client key.

type device struct {
	keyID   string
	key     *ecdsa.PrivateKey
	certDER []byte
	counter uint32
}

func newDevice(t *testing.T, keyID string) *device {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "voxguard test device"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &device{keyID: keyID, key: key, certDER: der}
}

func cborHeader(major byte, n uint64) []byte {
	switch {
	case n < 24:
		return []byte{major<<5 | byte(n)}
	case n <= 0xff:
		return []byte{major<<5 | 24, byte(n)}
	default:
		return []byte{major<<5 | 25, byte(n >> 8), byte(n)}
	}
}

func cborText(s string) []byte  { return append(cborHeader(3, uint64(len(s))), s...) }
func cborBytes(b []byte) []byte { return append(cborHeader(2, uint64(len(b))), b...) }

func rpHash() []byte {
	h := sha256.Sum256([]byte(testTeamID + "." + testBundleID))
	return h[:]
}

func (d *device) authData(counter uint32) []byte {
	out := make([]byte, 37)
	copy(out, rpHash())
	out[32] = 0x40
	binary.BigEndian.PutUint32(out[33:], counter)
	return out
}

func (d *device) attestation() []byte {
	x5c := append(cborHeader(4, 1), cborBytes(d.certDER)...)
	attStmt := cborHeader(5, 2)
	attStmt = append(attStmt, cborText("x5c")...)
	attStmt = append(attStmt, x5c...)
	attStmt = append(attStmt, cborText("receipt")...)
	attStmt = append(attStmt, cborBytes([]byte("receipt-blob"))...)

	out := cborHeader(5, 3)
	out = append(out, cborText("fmt")...)
	out = append(out, cborText("apple-appattest")...)
	out = append(out, cborText("attStmt")...)
	out = append(out, attStmt...)
	out = append(out, cborText("authData")...)
	out = append(out, cborBytes(d.authData(0))...)
	return out
}

func (d *device) assertion(t *testing.T, clientDataHash []byte) []byte {
	t.Helper()

	d.counter++
	authData := d.authData(d.counter)
	payload := append(append([]byte{}, authData...), clientDataHash...)
	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, d.key, digest[:])
	require.NoError(t, err)

	out := cborHeader(5, 2)
	out = append(out, cborText("signature")...)
	out = append(out, cborBytes(sig)...)
	out = append(out, cborText("authenticatorData")...)
	out = append(out, cborBytes(authData)...)
	return out
}

func (g *gateway) register(t *testing.T, d *device) {
	t.Helper()

	rec := g.do(httptest.NewRequest(http.MethodPost, "/attest/challenge", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	challenge := rec.Body.Bytes()
	require.Len(t, challenge, 32)

	body, err := json.Marshal(map[string]string{
		"keyId":       d.keyID,
		"attestation": base64.StdEncoding.EncodeToString(d.attestation()),
		"challenge":   base64.StdEncoding.EncodeToString(challenge),
	})
	require.NoError(t, err)

	rec = g.do(httptest.NewRequest(http.MethodPost, "/attest/verify", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// signedRequest builds a request carrying a fresh assertion over the
// exact method, path and body being sent.
func (g *gateway) signedRequest(t *testing.T, d *device, userID, method, path string, body []byte) *http.Request {
	t.Helper()

	hash := attestservice.ClientDataHash(method, path, "", body)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(HeaderAttestKeyID, d.keyID)
	req.Header.Set(HeaderAttestAssert, base64.StdEncoding.EncodeToString(d.assertion(t, hash)))
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	return req
}

func syncBody(t *testing.T, txs ...ledgerdomain.Transaction) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{"transactions": txs})
	require.NoError(t, err)
	return body
}

func disabledLimits() config.RateLimitConfig {
	return config.RateLimitConfig{Enabled: false}
}

func TestEndToEndScenario(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})
	d := newDevice(t, "key-1")
	g.register(t, d)

	purchase := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	// Buy credits.10: remaining becomes 10.
	body := syncBody(t, ledgerdomain.Transaction{
		TransactionID:  "tx-1",
		ProductID:      pricing.ProductCredits10,
		PurchaseDateMs: purchase.UnixMilli(),
	})
	rec := g.do(g.signedRequest(t, d, "u1", http.MethodPost, "/credits/transactions/sync", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sync ledgerdomain.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sync))
	require.True(t, sync.Success)
	require.Equal(t, 1, sync.ProcessedCount)
	require.InDelta(t, 10.0, sync.Remaining, 1e-9)

	// Ten minutes of voice at $0.05/min costs fifty cents.
	body, err := json.Marshal(map[string]any{
		"service": pricing.ServiceVoice,
		"usage":   map[string]any{"minutes": 10},
	})
	require.NoError(t, err)
	rec = g.do(g.signedRequest(t, d, "u1", http.MethodPost, "/credits/usage/track", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var track usagedomain.TrackResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &track))
	require.InDelta(t, 0.50, track.Cost, 1e-9)
	require.InDelta(t, 9.50, track.Remaining, 1e-9)
	require.False(t, track.Exceeded)

	// The purchase is refunded; the balance goes negative.
	body = syncBody(t, ledgerdomain.Transaction{
		TransactionID:    "tx-1",
		ProductID:        pricing.ProductCredits10,
		PurchaseDateMs:   purchase.UnixMilli(),
		RevocationDateMs: purchase.Add(48 * time.Hour).UnixMilli(),
		RevocationReason: "customer request",
	})
	rec = g.do(g.signedRequest(t, d, "u1", http.MethodPost, "/credits/transactions/sync", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = g.do(g.signedRequest(t, d, "u1", http.MethodGet, "/credits/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var balance struct {
		Success   bool    `json:"success"`
		Remaining float64 `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.True(t, balance.Success)
	require.InDelta(t, -0.50, balance.Remaining, 1e-9)

	var row ledgerdomain.Receipt
	require.NoError(t, g.db.First(&row, "transaction_id = ?", "tx-1").Error)
	require.Equal(t, ledgerdomain.TypeRefund, row.TransactionType)
	require.NotNil(t, row.RevocationDate)
}

func TestSync_PartialBatchReturns207(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})
	d := newDevice(t, "key-1")
	g.register(t, d)

	body := syncBody(t,
		ledgerdomain.Transaction{
			TransactionID:  "tx-1",
			ProductID:      pricing.ProductCredits10,
			PurchaseDateMs: time.Now().UnixMilli(),
		},
		ledgerdomain.Transaction{ProductID: pricing.ProductCredits10, PurchaseDateMs: time.Now().UnixMilli()},
	)
	rec := g.do(g.signedRequest(t, d, "u1", http.MethodPost, "/credits/transactions/sync", body))
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	var sync ledgerdomain.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sync))
	require.False(t, sync.Success)
	require.Len(t, sync.Errors, 1)
}

func TestProtected_MissingHeaders(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
	req.Header.Set(HeaderUserID, "u1")
	rec := g.do(req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "unauthorized", resp.Error)
}

func TestProtected_MissingUser(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})
	d := newDevice(t, "key-1")
	g.register(t, d)

	rec := g.do(g.signedRequest(t, d, "", http.MethodGet, "/credits/balance", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtected_InvalidAssertion(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})
	d := newDevice(t, "key-1")
	g.register(t, d)

	req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderAttestKeyID, d.keyID)
	req.Header.Set(HeaderAttestAssert, base64.StdEncoding.EncodeToString([]byte("junk")))
	rec := g.do(req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProtected_ReplayedAssertion(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})
	d := newDevice(t, "key-1")
	g.register(t, d)

	hash := attestservice.ClientDataHash(http.MethodGet, "/credits/balance", "", nil)
	assertion := base64.StdEncoding.EncodeToString(d.assertion(t, hash))

	for i, want := range []int{http.StatusOK, http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
		req.Header.Set(HeaderUserID, "u1")
		req.Header.Set(HeaderAttestKeyID, d.keyID)
		req.Header.Set(HeaderAttestAssert, assertion)
		rec := g.do(req)
		require.Equal(t, want, rec.Code, "request %d", i)
	}
}

func TestProtected_TamperedBody(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})
	d := newDevice(t, "key-1")
	g.register(t, d)

	signed := syncBody(t, ledgerdomain.Transaction{
		TransactionID:  "tx-1",
		ProductID:      pricing.ProductCredits10,
		PurchaseDateMs: time.Now().UnixMilli(),
	})
	tampered := syncBody(t, ledgerdomain.Transaction{
		TransactionID:  "tx-1",
		ProductID:      pricing.ProductCredits50,
		PurchaseDateMs: time.Now().UnixMilli(),
	})

	hash := attestservice.ClientDataHash(http.MethodPost, "/credits/transactions/sync", "", signed)
	req := httptest.NewRequest(http.MethodPost, "/credits/transactions/sync", bytes.NewReader(tampered))
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderAttestKeyID, d.keyID)
	req.Header.Set(HeaderAttestAssert, base64.StdEncoding.EncodeToString(d.assertion(t, hash)))

	rec := g.do(req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAttestVerify_BadRequest(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})

	rec := g.do(httptest.NewRequest(http.MethodPost, "/attest/verify", bytes.NewReader([]byte("{"))))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(httptest.NewRequest(http.MethodPost, "/attest/verify", bytes.NewReader([]byte(`{"keyId":"k"}`))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit_PreAuth(t *testing.T) {
	g := newTestGateway(t, testConfig(config.RateLimitConfig{
		Enabled:       true,
		PreAuthRate:   0.001,
		PreAuthBurst:  2,
		PostAuthRate:  100,
		PostAuthBurst: 100,
	}), config.BrokerConfig{})

	for i := 0; i < 2; i++ {
		rec := g.do(httptest.NewRequest(http.MethodPost, "/attest/challenge", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := g.do(httptest.NewRequest(http.MethodPost, "/attest/challenge", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "rate_limited", resp.Error)
}

func TestRouting(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})

	rec := g.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = g.do(httptest.NewRequest(http.MethodGet, "/attest/challenge", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = g.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVoiceCredentials_Relay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"token":"ephemeral"}`)
	}))
	defer upstream.Close()

	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{
		VoiceAPIBaseURL: upstream.URL,
		VoiceAPIKey:     "sk-test",
	})
	d := newDevice(t, "key-1")
	g.register(t, d)

	body := []byte(`{"session":"voice"}`)
	rec := g.do(g.signedRequest(t, d, "", http.MethodPost, "/voice/credentials", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"token":"ephemeral"}`, rec.Body.String())
}

func TestVoiceCredentials_NotConfigured(t *testing.T) {
	g := newTestGateway(t, testConfig(disabledLimits()), config.BrokerConfig{})
	d := newDevice(t, "key-1")
	g.register(t, d)

	rec := g.do(g.signedRequest(t, d, "", http.MethodPost, "/voice/credentials", []byte(`{}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
