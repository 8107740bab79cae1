package service

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"time"

	"github.com/voxguard/voxguard/internal/attest/blob"
	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
	"github.com/voxguard/voxguard/internal/config"
	obsmetrics "github.com/voxguard/voxguard/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const challengeLen = 32

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Repo       attestdomain.Repository
	Challenges attestdomain.ChallengeStore
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	repo       attestdomain.Repository
	challenges attestdomain.ChallengeStore
	metrics    *obsmetrics.Metrics

	rpIDHash     []byte
	challengeTTL time.Duration
	retention    time.Duration
}

func NewService(p ServiceParam) attestdomain.Service {
	rpID := p.Cfg.Attest.TeamID + "." + p.Cfg.Attest.BundleID
	hash := sha256.Sum256([]byte(rpID))

	return &Service{
		log:        p.Log.Named("attest.service"),
		repo:       p.Repo,
		challenges: p.Challenges,
		metrics:    p.Metrics,

		rpIDHash:     hash[:],
		challengeTTL: time.Duration(p.Cfg.Attest.ChallengeTTLSeconds) * time.Second,
		retention:    time.Duration(p.Cfg.Attest.KeyRetentionDays) * 24 * time.Hour,
	}
}

func (s *Service) IssueChallenge(ctx context.Context) ([]byte, error) {
	challenge := make([]byte, challengeLen)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}
	if err := s.challenges.Put(ctx, challenge, s.challengeTTL); err != nil {
		return nil, err
	}
	return challenge, nil
}

func (s *Service) RegisterKey(ctx context.Context, keyID string, attestation, challenge []byte) error {
	obj, err := blob.DecodeAttestation(attestation)
	if err != nil {
		s.reject(ctx, "register", "decode", err)
		return attestdomain.ErrVerificationFailed
	}

	// The chain is required to be present but is not validated up to the
	// vendor root; trust rests on the embedded key signature plus the
	// monotonic replay counter. Known gap, kept deliberately.
	if len(obj.CertChain) == 0 {
		s.reject(ctx, "register", "empty_cert_chain", nil)
		return attestdomain.ErrVerificationFailed
	}

	embedded, err := blob.RPIDHash(obj.AuthData)
	if err != nil {
		s.reject(ctx, "register", "short_auth_data", err)
		return attestdomain.ErrVerificationFailed
	}
	if !bytes.Equal(embedded, s.rpIDHash) {
		s.reject(ctx, "register", "rp_id_mismatch", nil)
		return attestdomain.ErrVerificationFailed
	}

	ok, err := s.challenges.Consume(ctx, challenge)
	if err != nil {
		return err
	}
	if !ok {
		s.reject(ctx, "register", "challenge", nil)
		return attestdomain.ErrChallengeInvalid
	}

	leaf, err := x509.ParseCertificate(obj.CertChain[0])
	if err != nil {
		s.reject(ctx, "register", "leaf_cert", err)
		return attestdomain.ErrVerificationFailed
	}
	pub, ok2 := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok2 || pub.Curve != elliptic.P256() {
		s.reject(ctx, "register", "leaf_key_type", nil)
		return attestdomain.ErrVerificationFailed
	}

	encoded, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.repo.Upsert(ctx, &attestdomain.AttestedKey{
		KeyID:     keyID,
		PublicKey: encoded,
		Receipt:   obj.Receipt,
		Counter:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return err
	}

	s.metrics.RecordAttestRegistration(ctx, "ok")
	s.log.Info("attested key registered", zap.String("key_id", keyID))
	return nil
}

func (s *Service) VerifyAssertion(ctx context.Context, keyID string, assertion, clientDataHash []byte) error {
	key, err := s.repo.Get(ctx, keyID)
	if err != nil {
		return err
	}
	if key == nil {
		s.reject(ctx, "assert", "unknown_key", nil)
		return attestdomain.ErrKeyNotFound
	}
	if s.retention > 0 && time.Since(key.CreatedAt) > s.retention {
		// Re-attestation required after the retention window.
		s.reject(ctx, "assert", "key_expired", nil)
		return attestdomain.ErrKeyNotFound
	}

	obj, err := blob.DecodeAssertion(assertion)
	if err != nil {
		s.reject(ctx, "assert", "decode", err)
		return attestdomain.ErrVerificationFailed
	}

	rawSig, err := blob.RawSignatureFromDER(obj.Signature)
	if err != nil {
		s.reject(ctx, "assert", "signature_encoding", err)
		return attestdomain.ErrVerificationFailed
	}
	r, sInt, err := blob.SignatureInts(rawSig)
	if err != nil {
		s.reject(ctx, "assert", "signature_encoding", err)
		return attestdomain.ErrVerificationFailed
	}

	parsed, err := x509.ParsePKIXPublicKey(key.PublicKey)
	if err != nil {
		return err
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return attestdomain.ErrVerificationFailed
	}

	payload := append(append([]byte{}, obj.AuthData...), clientDataHash...)
	digest := sha256.Sum256(payload)
	if !ecdsa.Verify(pub, digest[:], r, sInt) {
		s.reject(ctx, "assert", "bad_signature", nil)
		return attestdomain.ErrVerificationFailed
	}

	counter, err := blob.Counter(obj.AuthData)
	if err != nil {
		s.reject(ctx, "assert", "short_auth_data", err)
		return attestdomain.ErrVerificationFailed
	}
	if counter <= key.Counter {
		s.reject(ctx, "assert", "replayed_counter", nil)
		return attestdomain.ErrVerificationFailed
	}

	applied, err := s.repo.BumpCounter(ctx, keyID, counter)
	if err != nil {
		return err
	}
	if !applied {
		// Lost the race against a concurrent assertion with an equal or
		// higher counter; treat like any other replay.
		s.reject(ctx, "assert", "replayed_counter", nil)
		return attestdomain.ErrVerificationFailed
	}

	s.metrics.RecordAttestAssertion(ctx, "ok")
	return nil
}

func (s *Service) reject(ctx context.Context, stage, reason string, err error) {
	if stage == "register" {
		s.metrics.RecordAttestRegistration(ctx, reason)
	} else {
		s.metrics.RecordAttestAssertion(ctx, reason)
	}
	s.log.Warn("attestation rejected",
		zap.String("stage", stage),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

// ClientDataHash binds a device signature to the exact request being
// authorized: path, raw query (when present), method, then the raw body
// for non-GET requests.
func ClientDataHash(method, path, rawQuery string, body []byte) []byte {
	h := sha256.New()
	h.Write([]byte(path))
	if rawQuery != "" {
		h.Write([]byte(rawQuery))
	}
	h.Write([]byte(method))
	if method != "GET" && len(body) > 0 {
		h.Write(body)
	}
	return h.Sum(nil)
}
