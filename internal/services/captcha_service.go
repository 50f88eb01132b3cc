package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/evanmoreau/loginshield/internal/clock"
	"github.com/evanmoreau/loginshield/internal/metrics"
	"github.com/evanmoreau/loginshield/internal/models"
	pkglogger "github.com/evanmoreau/loginshield/pkg/logger"
)

// CaptchaEntry is the server-side state for one issued challenge.
type CaptchaEntry struct {
	Answer    int
	Email     string
	ExpiresAt time.Time
}

// CaptchaStore owns issued challenges keyed by token. Delete reports
// whether the token was still present, so concurrent verifications of
// the same token consume it exactly once.
type CaptchaStore interface {
	Put(ctx context.Context, token string, entry CaptchaEntry) error
	Get(ctx context.Context, token string) (CaptchaEntry, bool, error)
	Delete(ctx context.Context, token string) (bool, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// CaptchaConfig holds configuration for the math challenge gate
type CaptchaConfig struct {
	FailureThreshold int
	TTL              time.Duration
}

// Verification messages. Captcha outcomes are always a (bool, message)
// pair, never an error: a wrong or malformed answer is a result.
const (
	captchaMsgVerified  = "captcha verified"
	captchaMsgUnknown   = "captcha expired or invalid, request a new challenge"
	captchaMsgExpired   = "captcha expired, request a new challenge"
	captchaMsgMismatch  = "captcha was issued for a different account"
	captchaMsgMalformed = "answer must be a whole number"
	captchaMsgWrong     = "incorrect answer, try again"
)

// CaptchaService generates and verifies one-time math challenges for
// accounts that have accumulated login failures.
type CaptchaService struct {
	store  CaptchaStore
	config CaptchaConfig
	clock  clock.Clock
	logger *slog.Logger
}

// NewCaptchaService creates a new CaptchaService
func NewCaptchaService(store CaptchaStore, config CaptchaConfig, clk clock.Clock, logger *slog.Logger) *CaptchaService {
	return &CaptchaService{
		store:  store,
		config: config,
		clock:  clk,
		logger: logger,
	}
}

// RequiresCaptcha reports whether the failure count has reached the
// challenge threshold.
func (s *CaptchaService) RequiresCaptcha(failedAttempts int) bool {
	return failedAttempts >= s.config.FailureThreshold
}

// GenerateChallenge issues a fresh math challenge bound to the email.
// Expired challenges are swept lazily on each generation.
func (s *CaptchaService) GenerateChallenge(ctx context.Context, email string) (*models.CaptchaChallenge, error) {
	now := s.clock.Now()

	if removed, err := s.store.SweepExpired(ctx, now); err != nil {
		s.logger.Error("captcha sweep failed", slog.Any("error", err))
	} else if removed > 0 {
		s.logger.Debug("expired captchas swept", slog.Int("removed", removed))
	}

	question, opKind, answer, err := newMathChallenge()
	if err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}

	token, err := generateCaptchaToken(email, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate captcha token: %w", err)
	}

	expiresAt := now.Add(s.config.TTL)
	entry := CaptchaEntry{
		Answer:    answer,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		ExpiresAt: expiresAt,
	}
	if err := s.store.Put(ctx, token, entry); err != nil {
		return nil, fmt.Errorf("failed to store captcha challenge: %w", err)
	}

	s.logger.Info("captcha challenge issued",
		slog.String("email", pkglogger.SanitizedEmail(entry.Email)),
		slog.String("type", opKind))
	metrics.CaptchaIssuedTotal.Inc()

	return &models.CaptchaChallenge{
		Token:     token,
		Question:  question,
		Type:      opKind,
		ExpiresIn: int(s.config.TTL.Seconds()),
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyChallenge checks an answer against the challenge bound to the
// token. The challenge is consumed only on a correct answer; wrong,
// malformed, or mismatched-email answers leave it in place so the user
// can retry until it expires. The email comparison is case-insensitive.
func (s *CaptchaService) VerifyChallenge(ctx context.Context, token, userAnswer, email string) (bool, string) {
	now := s.clock.Now()

	entry, found, err := s.store.Get(ctx, token)
	if err != nil {
		s.logger.Error("captcha lookup failed", slog.Any("error", err))
		return false, captchaMsgUnknown
	}
	if !found {
		metrics.CaptchaVerificationsTotal.WithLabelValues("expired").Inc()
		return false, captchaMsgUnknown
	}

	if !entry.ExpiresAt.After(now) {
		_, _ = s.store.Delete(ctx, token)
		metrics.CaptchaVerificationsTotal.WithLabelValues("expired").Inc()
		return false, captchaMsgExpired
	}

	if !strings.EqualFold(entry.Email, strings.TrimSpace(email)) {
		s.logger.Warn("captcha email mismatch", slog.String("email", pkglogger.SanitizedEmail(email)))
		metrics.CaptchaVerificationsTotal.WithLabelValues("mismatch").Inc()
		return false, captchaMsgMismatch
	}

	answer, err := strconv.Atoi(strings.TrimSpace(userAnswer))
	if err != nil {
		metrics.CaptchaVerificationsTotal.WithLabelValues("malformed").Inc()
		return false, captchaMsgMalformed
	}

	if answer != entry.Answer {
		metrics.CaptchaVerificationsTotal.WithLabelValues("wrong_answer").Inc()
		return false, captchaMsgWrong
	}

	consumed, err := s.store.Delete(ctx, token)
	if err != nil {
		s.logger.Error("captcha consume failed", slog.Any("error", err))
		return false, captchaMsgUnknown
	}
	if !consumed {
		// A concurrent verification already consumed the token.
		metrics.CaptchaVerificationsTotal.WithLabelValues("expired").Inc()
		return false, captchaMsgUnknown
	}

	metrics.CaptchaVerificationsTotal.WithLabelValues("verified").Inc()
	return true, captchaMsgVerified
}

// Sweep removes expired challenges. The background sweeper calls this
// in addition to the lazy sweep on generation.
func (s *CaptchaService) Sweep(ctx context.Context) (int, error) {
	removed, err := s.store.SweepExpired(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error("captcha sweep failed", slog.Any("error", err))
		return 0, err
	}
	return removed, nil
}

// newMathChallenge picks an operation uniformly and builds the question
// text and exact answer. Operand ranges keep subtraction results
// positive and multiplication within mental-arithmetic reach.
func newMathChallenge() (question, opKind string, answer int, err error) {
	op, err := secureRandIntn(3)
	if err != nil {
		return "", "", 0, err
	}

	switch op {
	case 0:
		a, err := randInRange(10, 50)
		if err != nil {
			return "", "", 0, err
		}
		b, err := randInRange(1, 20)
		if err != nil {
			return "", "", 0, err
		}
		return fmt.Sprintf("What is %d + %d?", a, b), models.CaptchaOpAddition, a + b, nil
	case 1:
		a, err := randInRange(20, 50)
		if err != nil {
			return "", "", 0, err
		}
		b, err := randInRange(1, 19)
		if err != nil {
			return "", "", 0, err
		}
		return fmt.Sprintf("What is %d - %d?", a, b), models.CaptchaOpSubtraction, a - b, nil
	default:
		a, err := randInRange(2, 12)
		if err != nil {
			return "", "", 0, err
		}
		b, err := randInRange(2, 9)
		if err != nil {
			return "", "", 0, err
		}
		return fmt.Sprintf("What is %d x %d?", a, b), models.CaptchaOpMultiplication, a * b, nil
	}
}

// generateCaptchaToken derives an unguessable token from the email, the
// issue time, and fresh random bytes, truncated to 32 hex chars.
func generateCaptchaToken(email string, now time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	data := fmt.Sprintf("%s:%d:%x", strings.ToLower(email), now.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)[:32], nil
}

// randInRange returns a secure random integer in [low, high].
func randInRange(low, high int) (int, error) {
	n, err := secureRandIntn(high - low + 1)
	if err != nil {
		return 0, err
	}
	return low + n, nil
}

// secureRandIntn returns a secure random number between 0 and max
// (exclusive). Uses crypto/rand so challenge answers stay unpredictable.
func secureRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}

	randomValue := binary.BigEndian.Uint64(randomBytes)
	return int(randomValue % uint64(max)), nil
}
