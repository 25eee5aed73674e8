// Package idempotency защищает оформление заказа от повторной отправки по Idempotency-Key.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL — сколько хранится ответ по ключу.
const DefaultTTL = domain.DefaultIdempotencyTTL

// ErrInProgress — запрос с тем же ключом ещё выполняется.
var ErrInProgress = errors.New("request with the same idempotency key is still processing")

// Replay — сохранённый ответ на повторный запрос.
type Replay struct {
	HTTPStatus int
	Body       []byte
}

// Guard реализует протокол: занять ключ, выполнить запрос, сохранить ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт guard; ttl <= 0 заменяется на DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// RequestHash считает отпечаток запроса в рамках scope (метод и путь).
func RequestHash(scope string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(strings.TrimSpace(scope)))
	sum.Write([]byte{'\n'})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// Begin занимает ключ. Если запрос уже завершён, возвращает сохранённый ответ.
// ErrIdempotencyHashMismatch — ключ использован с другим телом, ErrInProgress — первый запрос ещё идёт.
func (g *Guard) Begin(key, requestHash string) (*Replay, error) {
	record, err := g.repo.CreateProcessing(key, requestHash, g.now().Add(g.ttl))
	if err == nil {
		return nil, nil
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Status == domain.IdempotencyStatusProcessing:
			return nil, ErrInProgress
		case record.Finished():
			return &Replay{HTTPStatus: record.HTTPStatus, Body: record.ResponseBody}, nil
		default:
			return nil, fmt.Errorf("idempotency record %q (%s) has no stored response", key, record.Status)
		}
	default:
		return nil, fmt.Errorf("create idempotency record: %w", err)
	}
}

// Complete сохраняет ответ: 2xx как done, остальное как failed.
// Ошибка хранилища только логируется: ответ клиенту уже сформирован.
func (g *Guard) Complete(key string, httpStatus int, body []byte) {
	var err error
	if httpStatus >= http.StatusOK && httpStatus < http.StatusMultipleChoices {
		err = g.repo.MarkDone(key, body, httpStatus)
	} else {
		err = g.repo.MarkFailed(key, body, httpStatus)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
