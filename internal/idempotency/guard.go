// Package idempotency replays stored responses for retried mutating requests.
// The key row is written in the same transaction as the mutation it guards,
// so a replay never re-runs side effects and a rolled back request leaves no
// trace.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"experimentservice/internal/apperr"
	"experimentservice/internal/metrics"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	ReasonKeyReused     = "idempotency_key_reused"
	ReasonKeyInProgress = "idempotency_key_in_progress"
	ReasonKeyInvalid    = "idempotency_key_invalid"

	maxKeyLength = 255
	defaultTTL   = 24 * time.Hour
)

type Store interface {
	repository.Transactor
	repository.IdempotencyRepository
}

type Request struct {
	Key    string
	UserID string
	Method string
	Path   string
	Body   []byte
}

type Response struct {
	Status   int
	Body     []byte
	Replayed bool
}

// Handler runs the guarded mutation. The returned body is marshalled once and
// the same bytes are both stored and sent.
type Handler func(ctx context.Context) (status int, body any, err error)

type Guard struct {
	Repo    Store
	TTL     time.Duration
	Cache   Cache
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (g *Guard) Do(ctx context.Context, req Request, fn Handler) (Response, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" || g == nil || g.Repo == nil {
		return execute(ctx, fn)
	}
	if len(key) > maxKeyLength {
		return Response{}, apperr.Validation(ReasonKeyInvalid, "idempotency key longer than %d characters", maxKeyLength)
	}
	hash := BodyHash(req.Body)

	if resp, ok, err := g.fromCache(ctx, key, req, hash); err != nil || ok {
		return resp, err
	}

	now := g.now()
	var out Response
	err := g.Repo.InTx(ctx, func(tx *gorm.DB) error {
		txCtx := repository.WithTx(ctx, tx)
		if err := g.Repo.DeleteExpiredIdempotencyKeyTx(txCtx, tx, key, now); err != nil {
			return err
		}
		inserted, err := g.Repo.ReserveIdempotencyKeyTx(txCtx, tx, &models.IdempotencyKey{
			Key:             key,
			UserID:          req.UserID,
			Method:          strings.ToUpper(req.Method),
			RequestPath:     req.Path,
			RequestBodyHash: hash,
			ExpiresAt:       now.Add(g.ttl()),
		})
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := g.Repo.GetIdempotencyKeyTx(txCtx, tx, key)
			if err != nil {
				return err
			}
			if existing == nil || existing.ResponseStatus == 0 {
				return apperr.Conflict(ReasonKeyInProgress, "a request with this idempotency key is still in progress")
			}
			if err := matches(existing.UserID, existing.Method, existing.RequestPath, existing.RequestBodyHash, req, hash); err != nil {
				return err
			}
			out = Response{Status: existing.ResponseStatus, Body: existing.ResponseBody, Replayed: true}
			return nil
		}

		resp, err := execute(txCtx, fn)
		if err != nil {
			return err
		}
		if err := g.Repo.SaveIdempotencyResponseTx(txCtx, tx, key, resp.Status, resp.Body); err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			g.Metrics.Idempotency("conflict")
		}
		return Response{}, err
	}
	if out.Replayed {
		g.Metrics.Idempotency("replayed")
	} else {
		g.Metrics.Idempotency("executed")
	}
	g.toCache(ctx, key, req, hash, out)
	return out, nil
}

func execute(ctx context.Context, fn Handler) (Response, error) {
	status, body, err := fn(ctx)
	if err != nil {
		return Response{}, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: status, Body: raw}, nil
}

func matches(userID, method, path, hash string, req Request, reqHash string) error {
	if userID != req.UserID || !strings.EqualFold(method, req.Method) || path != req.Path {
		return apperr.Conflict(ReasonKeyReused, "idempotency key was used for a different request")
	}
	if hash != reqHash {
		return apperr.Conflict(ReasonKeyReused, "idempotency key was used with a different request body")
	}
	return nil
}

// BodyHash hashes the canonical form of a JSON body (sorted keys, no
// insignificant whitespace). Bodies that are not JSON are hashed verbatim.
func BodyHash(body []byte) string {
	canonical := body
	if len(strings.TrimSpace(string(body))) > 0 {
		var doc any
		dec := json.NewDecoder(strings.NewReader(string(body)))
		dec.UseNumber()
		if err := dec.Decode(&doc); err == nil && !dec.More() {
			if raw, err := json.Marshal(doc); err == nil {
				canonical = raw
			}
		}
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func (g *Guard) ttl() time.Duration {
	if g.TTL > 0 {
		return g.TTL
	}
	return defaultTTL
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}
