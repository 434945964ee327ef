package middleware

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"loginsight/internal/apperr"
	dbpkg "loginsight/internal/db"
	httpctx "loginsight/internal/http/ctx"
	"loginsight/internal/keys"
)

// KeyValidator authorizes ingest credentials.
type KeyValidator interface {
	Validate(ctx context.Context, token string) (*keys.Identity, error)
}

// SessionStore resolves dashboard sessions.
type SessionStore interface {
	UserForSession(ctx context.Context, tokenHash string, now time.Time) (*dbpkg.User, error)
}

func bearerToken(ctx *fasthttp.RequestCtx) (string, error) {
	auth := ctx.Request.Header.Peek("Authorization")
	if len(auth) == 0 {
		return "", apperr.Unauthorized(apperr.ReasonMissingCredentials, "missing Authorization header")
	}

	const prefix = "Bearer "
	if !bytes.HasPrefix(auth, []byte(prefix)) {
		return "", apperr.Unauthorized(apperr.ReasonMissingCredentials, "invalid Authorization header")
	}

	token := strings.TrimSpace(string(auth[len(prefix):]))
	if token == "" {
		return "", apperr.Unauthorized(apperr.ReasonMissingCredentials, "empty bearer token")
	}
	return token, nil
}

// BearerAuth validates API keys and stores the resolved identity on the
// request context.
func BearerAuth(v KeyValidator) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			token, err := bearerToken(ctx)
			if err != nil {
				httpctx.Error(ctx, err)
				return
			}

			id, err := v.Validate(ctx, token)
			if err != nil {
				httpctx.Error(ctx, err)
				return
			}

			httpctx.SetIdentity(ctx, id)
			next(ctx)
		}
	}
}

// SessionAuth resolves a dashboard bearer session to its user.
func SessionAuth(s SessionStore) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			token, err := bearerToken(ctx)
			if err != nil {
				httpctx.Error(ctx, err)
				return
			}

			user, err := s.UserForSession(ctx, dbpkg.HashToken(token), time.Now())
			if err != nil {
				if errors.Is(err, dbpkg.ErrNotFound) {
					httpctx.Error(ctx, apperr.Unauthorized(apperr.ReasonKeyNotFound, "invalid session"))
					return
				}
				httpctx.Error(ctx, err)
				return
			}

			httpctx.SetUser(ctx, user)
			next(ctx)
		}
	}
}
