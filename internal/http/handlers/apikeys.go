package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"loginsight/internal/apperr"
	"loginsight/internal/config"
	dbpkg "loginsight/internal/db"
	httpctx "loginsight/internal/http/ctx"
	"loginsight/internal/keys"
)

// KeyManager is the key lifecycle surface the dashboard uses.
type KeyManager interface {
	Issue(ctx context.Context, projectID, name, keyType string) (*keys.Issued, error)
	Regenerate(ctx context.Context, keyID string) (*keys.Issued, error)
	Revoke(ctx context.Context, keyID string) error
	Get(ctx context.Context, keyID string) (*dbpkg.APIKey, error)
}

type createKeyRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type keyResponse struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func issuedResponse(ctx *fasthttp.RequestCtx, issued *keys.Issued) {
	httpctx.JSON(ctx, fasthttp.StatusCreated, keyResponse{
		ID:        issued.Key.ID,
		ProjectID: issued.Key.ProjectID,
		Name:      issued.Key.Name,
		Type:      issued.Key.Type,
		Key:       issued.Secret,
		ExpiresAt: issued.Key.ExpiresAt,
	})
}

// CreateAPIKey mints a key for the project in the path. The secret is only
// ever returned in this response.
func CreateAPIKey(km KeyManager, members Members) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		projectID := pathParam(ctx, "projectId")

		var req createKeyRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			httpctx.Error(ctx, apperr.Validation("invalid JSON body"))
			return
		}
		if req.Name == "" || req.Type == "" {
			httpctx.Error(ctx, apperr.Validation("name and type required"))
			return
		}

		if _, ok := MustMember(ctx, members, projectID); !ok {
			return
		}

		issued, err := km.Issue(ctx, projectID, req.Name, req.Type)
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}
		issuedResponse(ctx, issued)
	}
}

// loadOwnedKey fetches the key in the path and checks that the caller is a
// member of its project. The internal reporting key cannot be managed here.
func loadOwnedKey(ctx *fasthttp.RequestCtx, km KeyManager, members Members, cfg *config.Config) (*dbpkg.APIKey, bool) {
	key, err := km.Get(ctx, pathParam(ctx, "keyId"))
	if err != nil {
		httpctx.Error(ctx, err)
		return nil, false
	}
	if _, ok := MustMember(ctx, members, key.ProjectID); !ok {
		return nil, false
	}
	if cfg.InternalAPIKey != "" && key.TokenHash == dbpkg.HashToken(cfg.InternalAPIKey) {
		httpctx.Error(ctx, apperr.AccessDenied("cannot modify internal API key"))
		return nil, false
	}
	return key, true
}

// RegenerateAPIKey revokes a key and returns its replacement.
func RegenerateAPIKey(km KeyManager, members Members, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := loadOwnedKey(ctx, km, members, cfg)
		if !ok {
			return
		}

		issued, err := km.Regenerate(ctx, key.ID)
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}
		issuedResponse(ctx, issued)
	}
}

// RevokeAPIKey soft-deletes a key.
func RevokeAPIKey(km KeyManager, members Members, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := loadOwnedKey(ctx, km, members, cfg)
		if !ok {
			return
		}

		if err := km.Revoke(ctx, key.ID); err != nil {
			httpctx.Error(ctx, err)
			return
		}
		httpctx.JSON(ctx, fasthttp.StatusOK, map[string]string{"status": "revoked", "id": key.ID})
	}
}
