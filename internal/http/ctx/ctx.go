package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "loginsight/internal/db"
	"loginsight/internal/keys"
)

const (
	UserKey     = "user"
	IdentityKey = "identity"
)

func SetUser(ctx *fasthttp.RequestCtx, user *dbpkg.User) {
	ctx.SetUserValue(UserKey, user)
}

func UserFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	u, ok := ctx.UserValue(UserKey).(*dbpkg.User)
	return u, ok && u != nil
}

func SetIdentity(ctx *fasthttp.RequestCtx, id *keys.Identity) {
	ctx.SetUserValue(IdentityKey, id)
}

func IdentityFromCtx(ctx *fasthttp.RequestCtx) (*keys.Identity, bool) {
	id, ok := ctx.UserValue(IdentityKey).(*keys.Identity)
	return id, ok && id != nil
}
