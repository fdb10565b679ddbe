// Package auth resolves an inbound request's credential material into a
// validated room membership, or fails closed. Tokens are anonymous,
// room-scoped capabilities: holding one is the identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vanish-chat/vanish/internal/room"
)

// Credential transport locations, in extraction precedence order.
const (
	HeaderAuthorization = "Authorization"
	HeaderToken         = "X-Auth-Token"
	CookieName          = "auth_token"
	QueryParam          = "token"
)

// ErrUnauthorized marks all authentication failures; wrap details with %w.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Source records where a credential was extracted from.
type Source string

const (
	SourceNone          Source = ""
	SourceAuthorization Source = "authorization"
	SourceHeader        Source = "header"
	SourceCookie        Source = "cookie"
	SourceQuery         Source = "query"
)

// Credential is a token extracted from a request, resolved once per request
// rather than re-derived per handler.
type Credential struct {
	Token  string
	Source Source
}

// Identity is a validated membership: the caller's token plus the room's
// current member set, which callers use to mark which stored messages belong
// to them.
type Identity struct {
	RoomID  string
	Token   string
	Members []string
}

// Resolver validates credentials against room member sets.
type Resolver struct {
	rooms *room.Store

	// AllowQueryToken enables the token query parameter as a credential
	// source. Intended for integration tests only; leave off in production.
	AllowQueryToken bool
}

// NewResolver creates a resolver backed by the given room store.
func NewResolver(rooms *room.Store, allowQueryToken bool) *Resolver {
	return &Resolver{rooms: rooms, AllowQueryToken: allowQueryToken}
}

// FromRequest extracts the caller's credential. Precedence, first present
// wins: Authorization bearer header, dedicated token header, cookie, then
// query parameter (only when enabled).
func (r *Resolver) FromRequest(req *http.Request) Credential {
	if h := req.Header.Get(HeaderAuthorization); h != "" {
		token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if token != "" {
			return Credential{Token: token, Source: SourceAuthorization}
		}
	}
	if h := req.Header.Get(HeaderToken); h != "" {
		return Credential{Token: h, Source: SourceHeader}
	}
	if c, err := req.Cookie(CookieName); err == nil && c.Value != "" {
		return Credential{Token: c.Value, Source: SourceCookie}
	}
	if r.AllowQueryToken {
		if q := req.URL.Query().Get(QueryParam); q != "" {
			return Credential{Token: q, Source: SourceQuery}
		}
	}
	return Credential{}
}

// Resolve validates the credential against the room's member set and returns
// the caller's identity. Rejections surface as ErrUnauthorized; storage
// failures pass through unchanged.
func (r *Resolver) Resolve(ctx context.Context, roomID string, cred Credential) (*Identity, error) {
	if roomID == "" || cred.Token == "" {
		return nil, fmt.Errorf("%w: missing room id or token", ErrUnauthorized)
	}

	rm, err := r.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, fmt.Errorf("%w: room not found or expired", ErrUnauthorized)
	}
	if !rm.IsMember(cred.Token) {
		return nil, fmt.Errorf("%w: not a member of this room", ErrUnauthorized)
	}

	return &Identity{RoomID: roomID, Token: cred.Token, Members: rm.Connected}, nil
}
