// Package auth handles sessions, role checks, anti-forgery tokens and
// external sign-in.
package auth

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/markbates/goth/gothic"
	"github.com/petermazzocco/go-image-sharing/internal/config"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
)

const SessionName = "imgshare_session"

const (
	keyUserID   = "user_id"
	keyUserName = "user_name"
	keyRoles    = "roles"
	keyRemember = "remember"
)

// NewCookieStore builds the signed cookie store shared by application
// sessions and gothic.
func NewCookieStore(cfg config.SessionConfig) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.Secret))
	store.MaxAge(cfg.MaxAge)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = cfg.Secure
	store.Options.SameSite = http.SameSiteLaxMode
	gothic.Store = store
	return store
}

// Principal is the signed in user as carried by the session.
type Principal struct {
	ID       uint
	UserName string
	Roles    []string
}

func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type principalKey struct{}

// FromContext returns the principal Middleware stored, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// UserLookup loads the current state of a user.
type UserLookup interface {
	Get(ctx context.Context, id uint) (*models.User, error)
}

type Manager struct {
	store  sessions.Store
	users  UserLookup
	log    *zap.Logger
	maxAge int
}

func NewManager(store sessions.Store, users UserLookup, log *zap.Logger, maxAge int) *Manager {
	return &Manager{store: store, users: users, log: log, maxAge: maxAge}
}

func (m *Manager) session(r *http.Request) *sessions.Session {
	s, err := m.store.Get(r, SessionName)
	if err != nil {
		// undecodable cookie, start over with the fresh session
		m.log.Debug("discarding session", zap.Error(err))
	}
	return s
}

// SignIn stores u in the session. Without remember the cookie ends with
// the browser session.
func (m *Manager) SignIn(w http.ResponseWriter, r *http.Request, u *models.User, remember bool) error {
	s := m.session(r)
	s.Values[keyUserID] = u.ID
	s.Values[keyUserName] = u.UserName
	s.Values[keyRoles] = u.RoleNames()
	s.Values[keyRemember] = remember
	return m.save(w, r, s)
}

// save writes s, keeping a signed in session without remember-me limited
// to the browser session.
func (m *Manager) save(w http.ResponseWriter, r *http.Request, s *sessions.Session) error {
	opts := *s.Options
	opts.MaxAge = m.maxAge
	if _, signedIn := s.Values[keyUserID]; signedIn {
		if remember, _ := s.Values[keyRemember].(bool); !remember {
			opts.MaxAge = 0
		}
	}
	s.Options = &opts
	return s.Save(r, w)
}

// SignOut drops the principal and expires the session cookie.
func (m *Manager) SignOut(w http.ResponseWriter, r *http.Request) error {
	s := m.session(r)
	for _, k := range []string{keyUserID, keyUserName, keyRoles, keyRemember} {
		delete(s.Values, k)
	}
	opts := *s.Options
	opts.MaxAge = -1
	s.Options = &opts
	return s.Save(r, w)
}

func principalFrom(s *sessions.Session) (*Principal, bool) {
	id, ok := s.Values[keyUserID].(uint)
	if !ok || id == 0 {
		return nil, false
	}
	name, _ := s.Values[keyUserName].(string)
	roles, _ := s.Values[keyRoles].([]string)
	return &Principal{ID: id, UserName: name, Roles: roles}, true
}
