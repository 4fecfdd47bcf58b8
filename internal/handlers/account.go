package handlers

import (
	"net/http"
	"net/url"

	"github.com/petermazzocco/go-image-sharing/internal/apperr"
	"github.com/petermazzocco/go-image-sharing/internal/auth"
	"github.com/petermazzocco/go-image-sharing/internal/users"
	"github.com/petermazzocco/go-image-sharing/models"
	"go.uber.org/zap"
)

type registerModel struct {
	Email string `json:"email"`
	Ada   bool   `json:"ada"`
}

type loginModel struct {
	UserName   string `json:"userName"`
	RememberMe bool   `json:"rememberMe"`
	ReturnURL  string `json:"returnUrl,omitempty"`
}

type returnModel struct {
	ReturnURL string `json:"returnUrl,omitempty"`
}

func (h *Handler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, "Register", registerModel{}, "", nil)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	form := parseRegister(r)
	model := registerModel{Email: form.Email, Ada: form.Ada}
	if err := check(form); err != nil {
		h.fail(w, r, "Register", model, err)
		return
	}

	u, err := h.Users.Register(r.Context(), users.RegisterInput{
		Email:           form.Email,
		Password:        form.Password,
		ConfirmPassword: form.ConfirmPassword,
		Ada:             form.Ada,
	})
	if err != nil {
		h.fail(w, r, "Register", model, err)
		return
	}
	if err := h.Auth.SignIn(w, r, u, false); err != nil {
		h.fail(w, r, "Register", model, apperr.Internal(err, "sign in"))
		return
	}
	auth.SetAda(w, u.Ada, h.SecureCookies)
	redirect(w, r, "/?UserName="+url.QueryEscape(u.UserName))
}

func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, "Login", loginModel{ReturnURL: r.URL.Query().Get("ReturnUrl")}, "", nil)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	form := parseLogin(r)
	model := loginModel{UserName: form.UserName, RememberMe: form.RememberMe, ReturnURL: form.ReturnURL}
	if err := check(form); err != nil {
		h.fail(w, r, "Login", model, err)
		return
	}

	u, err := h.Users.Authenticate(r.Context(), form.UserName, form.Password)
	if err != nil {
		if apperr.Is(err, apperr.KindAuth) {
			h.Log.Info("login rejected", zap.String("user_name", form.UserName), zap.Error(err))
		}
		h.fail(w, r, "Login", model, err)
		return
	}
	h.completeLogin(w, r, u, form.RememberMe, form.ReturnURL)
}

func (h *Handler) completeLogin(w http.ResponseWriter, r *http.Request, u *models.User, remember bool, returnURL string) {
	if err := h.Auth.SignIn(w, r, u, remember); err != nil {
		h.fail(w, r, "Login", loginModel{UserName: u.UserName}, apperr.Internal(err, "sign in"))
		return
	}
	auth.SetAda(w, u.Ada, h.SecureCookies)
	h.Log.Info("user signed in", zap.Uint("user_id", u.ID))
	redirect(w, r, auth.LocalURL(returnURL))
}

func (h *Handler) LogoutForm(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	h.renderForm(w, r, http.StatusOK, "Logout", loginModel{UserName: p.UserName}, "", nil)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.SignOut(w, r); err != nil {
		h.Log.Error("failed to clear session", zap.Error(err))
	}
	redirect(w, r, "/")
}

func (h *Handler) PasswordForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, "Password", nil, "", nil)
}

func (h *Handler) Password(w http.ResponseWriter, r *http.Request) {
	form := parsePassword(r)
	if err := check(form); err != nil {
		h.fail(w, r, "Password", nil, err)
		return
	}
	p, _ := auth.FromContext(r.Context())
	err := h.Users.ChangePassword(r.Context(), p.ID, form.OldPassword, form.NewPassword, form.ConfirmPassword)
	if err != nil {
		h.fail(w, r, "Password", nil, err)
		return
	}
	h.renderForm(w, r, http.StatusOK, "Password", nil, "Your password has been changed.", nil)
}

func (h *Handler) AccessDenied(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusForbidden, "AccessDenied", returnModel{ReturnURL: r.URL.Query().Get("ReturnUrl")})
}
