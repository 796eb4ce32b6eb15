package signup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/facial-sign-on/internal/domain"
	"github.com/facial-sign-on/internal/infrastructure/axiam"
	"github.com/facial-sign-on/internal/pkg/id"
	"github.com/facial-sign-on/internal/pkg/token"
	"github.com/facial-sign-on/internal/pkg/validate"
)

const (
	verifyTokenBytes = 32
	verifyLinkTTL    = time.Hour
	qrFlowType       = "signup"
	mailSubject      = "Verify your email - Sign in with Face"
	signInPath       = "/users/sign_in"

	minImageBytes = 100 << 10
	maxImageBytes = 10 << 20
)

const msgInvalidSession = "Invalid session. Please start signup again."

type CreateRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required,max=200"`
}

// Created describes a started signup. SignupID goes into the browser cookie.
type Created struct {
	SignupID  string
	ClientID  string
	SiteID    string
	VerifyURL string
}

type Completed struct {
	User        *domain.User
	RedirectURL string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Created, error)
	Verify(ctx context.Context, signupID, tok string) (clientID string, err error)
	QRCode(ctx context.Context, signupID, clientID string) (json.RawMessage, *domain.SignupState, error)
	Complete(ctx context.Context, signupID, clientID, facialURL string) (*Completed, error)
}

type vendor interface {
	CreateClient(ctx context.Context, email, fullName string) (*axiam.ClientRecord, error)
	GenerateQRCode(ctx context.Context, clientID, flowType string) (*axiam.Response, error)
}

type signupStore interface {
	SaveSignup(ctx context.Context, signupID string, st *domain.SignupState) error
	Signup(ctx context.Context, signupID string) (*domain.SignupState, error)
	DropSignup(ctx context.Context, signupID string) error
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
	BindClientID(ctx context.Context, userID, clientID string) error
}

type mailer interface {
	SendEmail(to, subject, body string) error
}

type avatarStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

type ServiceDeps struct {
	Vendor  vendor
	Store   signupStore
	Users   userStore
	Mailer  mailer
	Avatars avatarStore
	// HTTP downloads facial images; nil uses a client that refuses private addresses.
	HTTP    *http.Client
	BaseURL string
}

type service struct {
	vendor  vendor
	store   signupStore
	users   userStore
	mailer  mailer
	avatars avatarStore
	http    *http.Client
	baseURL string
	now     func() time.Time
}

func NewService(d ServiceDeps) Service {
	hc := d.HTTP
	if hc == nil {
		hc = newImageClient(15 * time.Second)
	}
	return &service{
		vendor:  d.Vendor,
		store:   d.Store,
		users:   d.Users,
		mailer:  d.Mailer,
		avatars: d.Avatars,
		http:    hc,
		baseURL: strings.TrimRight(d.BaseURL, "/"),
		now:     time.Now,
	}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	req.Email = validate.NormalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := validate.Struct(req); err != nil {
		return nil, domain.NewError(domain.ErrValidation, "Email and full name are required.", err.Error())
	}

	rec, err := s.vendor.CreateClient(ctx, req.Email, req.FullName)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	verifyTok, err := token.New(verifyTokenBytes)
	if err != nil {
		return nil, err
	}
	signupID := id.New()
	st := &domain.SignupState{
		ClientID:          rec.ClientID,
		SiteID:            string(rec.SiteID),
		Email:             req.Email,
		FullName:          req.FullName,
		VerificationToken: verifyTok,
		TokenExpiresAt:    s.now().Add(verifyLinkTTL),
	}
	if err := s.store.SaveSignup(ctx, signupID, st); err != nil {
		return nil, fmt.Errorf("save signup: %w", err)
	}

	verifyURL := s.baseURL + "/facial_signup/verify?token=" + url.QueryEscape(verifyTok)
	if err := s.mailer.SendEmail(req.Email, mailSubject, verificationBody(req.FullName, verifyURL)); err != nil {
		slog.Error("signup: verification email failed", "client_id", rec.ClientID, "err", err)
		if dropErr := s.store.DropSignup(ctx, signupID); dropErr != nil {
			slog.Warn("signup: drop state failed", "err", dropErr)
		}
		return nil, domain.WrapError(domain.ErrTransient, "Email service is temporarily unavailable. Please contact support.", err)
	}

	slog.Info("signup: client created", "client_id", rec.ClientID, "site_id", st.SiteID)
	return &Created{SignupID: signupID, ClientID: rec.ClientID, SiteID: st.SiteID, VerifyURL: verifyURL}, nil
}

func verificationBody(fullName, verifyURL string) string {
	return fmt.Sprintf("Hi %s,\n\nConfirm your email to finish setting up Sign in with Face:\n\n%s\n\nThe link expires in one hour. If you did not sign up, ignore this message.\n",
		fullName, verifyURL)
}

// Verify checks the emailed link against the signup state and marks the email verified.
// The link works once.
func (s *service) Verify(ctx context.Context, signupID, tok string) (string, error) {
	if strings.TrimSpace(tok) == "" {
		return "", domain.NewError(domain.ErrValidation, "Invalid verification link.", "blank token")
	}
	st, err := s.state(ctx, signupID)
	if err != nil {
		return "", err
	}
	if st.VerificationToken == "" || st.VerificationToken != tok {
		return "", domain.NewError(domain.ErrUnauthorized, "Invalid or expired verification link. Please start signup again.", "verification token mismatch")
	}
	if s.now().After(st.TokenExpiresAt) {
		return "", domain.NewError(domain.ErrUnauthorized, "Verification link has expired. Please start signup again.", "verification link expired")
	}

	st.VerificationToken = ""
	st.EmailVerified = true
	if err := s.store.SaveSignup(ctx, signupID, st); err != nil {
		return "", fmt.Errorf("save signup: %w", err)
	}
	return st.ClientID, nil
}

// QRCode returns the vendor's enrollment QR payload for a verified signup of clientID.
func (s *service) QRCode(ctx context.Context, signupID, clientID string) (json.RawMessage, *domain.SignupState, error) {
	st, err := s.ownedState(ctx, signupID, clientID)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.vendor.GenerateQRCode(ctx, clientID, qrFlowType)
	if err != nil {
		return nil, nil, fmt.Errorf("generate qr code: %w", err)
	}
	return resp.Raw, st, nil
}

// Complete creates the local account for a finished enrollment, or binds an existing one.
// The facial image is optional and its failures never fail the signup.
func (s *service) Complete(ctx context.Context, signupID, clientID, facialURL string) (*Completed, error) {
	st, err := s.ownedState(ctx, signupID, clientID)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, st.Email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if u, err = s.createUser(ctx, st); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("lookup user: %w", err)
	default:
		if err := s.bindExisting(ctx, u, st); err != nil {
			return nil, err
		}
	}

	if facialURL != "" {
		if key, err := s.storeAvatar(ctx, u.UserID, clientID, facialURL); err != nil {
			slog.Warn("signup: facial image not stored", "user_id", u.UserID, "err", err)
		} else if err := s.users.Update(ctx, u.UserID, map[string]interface{}{"avatar_key": key}); err != nil {
			slog.Warn("signup: avatar key not saved", "user_id", u.UserID, "err", err)
			if err := s.avatars.Delete(ctx, key); err != nil {
				slog.Warn("signup: orphaned avatar not removed", "key", key, "err", err)
			}
		} else {
			u.AvatarKey = key
		}
	}

	if err := s.store.DropSignup(ctx, signupID); err != nil {
		slog.Warn("signup: drop state failed", "err", err)
	}
	slog.Info("signup: completed", "user_id", u.UserID, "client_id", clientID)
	return &Completed{User: u, RedirectURL: signInPath}, nil
}

func (s *service) createUser(ctx context.Context, st *domain.SignupState) (*domain.User, error) {
	// facial-only accounts get a random password nobody knows
	pw, err := token.New(32)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Email:        st.Email,
		FullName:     st.FullName,
		ClientID:     st.ClientID,
		PasswordHash: string(hash),
		Enable:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// bindExisting attaches the new client id to an account created some other way. An
// account already bound to another client id is left untouched.
func (s *service) bindExisting(ctx context.Context, u *domain.User, st *domain.SignupState) error {
	if u.ClientID != "" && u.ClientID != st.ClientID {
		return domain.NewError(domain.ErrIdentityMismatch, "This email is already linked to a different facial identity.", "signup client id differs from bound id")
	}
	if u.ClientID == "" {
		if err := s.users.BindClientID(ctx, u.UserID, st.ClientID); err != nil {
			if errors.Is(err, domain.ErrIdentityMismatch) {
				return domain.WrapError(domain.ErrIdentityMismatch, "This email is already linked to a different facial identity.", err)
			}
			return fmt.Errorf("bind client id: %w", err)
		}
		u.ClientID = st.ClientID
	}
	if st.FullName != "" && st.FullName != u.FullName {
		if err := s.users.Update(ctx, u.UserID, map[string]interface{}{"full_name": st.FullName}); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		u.FullName = st.FullName
	}
	return nil
}

func (s *service) state(ctx context.Context, signupID string) (*domain.SignupState, error) {
	if signupID == "" || !id.Valid(signupID) {
		return nil, domain.NewError(domain.ErrUnauthorized, msgInvalidSession, "no signup id")
	}
	st, err := s.store.Signup(ctx, signupID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.ErrUnauthorized, msgInvalidSession, "signup state missing or expired")
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ownedState returns the signup state only when it belongs to clientID and the email
// has been verified.
func (s *service) ownedState(ctx context.Context, signupID, clientID string) (*domain.SignupState, error) {
	st, err := s.state(ctx, signupID)
	if err != nil {
		return nil, err
	}
	if clientID == "" || st.ClientID != clientID {
		return nil, domain.NewError(domain.ErrUnauthorized, msgInvalidSession, "client id does not match signup")
	}
	if !st.EmailVerified {
		return nil, domain.NewError(domain.ErrForbidden, "Please verify your email first.", "signup email not verified")
	}
	return st, nil
}

func (s *service) storeAvatar(ctx context.Context, userID, clientID, rawURL string) (string, error) {
	data, contentType, err := s.fetchImage(ctx, rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(strings.SplitN(rawURL, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "facial_" + clientID + ".jpg"
	}
	key := "avatars/" + userID + "/" + name
	if err := s.avatars.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	return key, nil
}

// fetchImage downloads an image between 100 KB and 10 MB.
func (s *service) fetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", fmt.Errorf("facial url %q is not an http(s) url", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download facial image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download facial image: status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("facial image has content type %q", contentType)
	}
	if resp.ContentLength > maxImageBytes {
		return nil, "", fmt.Errorf("facial image too large: %d bytes", resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read facial image: %w", err)
	}
	if len(data) > maxImageBytes || len(data) < minImageBytes {
		return nil, "", fmt.Errorf("facial image size %d outside allowed range", len(data))
	}
	return data, contentType, nil
}
