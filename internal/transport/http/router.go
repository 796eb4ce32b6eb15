package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/facial-sign-on/internal/application/login"
	"github.com/facial-sign-on/internal/application/relay"
	"github.com/facial-sign-on/internal/application/session"
	"github.com/facial-sign-on/internal/application/signup"
	"github.com/facial-sign-on/internal/application/tokens"
	"github.com/facial-sign-on/internal/config"
	"github.com/facial-sign-on/internal/domain"
	jwtinfra "github.com/facial-sign-on/internal/infrastructure/jwt"
	"github.com/facial-sign-on/internal/infrastructure/smtp"
	"github.com/facial-sign-on/internal/transport/http/handler"
	appmiddleware "github.com/facial-sign-on/internal/transport/http/middleware"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	Users       UserRepository
	Sessions    SessionRepository
	Cache       domain.Cache
	Broker      domain.Broker
	Vendor      Vendor
	Avatars     ObjectStore
	Mailer      smtp.Mailer
	JWTProvider *jwtinfra.Provider
	RelayTokens *jwtinfra.RelayTokens
}

// NewRouter builds and returns the application router. ctx bounds background work such
// as rate limiter cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	legacy := cfg.LegacyLogin()
	store := tokens.NewStore(deps.Cache, tokens.TTLs{
		Verification: cfg.VerificationTokenTTL,
		ReplayGuard:  cfg.ReplayGuardTTL,
		Signup:       cfg.SignupTTL,
	})

	loginSvc := login.NewService(login.ServiceDeps{
		Users:  deps.Users,
		Vendor: deps.Vendor,
		Tokens: store,
		SiteID: cfg.AxiamSiteID,
	})
	sessionSvc := session.NewService(session.ServiceDeps{
		Users:           deps.Users,
		Sessions:        deps.Sessions,
		Tokens:          store,
		Vendor:          deps.Vendor,
		JWT:             deps.JWTProvider,
		Legacy:          legacy,
		ValidateSession: cfg.ValidateSession,
	})
	relaySvc := relay.NewService(relay.ServiceDeps{
		Broker:       deps.Broker,
		Tokens:       store,
		RelayTokens:  deps.RelayTokens,
		Vendor:       deps.Vendor,
		LoginPrefix:  cfg.LoginChannelPrefix,
		DevicePrefix: cfg.DeviceChannelPrefix,
		RelayURL:     cfg.RelayURL,
		SiteID:       cfg.AxiamSiteID,
		SiteDomain:   cfg.AxiamDomain,
		Legacy:       legacy,
	})
	signupSvc := signup.NewService(signup.ServiceDeps{
		Vendor:  deps.Vendor,
		Store:   store,
		Users:   deps.Users,
		Mailer:  deps.Mailer,
		Avatars: deps.Avatars,
		BaseURL: cfg.AppBaseURL,
	})

	cookies := handler.Cookies{Secure: cfg.AppEnv == "production"}

	healthH := handler.NewHealthHandler(deps.Cache)
	facialH := handler.NewFacialSignOnHandler(loginSvc, sessionSvc, cookies, legacy)
	apiFacialH := handler.NewAPIFacialSignOnHandler(loginSvc)
	sessionH := handler.NewSessionHandler(sessionSvc, cookies)
	relayTokenH := handler.NewRelayTokenHandler(relaySvc)
	signupH := handler.NewSignupHandler(signupSvc, cookies)
	cableH := handler.NewCableHandler(relaySvc, cfg.AllowedOrigins)

	authMw := appmiddleware.Auth(deps.JWTProvider)

	// 5 requests/second, burst of 10 per client IP on endpoints that reach the vendor or
	// mint credentials.
	sensitiveRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(5), 10)

	// ── Public routes ────────────────────────────────────────────────────────
	r.Get("/up", healthH.Up)
	r.Get("/health-check/{action}", healthH.Ping)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/relay/config", relayTokenH.Config)
	r.Get("/auth/token", relayTokenH.Issue)
	r.Delete("/auth/token", relayTokenH.Revoke)
	r.Get("/cable", cableH.Serve)

	r.Route("/facial_sign_on", func(r chi.Router) {
		r.With(sensitiveRL.Limit).Post("/push_notification", facialH.PushNotification)
		r.Get("/get_verification_token", facialH.GetVerificationToken)
		r.With(sensitiveRL.Limit).Post("/verified_login", facialH.VerifiedLogin)
	})

	r.Route("/facial_signup", func(r chi.Router) {
		r.With(sensitiveRL.Limit).Post("/create", signupH.Create)
		r.Get("/verify", signupH.Verify)
		r.Get("/qr/{client_id}", signupH.QRCode)
		r.Post("/complete", signupH.Complete)
	})

	r.Route("/api", func(r chi.Router) {
		r.With(sensitiveRL.Limit).Post("/facial_sign_on/lookup", apiFacialH.Lookup)
		r.With(sensitiveRL.Limit).Post("/facial_sign_on/push_notification", apiFacialH.PushNotification)
		r.With(sensitiveRL.Limit).Post("/sessions", sessionH.Create)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.Get("/sessions/current", sessionH.GetCurrent)
			r.Delete("/sessions", sessionH.Logout)
		})
	})

	return r
}
