// Command loginserver is a small demonstration host for the login flow:
// it protects everything under / with the Initiator middleware, completes
// callbacks on the configured redirect path and stores users in a SQLite
// file. Configuration comes from the environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"

	"github.com/openpath/oidcrp/authctx"
	"github.com/openpath/oidcrp/login"
	"github.com/openpath/oidcrp/oidc"
	"github.com/openpath/oidcrp/usermap"
	"github.com/openpath/oidcrp/usermap/sqlite"
)

type serverEnv struct {
	ClientID              string   `env:"OIDC_CLIENT_ID,required"`
	ClientSecret          string   `env:"OIDC_CLIENT_SECRET,required"`
	AuthorizationEndpoint string   `env:"OIDC_AUTHORIZATION_ENDPOINT,required"`
	TokenEndpoint         string   `env:"OIDC_TOKEN_ENDPOINT,required"`
	UserInfoEndpoint      string   `env:"OIDC_USERINFO_ENDPOINT"`
	RedirectURL           string   `env:"OIDC_REDIRECT_URL,required"`
	Scopes                []string `env:"OIDC_SCOPES" envSeparator:"," envDefault:"profile,email"`
	ProviderCAFile        string   `env:"OIDC_PROVIDER_CA_FILE"`
	UsePKCE               bool     `env:"OIDC_USE_PKCE" envDefault:"true"`
	RolesClaim            string   `env:"OIDC_ROLES_CLAIM"`
	HostKey               string   `env:"HOST_KEY,required"`
	ListenAddr            string   `env:"LISTEN_ADDR" envDefault:":8080"`
	StoragePath           string   `env:"STORAGE_PATH" envDefault:"users.db"`
	DefaultRedirectURL    string   `env:"DEFAULT_REDIRECT_URL" envDefault:"/"`
	TrustProxyHeader      bool     `env:"TRUST_PROXY_HEADER"`
}

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "loginserver",
		Level: hclog.Info,
	})
	if err := run(logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger hclog.Logger) error {
	var cfg serverEnv
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	providerOpts := []oidc.Option{
		oidc.WithConfigScopes(cfg.Scopes...),
		oidc.WithLogger(logger.Named("oidc")),
	}
	if cfg.UserInfoEndpoint != "" {
		providerOpts = append(providerOpts, oidc.WithUserInfoEndpoint(cfg.UserInfoEndpoint))
	}
	if cfg.ProviderCAFile != "" {
		pem, err := os.ReadFile(cfg.ProviderCAFile)
		if err != nil {
			return fmt.Errorf("read provider CA file: %w", err)
		}
		providerOpts = append(providerOpts, oidc.WithProviderCA(string(pem)))
	}
	pc, err := oidc.NewConfig(
		cfg.ClientID,
		oidc.ClientSecret(cfg.ClientSecret),
		cfg.AuthorizationEndpoint,
		cfg.TokenEndpoint,
		cfg.RedirectURL,
		providerOpts...,
	)
	if err != nil {
		return fmt.Errorf("build provider config: %w", err)
	}
	provider, err := oidc.NewProvider(pc)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	store, err := sqlite.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer store.Close()

	mapper, err := usermap.NewMapper(store, usermap.Policies{
		CreateMissing: true,
		RolesClaim:    cfg.RolesClaim,
	}, usermap.WithMapperLogger(logger.Named("usermap")))
	if err != nil {
		return fmt.Errorf("build user mapper: %w", err)
	}

	codec, err := authctx.NewCodec(cfg.HostKey)
	if err != nil {
		return fmt.Errorf("build context codec: %w", err)
	}
	sessions := &authctx.CookieStore{TrustProxyHeader: cfg.TrustProxyHeader}

	loginCfg := login.Config{
		UsePKCE:            cfg.UsePKCE,
		DefaultRedirectURL: cfg.DefaultRedirectURL,
		TrustProxyHeader:   cfg.TrustProxyHeader,
	}
	initiator, err := login.NewInitiator(provider, codec, sessions, loginCfg,
		login.WithLogger(logger.Named("login")))
	if err != nil {
		return fmt.Errorf("build initiator: %w", err)
	}

	welcome := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := sessions.Get(r, login.DefaultAuthSessionKey)
		fmt.Fprintf(w, "logged in as %s\n", userID)
	})

	callback, err := login.NewCallbackHandler(provider, codec, sessions, mapper, loginCfg,
		login.WithLogger(logger.Named("login")),
		login.WithNext(initiator.Middleware(welcome)))
	if err != nil {
		return fmt.Errorf("build callback handler: %w", err)
	}

	callbackPath, err := redirectPath(cfg.RedirectURL)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(callbackPath, callback)
	mux.Handle("/", initiator.Middleware(welcome))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// redirectPath extracts the local path the callback handler mounts on.
func redirectPath(redirectURL string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		return "", fmt.Errorf("redirect URL %q must carry a dedicated path", redirectURL)
	}
	return u.Path, nil
}
