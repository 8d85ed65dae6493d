package main

import (
	"context"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-patient-auth/auth"
	"github.com/jrsteele09/go-patient-auth/internal/config"
	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/jrsteele09/go-patient-auth/server"
	"github.com/jrsteele09/go-patient-auth/token/jwt"
	"github.com/jrsteele09/go-patient-auth/token/keys"
	"github.com/jrsteele09/go-patient-auth/token/refresh"
	"github.com/jrsteele09/go-patient-auth/token/refresh/redisrepo"
	refreshrepofake "github.com/jrsteele09/go-patient-auth/token/refresh/repofake"
	"github.com/jrsteele09/go-patient-auth/users"
	"github.com/jrsteele09/go-patient-auth/users/pgrepo"
	fakeaccountrepo "github.com/jrsteele09/go-patient-auth/users/repofake"
)

const ephemeralKeyBits = 2048

// app is the wired process: stores, credential services and the HTTP handler.
type app struct {
	handler http.Handler
	// gate verifies access credentials for the server and holds no private key.
	gate    *jwt.Codec
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	a := &app{}
	var serverOpts []server.Option

	keyPair, err := loadKeyPair(c)
	if err != nil {
		return nil, err
	}
	signer := keys.NewKeyPairSigner(keyPair)

	codecOpts := []jwt.CodecOption{
		jwt.WithIssuer(c.GetIssuer()),
		jwt.WithAudience(c.GetAudience()),
		jwt.WithLeeway(c.GetClockLeeway()),
	}
	accessCodec, err := jwt.NewCodec(jwt.UseAccess, signer, nil, codecOpts...)
	if err != nil {
		return nil, err
	}
	refreshCodec, err := jwt.NewCodec(jwt.UseRefresh, signer, nil, codecOpts...)
	if err != nil {
		return nil, err
	}
	publicKeys, err := verificationKeys(c, keyPair)
	if err != nil {
		return nil, err
	}
	a.gate, err = jwt.NewCodec(jwt.UseAccess, nil, keys.NewPublicKeyVerifier(publicKeys), codecOpts...)
	if err != nil {
		return nil, err
	}

	sessions, err := newSessionStore(ctx, c, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	if p, ok := sessions.(server.Pinger); ok {
		serverOpts = append(serverOpts, server.WithHealthCheck("session-store", p))
	}

	accounts, err := newAccountStore(ctx, c, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	if p, ok := accounts.(server.Pinger); ok {
		serverOpts = append(serverOpts, server.WithHealthCheck("account-store", p))
	}

	coordinator := refresh.NewCoordinator(sessions, refreshCodec,
		refresh.WithRotation(c.GetRotateRefreshTokens()),
		refresh.WithRefreshTTL(c.GetRefreshTokenExpiry()),
	)
	service, err := auth.NewService(accounts, accessCodec, coordinator, auth.WithAccessTTL(c.GetAccessTokenExpiry()))
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Info().
		Str("key_id", keyPair.KeyID).
		Bool("rotate_refresh", coordinator.Rotating()).
		Dur("access_ttl", c.GetAccessTokenExpiry()).
		Dur("refresh_ttl", c.GetRefreshTokenExpiry()).
		Msg("credential issuer ready")

	a.handler = server.New(c, service, a.gate, serverOpts...)
	return a, nil
}

// loadKeyPair reads the signing key from config. Outside DEV a missing key is fatal;
// in DEV a throwaway pair is generated so the server starts with no setup.
func loadKeyPair(c config.Config) (*keys.KeyPair, error) {
	privatePEM, err := c.GetPrivateKeyPEM()
	if err != nil {
		return nil, errors.E(errors.ConfigurationError, "loadKeyPair", err)
	}
	publicPEM, err := c.GetPublicKeyPEM()
	if err != nil {
		return nil, errors.E(errors.ConfigurationError, "loadKeyPair", err)
	}

	if privatePEM == "" {
		if !c.IsDev() {
			return nil, errors.E(errors.ConfigurationError, "loadKeyPair", errors.New("PRIVATE_KEY_PEM or PRIVATE_KEY_FILE is required"))
		}
		log.Warn().Msg("no signing key configured, generating an ephemeral key pair; credentials will not survive a restart")
		kp, err := keys.GenerateRSAKeyPair(c.GetKeyID(), ephemeralKeyBits)
		if err != nil {
			return nil, errors.E(errors.ConfigurationError, "loadKeyPair", err)
		}
		return kp, nil
	}

	kp, err := keys.LoadKeyPairFromPEM(c.GetKeyID(), privatePEM, publicPEM)
	if err != nil {
		return nil, errors.E(errors.ConfigurationError, "loadKeyPair", err)
	}
	return kp, nil
}

// verificationKeys returns the public half only: the configured public key when there
// is one, otherwise the one derived from the signing key.
func verificationKeys(c config.Config, kp *keys.KeyPair) (*keys.KeyPair, error) {
	publicPEM, err := c.GetPublicKeyPEM()
	if err != nil {
		return nil, errors.E(errors.ConfigurationError, "verificationKeys", err)
	}
	if publicPEM == "" {
		return &keys.KeyPair{KeyID: kp.KeyID, PublicKey: kp.PublicKey, Algorithm: kp.Algorithm}, nil
	}
	publicOnly, err := keys.LoadPublicKeyFromPEM(kp.KeyID, publicPEM)
	if err != nil {
		return nil, errors.E(errors.ConfigurationError, "verificationKeys", err)
	}
	return publicOnly, nil
}

// newSessionStore uses Redis when REDIS_ADDR is set and memory otherwise.
func newSessionStore(ctx context.Context, c config.Config, a *app) (refresh.Repo, error) {
	addr := c.GetRedisAddr()
	if addr == "" {
		log.Warn().Msg("REDIS_ADDR not set, refresh sessions are kept in memory")
		return refreshrepofake.NewFakeRefreshRepo(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: c.GetRedisPassword(),
		DB:       c.GetRedisDB(),
	})
	a.closers = append(a.closers, func() { _ = client.Close() })

	repo := redisrepo.New(client, c.GetRedisKeyPrefix())
	if err := repo.Ping(ctx); err != nil {
		return nil, errors.E(errors.Unavailable, "newSessionStore", err)
	}
	log.Info().Str("addr", addr).Msg("using redis session store")
	return repo, nil
}

// newAccountStore uses Postgres when DATABASE_URL is set and memory otherwise.
func newAccountStore(ctx context.Context, c config.Config, a *app) (users.Repo, error) {
	dsn := c.GetDatabaseURL()
	if dsn == "" {
		log.Warn().Msg("DATABASE_URL not set, accounts are kept in memory")
		return fakeaccountrepo.NewFakeAccountRepo(), nil
	}

	repo, err := pgrepo.New(ctx, dsn)
	if err != nil {
		return nil, errors.E(errors.Unavailable, "newAccountStore", err)
	}
	a.closers = append(a.closers, repo.Close)
	log.Info().Msg("using postgres account store")
	return repo, nil
}
