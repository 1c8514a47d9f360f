package auth

import (
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/config"
)

// NewVerifier builds the verifier chain from the configuration: OIDC providers, the shared secret JWT
// verifier and optionally guests, wrapped in a cache.
func NewVerifier(cfg *config.Config, logger hclog.Logger) (Verifier, error) {
	chain := Chain{}
	if len(cfg.OIDCConfigs) > 0 {
		chain = append(chain, NewOIDCVerifier(cfg.OIDCConfigs, logger.Named("oidc")))
	}
	if cfg.JWTConfig.Secret != "" {
		chain = append(chain, NewJWTVerifier(cfg.JWTConfig.Secret, cfg.JWTConfig.Issuer))
	}
	if cfg.AuthConfig.AllowGuests {
		chain = append(chain, GuestVerifier{})
	}
	if len(chain) == 0 {
		logger.Warn("no identity verifier configured, nobody will be able to authenticate")
	}
	cached, err := NewCachedVerifier(chain, cfg.AuthConfig.CacheSize, cfg.AuthConfig.CacheTTL)
	if err != nil {
		return nil, err
	}
	return cached, nil
}
