package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/config"
	"github.com/tcriess/lightspeed-contest/types"
)

// OIDCVerifier verifies OIDC ID tokens against the configured providers. The providers are discovered on
// first use.
type OIDCVerifier struct {
	configs   []config.OIDCConfig
	logger    hclog.Logger
	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

func NewOIDCVerifier(configs []config.OIDCConfig, logger hclog.Logger) *OIDCVerifier {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &OIDCVerifier{
		configs:   configs,
		logger:    logger,
		verifiers: make(map[string]*oidc.IDTokenVerifier),
	}
}

func (v *OIDCVerifier) verifier(ctx context.Context, oidcConf config.OIDCConfig) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if verifier, ok := v.verifiers[oidcConf.Name]; ok {
		return verifier, nil
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifier := provider.Verifier(&conf)
	v.verifiers[oidcConf.Name] = verifier
	return verifier, nil
}

// Verify checks the ID token with every configured provider. The user id is the "sub" claim, falling back to
// the e-mail address.
func (v *OIDCVerifier) Verify(ctx context.Context, idToken string) (types.Identity, error) {
	if len(v.configs) == 0 || strings.Count(idToken, ".") != 2 {
		return types.Identity{}, ErrUnsupportedCredential
	}
	var lastErr error
	for _, oidcConf := range v.configs {
		verifier, err := v.verifier(ctx, oidcConf)
		if err != nil {
			v.logger.Warn("could not set up oidc provider", "provider", oidcConf.Name, "error", err)
			lastErr = err
			continue
		}
		verifiedIdToken, err := verifier.Verify(ctx, idToken)
		if err != nil {
			v.logger.Debug("token not verified", "provider", oidcConf.Name, "error", err)
			lastErr = err
			continue
		}
		claims := struct {
			Email   string `json:"email"`
			Name    string `json:"name"`
			Picture string `json:"picture"`
		}{}
		if err := verifiedIdToken.Claims(&claims); err != nil {
			return types.Identity{}, err
		}
		identity := types.Identity{
			Id:     verifiedIdToken.Subject,
			Name:   claims.Name,
			Email:  claims.Email,
			Avatar: claims.Picture,
		}
		if identity.Id == "" {
			identity.Id = claims.Email
		}
		if identity.Name == "" {
			identity.Name = claims.Email
		}
		return identity, nil
	}
	return types.Identity{}, fmt.Errorf("no oidc provider accepted the token: %w", lastErr)
}
