package auth

import (
	"context"
	"strings"

	"github.com/folkengine/goname"
	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-contest/types"
)

const (
	guestPrefix        = "guest"
	maxGuestNameLength = 40 // runes
)

// GuestVerifier accepts the credentials "guest" and "guest:<name>" and hands out a fresh anonymous identity
// for each of them. Without a name a random one is generated.
type GuestVerifier struct{}

func IsGuestCredential(credential string) bool {
	return credential == guestPrefix || strings.HasPrefix(credential, guestPrefix+":")
}

func (GuestVerifier) Verify(ctx context.Context, credential string) (types.Identity, error) {
	if !IsGuestCredential(credential) {
		return types.Identity{}, ErrUnsupportedCredential
	}
	nick := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(credential, guestPrefix), ":"))
	if nick == "" {
		nick = goname.New(goname.FantasyMap).FirstLast()
	}
	if r := []rune(nick); len(r) > maxGuestNameLength {
		nick = string(r[:maxGuestNameLength])
	}
	return types.Identity{
		Id:   "guest-" + uuid.New().String(),
		Name: nick + " (guest)",
	}, nil
}
