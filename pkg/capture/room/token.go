package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// DefaultTokenTTL is how long a minted access token stays valid.
const DefaultTokenTTL = time.Hour

// TokenConfig describes the participant a token is minted for.
type TokenConfig struct {
	APIKey    string
	APISecret string
	Room      string
	Identity  string
	Name      string
	TTL       time.Duration
}

// MintToken returns a signed room-join token allowing the participant to
// publish and subscribe.
func MintToken(cfg TokenConfig) (string, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return "", errors.New("room: api key and secret are required")
	}
	if cfg.Room == "" || cfg.Identity == "" {
		return "", errors.New("room: room name and identity are required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	grant := &auth.VideoGrant{RoomJoin: true, Room: cfg.Room}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)

	at := auth.NewAccessToken(cfg.APIKey, cfg.APISecret)
	at.SetVideoGrant(grant).
		SetIdentity(cfg.Identity).
		SetName(cfg.Name).
		SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("room: sign token: %w", err)
	}
	return token, nil
}
