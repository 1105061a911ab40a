package room

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// claims decodes the JWT payload without verifying it.
func claims(t *testing.T, token string) map[string]any {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts", len(parts))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}

func TestMintToken_Grants(t *testing.T) {
	tok, err := MintToken(TokenConfig{
		APIKey:    "key",
		APISecret: "a-secret-that-is-long-enough-for-hs256",
		Room:      "story-time",
		Identity:  "child-1",
		Name:      "Mina",
	})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	c := claims(t, tok)
	if c["sub"] != "child-1" {
		t.Errorf("sub = %v, want child-1", c["sub"])
	}
	if c["iss"] != "key" {
		t.Errorf("iss = %v, want key", c["iss"])
	}
	video, ok := c["video"].(map[string]any)
	if !ok {
		t.Fatalf("missing video grant in %v", c)
	}
	if video["room"] != "story-time" || video["roomJoin"] != true {
		t.Errorf("unexpected video grant %v", video)
	}
	if video["canPublish"] != true || video["canSubscribe"] != true {
		t.Errorf("expected publish and subscribe grants, got %v", video)
	}

	exp, _ := c["exp"].(float64)
	nbf, _ := c["nbf"].(float64)
	if got := time.Duration(exp-nbf) * time.Second; got < DefaultTokenTTL || got > DefaultTokenTTL+time.Second {
		t.Errorf("validity = %v, want %v", got, DefaultTokenTTL)
	}
}

func TestMintToken_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  TokenConfig
	}{
		{"missing key", TokenConfig{APISecret: "s", Room: "r", Identity: "i"}},
		{"missing secret", TokenConfig{APIKey: "k", Room: "r", Identity: "i"}},
		{"missing room", TokenConfig{APIKey: "k", APISecret: "s", Identity: "i"}},
		{"missing identity", TokenConfig{APIKey: "k", APISecret: "s", Room: "r"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := MintToken(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
