package testutil

import (
	"time"

	"github.com/AfshinJalili/goinvest/libs/apikey"
	"github.com/AfshinJalili/goinvest/libs/auth"
	"github.com/google/uuid"
)

var (
	DemoUserID     = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	InvestorUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

var TestJWTSecret = []byte("test-secret")

func GenerateJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return auth.IssueJWT(userID.String(), []string{"user"}, secret, ttl, now)
}

func GenerateAdminJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return auth.IssueJWT(userID.String(), []string{"user", auth.RoleAdmin}, secret, ttl, now)
}

// GenerateGatewayKey returns a full key and the record a lookup should serve
// for it.
func GenerateGatewayKey(env, gateway string, scopes []string) (string, apikey.Record, error) {
	key, prefix, hash, err := apikey.Generate(env)
	if err != nil {
		return "", apikey.Record{}, err
	}
	return key, apikey.Record{
		ID:      uuid.NewString(),
		Prefix:  prefix,
		Gateway: gateway,
		KeyHash: hash,
		Scopes:  scopes,
	}, nil
}
