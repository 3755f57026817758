package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
)

const (
	ProviderToken = "token"
	ProviderBasic = "basic"
)

var (
	successMsg = "Authentication successful"
	failedMsg  = "Authentication failed"
)

type AuthMiddleware struct {
	logger     types.Logger
	authConfig *AuthConfig
	skipPaths  map[string]bool
	name       string
	weight     int
}

// AuthConfig selects the provider. Tokens maps an accepted token to the
// principal stored under the "user" extra; Users maps basic-auth usernames
// to passwords.
type AuthConfig struct {
	Provider  string            `json:"provider"`
	Header    string            `json:"header"`
	Tokens    map[string]string `json:"tokens"`
	Users     map[string]string `json:"users"`
	Realm     string            `json:"realm"`
	SkipPaths []string          `json:"skip_paths"`
}

func NewAuthMiddleware(item *types.MiddlewareItemConfig, logger types.Logger) (*AuthMiddleware, error) {
	var authConfig = &AuthConfig{
		Provider: ProviderToken,
		Header:   "Authorization",
		Realm:    "turbo",
	}

	if err := decodeParams(item, authConfig); err != nil {
		logger.Error("Failed to unmarshal Auth middleware config", zap.Error(err))
		return nil, err
	}

	if authConfig.Provider != ProviderToken && authConfig.Provider != ProviderBasic {
		return nil, types.NewErrorf("unknown auth provider: %s", authConfig.Provider)
	}

	am := &AuthMiddleware{
		name:       "auth",
		weight:     50,
		logger:     logger,
		authConfig: authConfig,
		skipPaths:  make(map[string]bool, len(authConfig.SkipPaths)),
	}

	for _, path := range authConfig.SkipPaths {
		am.skipPaths[path] = true
	}

	return am, nil
}

func (a *AuthMiddleware) Name() string { return a.name }
func (a *AuthMiddleware) Weight() int  { return a.weight }

func (a *AuthMiddleware) Handle(req *server.Request, res *server.Response) error {
	if req.Method() == fasthttp.MethodOptions || a.skipPaths[req.Path()] {
		return nil
	}

	var (
		principal string
		ok        bool
	)

	switch a.authConfig.Provider {
	case ProviderBasic:
		principal, ok = a.checkBasic(req.Header("Authorization"))
	default:
		principal, ok = a.checkToken(req.Header(a.authConfig.Header))
	}

	if !ok {
		a.logger.Warn(failedMsg,
			zap.String("path", req.Path()),
			zap.String("provider_type", a.authConfig.Provider))

		if a.authConfig.Provider == ProviderBasic {
			res.SetHeader("WWW-Authenticate", `Basic realm="`+a.authConfig.Realm+`"`)
		}

		return types.NewStatusError(fasthttp.StatusUnauthorized, "Authentication required")
	}

	a.logger.Debug(successMsg,
		zap.String("path", req.Path()),
		zap.String("provider_type", a.authConfig.Provider))

	req.SetExtras(server.ExtraUser, principal)
	return nil
}

func (a *AuthMiddleware) checkToken(value string) (string, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
	if token == "" {
		return "", false
	}

	for candidate, principal := range a.authConfig.Tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return principal, true
		}
	}
	return "", false
}

func (a *AuthMiddleware) checkBasic(value string) (string, bool) {
	encoded, found := strings.CutPrefix(value, "Basic ")
	if !found {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", false
	}

	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", false
	}

	expected, exists := a.authConfig.Users[username]
	if !exists || subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
		return "", false
	}
	return username, true
}
