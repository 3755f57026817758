package middleware

import (
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
)

const (
	varyOrigin    = "Origin"
	varyPreflight = "Origin, Access-Control-Request-Method, Access-Control-Request-Headers"
)

type CORSMiddleware struct {
	logger            types.Logger
	corsConfig        *CORSConfig
	name              string
	weight            int
	allowsAll         bool
	allowedOriginsMap map[string]bool
	wildcardDomains   []string
	allowedMethods    string
	allowedHeaders    string
	exposedHeaders    string
	maxAge            string
}

type CORSConfig struct {
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

func NewCORSMiddleware(item *types.MiddlewareItemConfig, logger types.Logger) (*CORSMiddleware, error) {
	var corsConfig = &CORSConfig{
		ExposedHeaders:   []string{},
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           86400,
	}

	if err := decodeParams(item, corsConfig); err != nil {
		logger.Error("Failed to unmarshal CORS middleware config", zap.Error(err))
		return nil, err
	}

	cm := &CORSMiddleware{
		name:       "cors",
		weight:     20,
		logger:     logger,
		corsConfig: corsConfig,
	}

	cm.precompileConfiguration()

	return cm, nil
}

func (c *CORSMiddleware) Name() string { return c.name }
func (c *CORSMiddleware) Weight() int  { return c.weight }

func (c *CORSMiddleware) Handle(req *server.Request, res *server.Response) error {
	origin := req.Header("Origin")
	if origin == "" {
		return nil
	}

	if !c.isOriginAllowed(origin) {
		c.logger.Warn("CORS request blocked",
			zap.String("origin", origin),
			zap.String("method", req.Method()),
			zap.String("path", req.Path()))

		return types.NewStatusError(fasthttp.StatusForbidden, "Origin not allowed")
	}

	if req.Method() == fasthttp.MethodOptions {
		c.writeOrigin(res, origin)
		res.SetHeader("Access-Control-Allow-Methods", c.allowedMethods)
		res.SetHeader("Access-Control-Allow-Headers", c.allowedHeaders)
		res.SetHeader("Access-Control-Max-Age", c.maxAge)
		res.SetHeader("Vary", varyPreflight)
		res.SetStatus(fasthttp.StatusNoContent)
		return res.End(nil)
	}

	c.writeOrigin(res, origin)
	if c.exposedHeaders != "" {
		res.SetHeader("Access-Control-Expose-Headers", c.exposedHeaders)
	}
	res.Ctx().Response.Header.Add("Vary", varyOrigin)

	return nil
}

func (c *CORSMiddleware) writeOrigin(res *server.Response, origin string) {
	if c.allowsAll && !c.corsConfig.AllowCredentials {
		res.SetHeader("Access-Control-Allow-Origin", "*")
	} else {
		res.SetHeader("Access-Control-Allow-Origin", origin)
	}

	if c.corsConfig.AllowCredentials {
		res.SetHeader("Access-Control-Allow-Credentials", "true")
	}
}

func (c *CORSMiddleware) isOriginAllowed(origin string) bool {
	if c.allowsAll || c.allowedOriginsMap[origin] {
		return true
	}

	host := origin
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}

	for _, domain := range c.wildcardDomains {
		if matchesWildcardDomain(host, domain) {
			return true
		}
	}

	return false
}

// matchesWildcardDomain matches exactly one label in front of domain.
func matchesWildcardDomain(host, domain string) bool {
	suffix := "." + domain
	if !strings.HasSuffix(host, suffix) {
		return false
	}

	label := strings.TrimSuffix(host, suffix)
	return label != "" && !strings.Contains(label, ".")
}

func (c *CORSMiddleware) precompileConfiguration() {
	c.allowsAll = len(c.corsConfig.AllowedOrigins) == 1 && c.corsConfig.AllowedOrigins[0] == "*"

	if !c.allowsAll {
		c.allowedOriginsMap = make(map[string]bool, len(c.corsConfig.AllowedOrigins))

		for _, origin := range c.corsConfig.AllowedOrigins {
			if domain, ok := strings.CutPrefix(origin, "*."); ok {
				c.wildcardDomains = append(c.wildcardDomains, domain)
			} else {
				c.allowedOriginsMap[origin] = true
			}
		}
	}

	c.allowedMethods = strings.Join(c.corsConfig.AllowedMethods, ", ")
	c.allowedHeaders = strings.Join(c.corsConfig.AllowedHeaders, ", ")
	c.exposedHeaders = strings.Join(c.corsConfig.ExposedHeaders, ", ")
	c.maxAge = strconv.Itoa(c.corsConfig.MaxAge)
}
