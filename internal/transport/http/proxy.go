package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/notification-gateway/internal/domain"
	"github.com/relaypoint/notification-gateway/internal/infrastructure/upstream"
)

// ProxyLimits holds the per-client request budgets for the proxied routes,
// all over the same window. Reads get a wide budget, writes a narrow one, and
// preference updates sit in between since clients toggle them interactively.
type ProxyLimits struct {
	Writes      int
	Reads       int
	Preferences int
	Window      time.Duration
}

// ProxyHandler forwards user and template requests to their upstream services
// and relays the responses verbatim. Every route carries a per-client rate
// limit keyed by route name.
type ProxyHandler struct {
	upstream     *upstream.Client
	limiter      domain.RateLimiter
	limits       ProxyLimits
	userBase     string
	templateBase string
}

// NewProxyHandler creates a ProxyHandler. Empty base URLs disable the
// corresponding routes with a 502.
func NewProxyHandler(client *upstream.Client, limiter domain.RateLimiter, limits ProxyLimits, userBase, templateBase string) *ProxyHandler {
	return &ProxyHandler{
		upstream:     client,
		limiter:      limiter,
		limits:       limits,
		userBase:     strings.TrimSuffix(userBase, "/"),
		templateBase: strings.TrimSuffix(templateBase, "/"),
	}
}

// limit applies the given budget for one client on one route. A non-nil
// return is a fully written response.
func (p *ProxyHandler) limit(c echo.Context, route string, budget int) error {
	err := p.limiter.Check(c.Request().Context(), c.RealIP(), route, budget, p.limits.Window)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return respondErr(c, http.StatusTooManyRequests, "rate limit exceeded")
	}
	return respondErr(c, http.StatusInternalServerError, err.Error())
}

// forward relays the request body upstream and the upstream response back,
// both unmodified.
func (p *ProxyHandler) forward(c echo.Context, base, path string) error {
	if base == "" {
		return respondErr(c, http.StatusBadGateway, "upstream service not configured")
	}

	req := c.Request()
	res, err := p.upstream.Forward(req.Context(), req.Method, base+path, req.Body, req.Header.Get(echo.HeaderContentType))
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("upstream forward failed")
		return respondErr(c, http.StatusBadGateway, err.Error())
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(res.StatusCode, contentType, res.Body)
}

// --- User service ---

// CreateUser POST /users
func (p *ProxyHandler) CreateUser(c echo.Context) error {
	if err := p.limit(c, "create_user", p.limits.Writes); err != nil {
		return err
	}
	return p.forward(c, p.userBase, "/api/v1/users/")
}

// GetUser GET /users/:id
func (p *ProxyHandler) GetUser(c echo.Context) error {
	if err := p.limit(c, "get_user", p.limits.Reads); err != nil {
		return err
	}
	return p.forward(c, p.userBase, "/api/v1/users/"+c.Param("id"))
}

// UpdateUserPreferences PATCH /users/:id/preferences
func (p *ProxyHandler) UpdateUserPreferences(c echo.Context) error {
	if err := p.limit(c, "update_user_preferences", p.limits.Preferences); err != nil {
		return err
	}
	return p.forward(c, p.userBase, "/api/v1/users/"+c.Param("id")+"/preferences")
}

// --- Template service ---

// CreateTemplate POST /templates
func (p *ProxyHandler) CreateTemplate(c echo.Context) error {
	if err := p.limit(c, "create_template", p.limits.Writes); err != nil {
		return err
	}
	return p.forward(c, p.templateBase, "/api/v1/templates/")
}

// ListTemplates GET /templates
func (p *ProxyHandler) ListTemplates(c echo.Context) error {
	if err := p.limit(c, "list_templates", p.limits.Reads); err != nil {
		return err
	}
	return p.forward(c, p.templateBase, "/api/v1/templates/")
}

// GetTemplate GET /templates/:id
func (p *ProxyHandler) GetTemplate(c echo.Context) error {
	if err := p.limit(c, "get_template", p.limits.Reads); err != nil {
		return err
	}
	return p.forward(c, p.templateBase, "/api/v1/templates/"+c.Param("id"))
}

// UpdateTemplate PUT /templates/:id
func (p *ProxyHandler) UpdateTemplate(c echo.Context) error {
	if err := p.limit(c, "update_template", p.limits.Writes); err != nil {
		return err
	}
	return p.forward(c, p.templateBase, "/api/v1/templates/"+c.Param("id"))
}

// DeleteTemplate DELETE /templates/:id
func (p *ProxyHandler) DeleteTemplate(c echo.Context) error {
	if err := p.limit(c, "delete_template", p.limits.Writes); err != nil {
		return err
	}
	return p.forward(c, p.templateBase, "/api/v1/templates/"+c.Param("id"))
}
