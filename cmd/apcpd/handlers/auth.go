package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	apierr "github.com/bkpaas/apcp/pkg/api/types"
)

// CapabilityBasicDevelop guards every end-user endpoint.
const CapabilityBasicDevelop = "BASIC_DEVELOP"

const operatorContextKey = "apcp/operator"

// CapabilityChecker asks whether username holds a capability on an app.
type CapabilityChecker interface {
	Check(ctx context.Context, username string, appCode string, capability string) (bool, error)
}

// AllowAll grants everything. Wired when no permission service is
// configured (local development).
type AllowAll struct{}

func (AllowAll) Check(context.Context, string, string, string) (bool, error) {
	return true, nil
}

// PermissionClient delegates capability checks to the external
// permission service. Each request carries a short-lived service token
// signed with the shared secret.
type PermissionClient struct {
	BaseURL string
	Secret  string
	Client  *http.Client
}

func NewPermissionClient(baseURL string, secret string, client *http.Client) *PermissionClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PermissionClient{BaseURL: baseURL, Secret: secret, Client: client}
}

func (p *PermissionClient) Check(ctx context.Context, username string, appCode string, capability string) (bool, error) {
	token, err := p.serviceToken(username)
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(map[string]string{
		"username": username,
		"app_code": appCode,
		"action":   capability,
	})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("permission service answered %d", resp.StatusCode)
	}

	answer := struct {
		Allowed bool `json:"allowed"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return false, err
	}
	return answer.Allowed, nil
}

func (p *PermissionClient) serviceToken(username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":      "apcp",
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(5 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.Secret))
}

// RequireCapability authenticates the caller's bearer token and checks
// the capability on the app named by codeParam. Failure answers 403;
// the request never reaches the handler.
func RequireCapability(checker CapabilityChecker, secret string, capability string, codeParam string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username, err := usernameOf(c.Request(), secret)
			if err != nil {
				status, envelope := apierr.Forbidden(err.Error())
				return c.JSON(status, envelope)
			}

			allowed, err := checker.Check(
				c.Request().Context(), username, c.Param(codeParam), capability,
			)
			if err != nil {
				c.Logger().Errorf("capability check failed: %+v", err)
				status, envelope := apierr.Forbidden("capability check unavailable")
				return c.JSON(status, envelope)
			}
			if !allowed {
				status, envelope := apierr.Forbidden(
					fmt.Sprintf("%s required on %s", capability, c.Param(codeParam)),
				)
				return c.JSON(status, envelope)
			}

			c.Set(operatorContextKey, username)
			return next(c)
		}
	}
}

// usernameOf verifies the bearer token and extracts the username claim.
// An empty secret turns verification off; callers become "anonymous".
func usernameOf(req *http.Request, secret string) (string, error) {
	if secret == "" {
		return "anonymous", nil
	}

	header := req.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", fmt.Errorf("no bearer token")
	}

	token, err := jwt.Parse(
		raw,
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("bad token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("bad token claims")
	}
	username, _ := claims["username"].(string)
	if username == "" {
		return "", fmt.Errorf("token has no username")
	}
	return username, nil
}

// operatorOf returns the authenticated username set by RequireCapability.
func operatorOf(c echo.Context) string {
	if username, ok := c.Get(operatorContextKey).(string); ok {
		return username
	}
	return "anonymous"
}
