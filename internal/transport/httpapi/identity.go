package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// CartTokenHeader переносит токен анонимной корзины в обе стороны.
	CartTokenHeader = "X-Cart-Token"

	identityKey  = "storefront.identity"
	cartOwnerKey = "storefront.cart_owner"
)

var errUnauthorized = errors.New("identity token is invalid")

// identityClaims — полезная нагрузка токена покупателя.
type identityClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Staff bool   `json:"staff,omitempty"`
	jwt.RegisteredClaims
}

// IdentityParser проверяет HS256-токены из заголовка Authorization.
// Пустой секрет означает, что токены не принимаются и все запросы анонимны.
type IdentityParser struct {
	secret []byte
}

func NewIdentityParser(secret string) *IdentityParser {
	return &IdentityParser{secret: []byte(strings.TrimSpace(secret))}
}

// Enabled сообщает, что парсер принимает токены.
func (p *IdentityParser) Enabled() bool {
	return len(p.secret) > 0
}

// Parse разбирает значение заголовка Authorization.
func (p *IdentityParser) Parse(header string) (domain.CustomerIdentity, error) {
	header = strings.TrimSpace(header)
	if header == "" || !p.Enabled() {
		return domain.CustomerIdentity{}, nil
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.CustomerIdentity{}, errUnauthorized
	}

	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.CustomerIdentity{}, errUnauthorized
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.CustomerIdentity{}, errUnauthorized
	}
	return domain.CustomerIdentity{
		AccountID:   subject,
		Email:       strings.TrimSpace(claims.Email),
		DisplayName: strings.TrimSpace(claims.Name),
		Staff:       claims.Staff,
	}, nil
}

// IssueToken подписывает токен для identity. Используется в тестах и локальной отладке.
func (p *IdentityParser) IssueToken(identity domain.CustomerIdentity, ttl time.Duration) (string, error) {
	if !p.Enabled() {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := identityClaims{
		Email: identity.Email,
		Name:  identity.DisplayName,
		Staff: identity.Staff,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

func identityMiddleware(parser *IdentityParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := parser.Parse(c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) domain.CustomerIdentity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(domain.CustomerIdentity); ok {
			return identity
		}
	}
	return domain.CustomerIdentity{}
}

// cartOwnerMiddleware выбирает владельца корзины: аккаунт, иначе анонимный токен.
// Без валидного токена выдаётся новый и возвращается в заголовке ответа.
func cartOwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFrom(c)
		var owner domain.CartOwner
		if !identity.Anonymous() {
			owner.AccountID = identity.AccountID
		} else {
			token := strings.TrimSpace(c.GetHeader(CartTokenHeader))
			if _, err := uuid.Parse(token); err != nil {
				token = uuid.NewString()
			}
			owner.AnonymousToken = token
			c.Header(CartTokenHeader, token)
		}
		c.Set(cartOwnerKey, owner)
		c.Next()
	}
}

func cartOwnerFrom(c *gin.Context) domain.CartOwner {
	if v, ok := c.Get(cartOwnerKey); ok {
		if owner, ok := v.(domain.CartOwner); ok {
			return owner
		}
	}
	return domain.CartOwner{}
}

func requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFrom(c)
		switch {
		case identity.Anonymous():
			c.JSON(http.StatusUnauthorized, errorBody{Error: "authentication required"})
		case !identity.Staff:
			c.JSON(http.StatusForbidden, errorBody{Error: "staff access required"})
		default:
			c.Next()
			return
		}
		c.Abort()
	}
}
