package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"library-backend/internal/platform/apierr"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID: sub は users.id の10進文字列
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	store  AccountStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	// メールアドレス単位のログイン試行制限
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func NewService(store AccountStore, secret []byte, ttl time.Duration, loginPerMinute int) *Service {
	if loginPerMinute <= 0 {
		loginPerMinute = 5
	}
	return &Service{
		store:    store,
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
		perMin:   loginPerMinute,
	}
}

func (s *Service) Secret() []byte { return s.secret }

// Login: 失敗理由（メール不明 / パスワード違い）はクライアントに区別させない
func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(password) < 6 {
		return Token{}, apierr.ErrInvalid("email and password (min 6 chars) are required")
	}
	if !s.allow(email) {
		slog.WarnContext(ctx, "login rate limited", "email", email)
		return Token{}, apierr.ErrRateLimited("too many login attempts, try again later")
	}

	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return Token{}, apierr.Storage(err)
	}
	if acct == nil {
		return Token{}, apierr.ErrUnauthenticated("invalid email or password")
	}
	if err := CheckPassword(acct.PasswordHash, password); err != nil {
		return Token{}, apierr.ErrUnauthenticated("invalid email or password")
	}
	return s.Issue(acct.UserID, acct.Email, acct.Role)
}

func (s *Service) Issue(userID int64, email, role string) (Token, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Token: signed, ExpiresAt: exp.UTC()}, nil
}

func (s *Service) allow(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[email]
	if !ok {
		// 無制限に増えないよう、溜まりすぎたら作り直す
		if len(s.limiters) >= 10000 {
			s.limiters = map[string]*rate.Limiter{}
		}
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMin)), s.perMin)
		s.limiters[email] = l
	}
	return l.Allow()
}

// ParseToken: alg は HS256 固定（none攻撃とか回避）
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
