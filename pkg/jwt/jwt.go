package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

const issuer = "stockledger"

// 角色
// staff可以调整库存、登记商品；customer只能操作自己的订单
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Manager JWT管理器
// 设计说明：
// 1. 只签发Access Token，账本服务本身不管理登录，Token由上游身份服务或tokengen工具签发
// 2. Claims里的用户ID写入库存流水的actor字段
type Manager struct {
	secret            []byte
	accessTokenExpire time.Duration
	now               func() time.Time
}

// NewManager 创建JWT管理器
func NewManager(secret string, accessTokenExpire time.Duration) *Manager {
	return &Manager{
		secret:            []byte(secret),
		accessTokenExpire: accessTokenExpire,
		now:               time.Now,
	}
}

// Claims 自定义JWT Claims
// 学习要点：嵌入jwt.RegisteredClaims获取标准字段（exp、iat、nbf等）
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Actor 写入流水的操作人标识，如user:42
func (c *Claims) Actor() string {
	return "user:" + strconv.FormatUint(uint64(c.UserID), 10)
}

// IsStaff 是否可以执行库存类写操作
func (c *Claims) IsStaff() bool {
	return c.Role == RoleStaff || c.Role == RoleAdmin
}

// Token 签发结果
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // 秒
}

// GenerateToken 签发Access Token
func (m *Manager) GenerateToken(userID uint, username, role string) (*Token, error) {
	if userID == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidParams, "用户ID不能为空")
	}
	switch role {
	case RoleCustomer, RoleStaff, RoleAdmin:
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidParams, fmt.Sprintf("未知角色: %q", role))
	}

	now := m.now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTokenExpire)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, apperrors.Wrap(err, "生成Access Token失败")
	}

	return &Token{
		AccessToken: signed,
		ExpiresIn:   int64(m.accessTokenExpire.Seconds()),
	}, nil
}

// ParseToken 解析并验证Token
// 学习要点：
// 1. 限定HMAC签名算法，拒绝alg=none等伪造
// 2. 过期返回ErrTokenExpired，其他失败统一返回ErrInvalidToken
func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非法的签名算法: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, apperrors.ErrInvalidToken
	}
	return claims, nil
}
