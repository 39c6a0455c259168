package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Token type claim values.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const minRefreshSecretLen = 32

var (
	// ErrTokenExpired is returned when the exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed covers bad encoding, bad signatures and failed claim checks.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTypeMismatch is returned when a token of the other type is presented.
	ErrTypeMismatch = errors.New("token type mismatch")
)

// Config configures a [Manager].
//
// Access tokens are signed with SigningMethod and PrivateKey (verified with
// PublicKey or VerifyKeys). Refresh tokens are always HS256 with RefreshSecret
// so a leaked access verification key cannot mint refresh tokens.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	RefreshSecret []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	Now           func() time.Time
}

// Manager signs and verifies access and refresh tokens. It holds no mutable
// state and is safe for concurrent use.
type Manager struct {
	config Config
}

// AccessClaims is the access-token payload: userId, roles, type plus the
// registered jti, iat and exp claims.
type AccessClaims struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles,omitempty"`
	Type   string   `json:"type"`
	jwt.RegisteredClaims
}

// RefreshClaims is the refresh-token payload: userId, tokenFamily, type plus
// the registered jti and iat claims. Expiry is enforced by the stored record.
type RefreshClaims struct {
	UserID      string `json:"userId"`
	TokenFamily string `json:"tokenFamily"`
	Type        string `json:"type"`
	jwt.RegisteredClaims
}

type typeOnlyClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if len(cfg.RefreshSecret) < minRefreshSecretLen {
		return nil, fmt.Errorf("refresh secret must be at least %d bytes", minRefreshSecretLen)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (j *Manager) AccessTTL() time.Duration {
	return j.config.AccessTTL
}

// SignAccess issues an access token for userID and returns it with its expiry.
func (j *Manager) SignAccess(userID string, roles []string, jti string) (string, time.Time, error) {
	now := j.config.Now()
	expiresAt := now.Add(j.config.AccessTTL)

	claims := AccessClaims{
		UserID: userID,
		Roles:  roles,
		Type:   TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", time.Time{}, err
	}

	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies an access token. It performs no storage access.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := j.parserOptions(j.getMethod().Alg())
	options = append(options, jwt.WithExpirationRequired())
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	claims := &AccessClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, j.accessKeyFunc)
	if err != nil {
		return nil, classify(err, tokenStr, TypeAccess)
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Type != TypeAccess {
		return nil, ErrTypeMismatch
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing userId or jti", ErrTokenMalformed)
	}
	if err := j.checkFutureIAT(claims.IssuedAt); err != nil {
		return nil, err
	}

	return claims, nil
}

// SignRefresh issues a refresh token carrying userID, family and jti.
func (j *Manager) SignRefresh(userID, family, jti string) (string, error) {
	claims := RefreshClaims{
		UserID:      userID,
		TokenFamily: family,
		Type:        TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jti,
			IssuedAt: jwt.NewNumericDate(j.config.Now()),
			Issuer:   j.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.config.RefreshSecret)
}

// ParseRefresh verifies a refresh token signature and type.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	options := j.parserOptions(jwt.SigningMethodHS256.Alg())

	claims := &RefreshClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return j.config.RefreshSecret, nil
	})
	if err != nil {
		return nil, classify(err, tokenStr, TypeRefresh)
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Type != TypeRefresh {
		return nil, ErrTypeMismatch
	}
	if claims.UserID == "" || claims.ID == "" || claims.TokenFamily == "" {
		return nil, fmt.Errorf("%w: missing userId, jti or tokenFamily", ErrTokenMalformed)
	}
	if err := j.checkFutureIAT(claims.IssuedAt); err != nil {
		return nil, err
	}

	return claims, nil
}

func (j *Manager) parserOptions(alg string) []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithIssuedAt(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	return options
}

func (j *Manager) accessKeyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.getVerifyKey()
}

func (j *Manager) checkFutureIAT(iat *jwt.NumericDate) error {
	if iat == nil || j.config.MaxFutureIAT <= 0 {
		return nil
	}
	if iat.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return fmt.Errorf("%w: iat too far in the future", ErrTokenMalformed)
	}
	return nil
}

// classify maps a parser error onto the package sentinels. A token that failed
// verification but carries the other type claim is reported as a mismatch.
func classify(err error, tokenStr, want string) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}

	var peek typeOnlyClaims
	if _, _, perr := jwt.NewParser().ParseUnverified(tokenStr, &peek); perr == nil {
		if peek.Type != "" && peek.Type != want {
			return ErrTypeMismatch
		}
	}

	return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
