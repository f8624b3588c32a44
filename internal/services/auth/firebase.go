package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"github.com/prompt-refiner-go/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	firebaseIssuerPrefix = "https://securetoken.google.com/"
	certsCacheKey        = "certs"
	defaultCertsTTL      = time.Hour
)

var maxAgePattern = regexp.MustCompile(`max-age=(\d+)`)

// FirebaseVerifier verifies Firebase Auth ID tokens: RS256 JWTs whose kid
// names one of Google's published signing certificates.
type FirebaseVerifier struct {
	projectID  string
	certsURL   string
	httpClient *http.Client
	certs      *cache.Cache
	fetchMu    sync.Mutex
	logger     *logrus.Logger
}

func NewFirebaseVerifier(projectID, certsURL string, logger *logrus.Logger) *FirebaseVerifier {
	return &FirebaseVerifier{
		projectID:  projectID,
		certsURL:   certsURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		certs:      cache.New(defaultCertsTTL, 10*time.Minute),
		logger:     logger,
	}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*models.Identity, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(firebaseIssuerPrefix+v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims.identity()
}

// publicKey returns the key for kid, refreshing the certificate set when
// the cache is empty or does not know kid (keys rotate).
func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if keys, ok := v.cachedKeys(); ok {
		if key, ok := keys[kid]; ok {
			return key, nil
		}
	}

	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

func (v *FirebaseVerifier) cachedKeys() (map[string]*rsa.PublicKey, bool) {
	val, found := v.certs.Get(certsCacheKey)
	if !found {
		return nil, false
	}
	return val.(map[string]*rsa.PublicKey), true
}

func (v *FirebaseVerifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signing certificates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch signing certificates: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var pems map[string]string
	if err := json.Unmarshal(body, &pems); err != nil {
		return nil, fmt.Errorf("decode signing certificates: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, certPEM := range pems {
		key, err := parseCertificateKey(certPEM)
		if err != nil {
			v.logger.WithError(err).WithField("kid", kid).Warn("Skipping unparsable signing certificate")
			continue
		}
		keys[kid] = key
	}

	ttl := cacheTTL(resp.Header.Get("Cache-Control"))
	v.certs.Set(certsCacheKey, keys, ttl)
	v.logger.WithFields(logrus.Fields{
		"keys": len(keys),
		"ttl":  ttl,
	}).Debug("Signing certificates refreshed")
	return keys, nil
}

func parseCertificateKey(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is %T, not RSA", cert.PublicKey)
	}
	return key, nil
}

func cacheTTL(cacheControl string) time.Duration {
	m := maxAgePattern.FindStringSubmatch(cacheControl)
	if m == nil {
		return defaultCertsTTL
	}
	seconds, err := strconv.Atoi(m[1])
	if err != nil || seconds <= 0 {
		return defaultCertsTTL
	}
	return time.Duration(seconds) * time.Second
}
