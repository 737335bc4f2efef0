package identity

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"time"

	"github.com/agubarev/ztcp/pkg/keymaterial"
	jwt "github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CertificateIssuer is the issuer claim of every self-signed certificate
const CertificateIssuer = "ztcp"

// certificateClaims binds a device id to a public key until expiry
type certificateClaims struct {
	PublicKey   string `json:"pub"`
	Fingerprint string `json:"fp"`
	Generation  uint32 `json:"gen"`
	jwt.StandardClaims
}

// signCertificate produces a compact ES256 JWS signed by the identity's own key
func signCertificate(deviceID uuid.UUID, kp keymaterial.KeyPair, generation uint32, issuedAt, expiresAt time.Time) (string, error) {
	key, err := x509.ParseECPrivateKey(kp.Private)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse identity private key")
	}

	claims := certificateClaims{
		PublicKey:   base64.StdEncoding.EncodeToString(kp.Public),
		Fingerprint: keymaterial.Fingerprint(kp.Public),
		Generation:  generation,
		StandardClaims: jwt.StandardClaims{
			Id:        kp.KeyID,
			Issuer:    CertificateIssuer,
			Subject:   deviceID.String(),
			IssuedAt:  issuedAt.Unix(),
			ExpiresAt: expiresAt.Unix(),
		},
	}

	cert, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign certificate")
	}

	return cert, nil
}

// parseCertificate verifies a certificate's signature against the public key
// it embeds and returns its claims
// NOTE: time claims are left to the caller, who owns the clock
func parseCertificate(cert string) (*certificateClaims, []byte, error) {
	var publicKey []byte

	parser := &jwt.Parser{SkipClaimsValidation: true}

	token, err := parser.ParseWithClaims(cert, &certificateClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		claims, ok := t.Claims.(*certificateClaims)
		if !ok {
			return nil, errors.New("unexpected claims type")
		}

		der, err := base64.StdEncoding.DecodeString(claims.PublicKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode embedded public key")
		}

		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse embedded public key")
		}

		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, errors.New("embedded public key is not ECDSA")
		}

		publicKey = der

		return ecdsaPub, nil
	})

	if err != nil {
		return nil, nil, errors.Wrap(ErrInvalidCertificate, err.Error())
	}

	claims, ok := token.Claims.(*certificateClaims)
	if !ok || !token.Valid {
		return nil, nil, ErrInvalidCertificate
	}

	return claims, publicKey, nil
}
