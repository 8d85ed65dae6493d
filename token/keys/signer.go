package keys

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier resolves the key used to check a credential's signature
type Verifier interface {
	// GetVerificationKey is a jwt.Keyfunc
	GetVerificationKey(token *jwt.Token) (any, error)

	// HasVerificationKey reports whether a public key is loaded
	HasVerificationKey() bool
}

// Signer is an interface for signing and verifying JWT credentials
type Signer interface {
	Verifier

	// Sign creates a signed JWT from claims
	Sign(claims jwt.Claims) (string, error)

	// GetSigningMethod returns the JWT signing method used
	GetSigningMethod() jwt.SigningMethod
}

var (
	_ Signer   = (*KeyPairSigner)(nil)
	_ Verifier = (*PublicKeyVerifier)(nil)
)

// KeyPairSigner implements Signer using RSA with RS256
type KeyPairSigner struct {
	keyPair *KeyPair
}

// NewKeyPairSigner creates a new key pair signer with the given key pair
func NewKeyPairSigner(keyPair *KeyPair) *KeyPairSigner {
	return &KeyPairSigner{
		keyPair: keyPair,
	}
}

func (a *KeyPairSigner) Sign(claims jwt.Claims) (string, error) {
	if a.keyPair == nil || a.keyPair.PrivateKey == nil {
		return "", fmt.Errorf("no private key loaded")
	}
	token := jwt.NewWithClaims(a.keyPair.GetSigningMethod(), claims)
	token.Header["kid"] = a.keyPair.KeyID

	signedToken, err := token.SignedString(a.keyPair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with asymmetric key: %w", err)
	}
	return signedToken, nil
}

func (a *KeyPairSigner) GetVerificationKey(token *jwt.Token) (any, error) {
	return verificationKey(a.keyPair, token)
}

func (a *KeyPairSigner) HasVerificationKey() bool {
	return a.keyPair != nil && a.keyPair.PublicKey != nil
}

func (a *KeyPairSigner) GetSigningMethod() jwt.SigningMethod {
	return a.keyPair.GetSigningMethod()
}

// PublicKeyVerifier checks signatures without holding the private key. The access
// gate only ever needs one of these.
type PublicKeyVerifier struct {
	keyPair *KeyPair
}

func NewPublicKeyVerifier(keyPair *KeyPair) *PublicKeyVerifier {
	return &PublicKeyVerifier{keyPair: keyPair}
}

func (v *PublicKeyVerifier) GetVerificationKey(token *jwt.Token) (any, error) {
	return verificationKey(v.keyPair, token)
}

func (v *PublicKeyVerifier) HasVerificationKey() bool {
	return v.keyPair != nil && v.keyPair.PublicKey != nil
}

func verificationKey(kp *KeyPair, token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	if kp == nil || kp.PublicKey == nil {
		return nil, fmt.Errorf("no public key loaded")
	}
	return kp.PublicKey, nil
}
