// Package cryptor implements RSA-backed JWT signing/verification (RS256),
// RSA-OAEP encryption of at-rest secrets and a stable content hash, all keyed
// off the same two PEM files. Hash never depends on key material; every other
// operation fails with apierror.CryptoUnavailable when either PEM file is
// missing.
package cryptor

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/mini-idp/mini-idp/apierror"
)

// Cryptor wraps the RSA keypair used both to sign/verify JWTs and to
// encrypt/decrypt sensitive column values. It is read-only after
// construction and safe for concurrent use.
type Cryptor struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	signer  jose.Signer
}

// Load reads the private and public key PEM files named by the
// configuration. Either path may be empty or point to a missing file: the
// Cryptor is still constructed (Hash keeps working), but Sign/Verify/Encrypt/
// Decrypt will return apierror.CryptoUnavailable.
func Load(privateKeyPath, publicKeyPath string) (*Cryptor, error) {
	c := &Cryptor{}

	if priv, err := readPrivateKey(privateKeyPath); err == nil {
		c.private = priv
	}
	if pub, err := readPublicKey(publicKeyPath); err == nil {
		c.public = pub
	}

	// Key material is all or nothing: with only one of the two keys loaded,
	// no key-based operation is enabled.
	if c.private == nil || c.public == nil {
		return &Cryptor{}, nil
	}

	if c.private != nil {
		signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: c.private}, nil)
		if err != nil {
			return nil, fmt.Errorf("cryptor: building signer: %w", err)
		}
		c.signer = signer
	}

	return c, nil
}

func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("cryptor: no private key path configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cryptor: reading private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("cryptor: no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptor: parsing private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cryptor: private key is not RSA")
	}
	return rsaKey, nil
}

func readPublicKey(path string) (*rsa.PublicKey, error) {
	if path == "" {
		return nil, fmt.Errorf("cryptor: no public key path configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cryptor: reading public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("cryptor: no PEM block in %s", path)
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		if rsaKey, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptor: parsing public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cryptor: public key is not RSA")
	}
	return rsaKey, nil
}

func unavailable() error {
	return apierror.New(apierror.CryptoUnavailable, "signing or encryption key material is not configured")
}

// Sign produces a compact RS256 JWS whose payload is the JSON encoding of
// claims.
func (c *Cryptor) Sign(claims interface{}) (string, error) {
	if c.signer == nil {
		return "", unavailable()
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("cryptor: marshaling claims: %w", err)
	}
	obj, err := c.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("cryptor: signing: %w", err)
	}
	compact, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("cryptor: serializing jws: %w", err)
	}
	return compact, nil
}

// Verify checks the RS256 signature on token and decodes its payload into
// out. Any failure (bad signature, malformed token, missing key material) is
// reported uniformly by the caller as apierror.InvalidToken; Verify itself
// returns the underlying error for logging.
func (c *Cryptor) Verify(token string, out interface{}) error {
	if c.public == nil {
		return unavailable()
	}
	obj, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return fmt.Errorf("cryptor: parsing jws: %w", err)
	}
	payload, err := obj.Verify(c.public)
	if err != nil {
		return fmt.Errorf("cryptor: verifying signature: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("cryptor: decoding claims: %w", err)
	}
	return nil
}

// Encrypt returns the RSA-OAEP (SHA-256) ciphertext of plaintext, using the
// same keypair Sign/Verify use.
func (c *Cryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if c.public == nil {
		return nil, unavailable()
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, c.public, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptor: encrypting: %w", err)
	}
	return ciphertext, nil
}

// Decrypt reverses Encrypt.
func (c *Cryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.private == nil {
		return nil, unavailable()
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.private, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptor: decrypting: %w", err)
	}
	return plaintext, nil
}

// Hash returns a stable SHA-512 digest of data. Unlike every other method on
// Cryptor, Hash never depends on key material and never fails.
func (c *Cryptor) Hash(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}

// Available reports whether both key files loaded successfully, i.e.
// whether Sign/Verify/Encrypt/Decrypt can succeed.
func (c *Cryptor) Available() bool {
	return c.private != nil && c.public != nil
}
