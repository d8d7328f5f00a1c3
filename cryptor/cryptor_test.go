package cryptor

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mini-idp/mini-idp/apierror"
)

func writeTestKeypair(t *testing.T) (privPath, pubPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()

	privPath = filepath.Join(dir, "private.pem")
	privBytes := x509.MarshalPKCS1PrivateKey(key)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))

	pubPath = filepath.Join(dir, "public.pem")
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o600))

	return privPath, pubPath
}

func TestSignVerifyRoundTrip(t *testing.T) {
	privPath, pubPath := writeTestKeypair(t)
	c, err := Load(privPath, pubPath)
	require.NoError(t, err)
	require.True(t, c.Available())

	claims := map[string]interface{}{"sub": "alice", "scope": "openid"}
	token, err := c.Sign(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	var out map[string]interface{}
	require.NoError(t, c.Verify(token, &out))
	require.Equal(t, "alice", out["sub"])
	require.Equal(t, "openid", out["scope"])
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	privPath, pubPath := writeTestKeypair(t)
	c, err := Load(privPath, pubPath)
	require.NoError(t, err)

	token, err := c.Sign(map[string]string{"sub": "alice"})
	require.NoError(t, err)

	tampered := token[:len(token)-1] + "x"
	var out map[string]string
	require.Error(t, c.Verify(tampered, &out))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	privPath, pubPath := writeTestKeypair(t)
	c, err := Load(privPath, pubPath)
	require.NoError(t, err)

	plaintext := []byte("s3cr3t-password")
	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestHashNeverDependsOnKeyMaterial(t *testing.T) {
	c, err := Load("", "")
	require.NoError(t, err)
	require.False(t, c.Available())

	sum := c.Hash([]byte("hello"))
	require.Len(t, sum, 64) // SHA-512 digest size

	// Hash is deterministic.
	require.Equal(t, sum, c.Hash([]byte("hello")))
}

func TestCryptoUnavailableWithoutKeys(t *testing.T) {
	c, err := Load("", "")
	require.NoError(t, err)
	require.False(t, c.Available())

	_, err = c.Sign(map[string]string{"sub": "alice"})
	requireCryptoUnavailable(t, err)

	_, err = c.Encrypt([]byte("x"))
	requireCryptoUnavailable(t, err)

	_, err = c.Decrypt([]byte("x"))
	requireCryptoUnavailable(t, err)
}

func requireCryptoUnavailable(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	ae, ok := apierror.As(err)
	require.True(t, ok, "expected *apierror.Error, got %T", err)
	require.Equal(t, apierror.CryptoUnavailable, ae.Code)
}

func TestLoadToleratesMissingFiles(t *testing.T) {
	c, err := Load("/no/such/private.pem", "/no/such/public.pem")
	require.NoError(t, err)
	require.False(t, c.Available())
}
