// The too-large fixture deliberately generates a 512-bit key; Go 1.24+
// rejects RSA keys under 1024 bits unless this debug setting is present.
//go:debug rsa1024min=0

package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matinoplay/billing/internal/clock"
	"github.com/matinoplay/billing/internal/config"
	"github.com/matinoplay/billing/internal/keystore"
	"github.com/matinoplay/billing/internal/partner/domain"
)

// writeKeyPair installs a key pair where the "partner" public key matches our
// private key, so an encoded request can be decoded back locally.
func writeKeyPair(t *testing.T, dir, subService string, bits int) *rsa.PrivateKey {
	t.Helper()

	base := filepath.Join(dir, subService)
	require.NoError(t, os.MkdirAll(base, 0o755))

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	require.NoError(t, os.WriteFile(filepath.Join(base, "PRIVATE_CP.pem"), privPEM, 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	require.NoError(t, os.WriteFile(filepath.Join(base, "PUBLIC_VT_CP.pem"), pubPEM, 0o644))

	return priv
}

func newTestCodec(t *testing.T, dir string) *Codec {
	t.Helper()
	store := keystore.NewStore(config.Config{KeysDir: dir}, zaptest.NewLogger(t))
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewCodec(store, clk, zaptest.NewLogger(t))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	// The value=<b64>&key=<hex> payload of a standard request is 279 bytes,
	// which needs more than a 2048-bit block under PKCS#1 v1.5.
	writeKeyPair(t, dir, "SUPER_MATINO_DAILY", 3072)
	codec := newTestCodec(t, dir)

	env, err := codec.Encode("SUPER_MATINO_DAILY", "959123456789", 169)
	require.NoError(t, err)
	assert.NotEmpty(t, env.Data)
	assert.NotEmpty(t, env.Sig)
	assert.Len(t, env.RequestID, 11)

	decoded, err := codec.Decode("SUPER_MATINO_DAILY", "DATA="+env.Data+"&SIG="+env.Sig)
	require.NoError(t, err)

	assert.Equal(t, "959123456789", decoded.Pairs["MOBILE"])
	assert.Equal(t, "SUPER_MATINO_DAILY", decoded.Pairs["SUB"])
	assert.Equal(t, "169", decoded.Pairs["PRICE"])
	assert.Equal(t, env.RequestID, decoded.Pairs["REQ"])
	assert.Equal(t, env.SessionID, decoded.Pairs["SESS"])
}

func TestEncodePayloadTooLarge(t *testing.T) {
	dir := t.TempDir()
	writeKeyPair(t, dir, "SUPER_MATINO_BUY1", 512)
	codec := newTestCodec(t, dir)

	_, err := codec.Encode("SUPER_MATINO_BUY1", "959123456789", 169)
	assert.True(t, errors.Is(err, domain.ErrPayloadTooLarge))
}

// TestEncodeSizeBoundary pins Encode to the PKCS#1 v1.5 limit of
// keySize-11 bytes: the smallest key that carries a standard request
// succeeds, and one byte less refuses it.
func TestEncodeSizeBoundary(t *testing.T) {
	raw := buildRawInput("SUPER_MATINO_DAILY", "959123456789", 169,
		strings.Repeat("1", 13), strings.Repeat("1", 11))
	padded := len(raw) + 16 - len(raw)%16
	combined := len("value=") + base64.StdEncoding.EncodedLen(padded) + len("&key=") + 32

	passDir := t.TempDir()
	writeKeyPair(t, passDir, "SUPER_MATINO_DAILY", (combined+11)*8)
	_, err := newTestCodec(t, passDir).Encode("SUPER_MATINO_DAILY", "959123456789", 169)
	require.NoError(t, err)

	failDir := t.TempDir()
	writeKeyPair(t, failDir, "SUPER_MATINO_DAILY", (combined+10)*8)
	_, err = newTestCodec(t, failDir).Encode("SUPER_MATINO_DAILY", "959123456789", 169)
	assert.True(t, errors.Is(err, domain.ErrPayloadTooLarge))
}

func TestDecodeBareBase64WithStrippedPadding(t *testing.T) {
	dir := t.TempDir()
	priv := writeKeyPair(t, dir, "SUPER_MATINO_DAILY", 2048)
	codec := newTestCodec(t, dir)

	aesKey := make([]byte, 16)
	_, err := rand.Read(aesKey)
	require.NoError(t, err)
	encValue, err := encryptAES([]byte("RES=0&REQ=12345678901&MOBILE=959123456789"), aesKey)
	require.NoError(t, err)

	combined := fmt.Sprintf("VALUE=%s&KEY=%s",
		base64.StdEncoding.EncodeToString(encValue), hex.EncodeToString(aesKey))
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, &priv.PublicKey, []byte(combined))
	require.NoError(t, err)

	raw := base64.StdEncoding.EncodeToString(encrypted)
	decoded, err := codec.Decode("SUPER_MATINO_DAILY", raw)
	require.NoError(t, err)
	assert.Equal(t, "0", decoded.Pairs["RES"])
	assert.Equal(t, "12345678901", decoded.Pairs["REQ"])

	// Same blob with stripped base64 padding must still decode.
	stripped, err := codec.Decode("SUPER_MATINO_DAILY", trimPadding(raw))
	require.NoError(t, err)
	assert.Equal(t, "0", stripped.Pairs["RES"])
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}

func TestDecodeMissingSessionKey(t *testing.T) {
	dir := t.TempDir()
	priv := writeKeyPair(t, dir, "SUPER_MATINO_DAILY", 2048)
	codec := newTestCodec(t, dir)

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, &priv.PublicKey, []byte("VALUE=aGVsbG8="))
	require.NoError(t, err)

	decoded, err := codec.Decode("SUPER_MATINO_DAILY", base64.StdEncoding.EncodeToString(encrypted))
	assert.True(t, errors.Is(err, domain.ErrMissingSessionKey))
	require.NotNil(t, decoded)
	assert.Equal(t, "aGVsbG8=", decoded.Plain)
}

func TestDecodeGarbage(t *testing.T) {
	dir := t.TempDir()
	writeKeyPair(t, dir, "SUPER_MATINO_DAILY", 2048)
	codec := newTestCodec(t, dir)

	_, err := codec.Decode("SUPER_MATINO_DAILY", "not-base64-at-all!!!")
	assert.True(t, errors.Is(err, domain.ErrDecryptionFailed))
}

func TestPKCS7Unpad(t *testing.T) {
	data := pkcs7Pad([]byte("hello"), 16)
	assert.Len(t, data, 16)

	out, ok := pkcs7Unpad(data, 16)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), out)

	_, ok = pkcs7Unpad([]byte("not padded right"), 16)
	assert.False(t, ok)
}
