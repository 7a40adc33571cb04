package crypto

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/matinoplay/billing/internal/clock"
	"github.com/matinoplay/billing/internal/keystore"
	"github.com/matinoplay/billing/internal/partner/domain"
)

// Codec implements the gateway's hybrid cipher. Requests carry an AES-ECB
// encrypted payload whose fresh session key travels RSA-encrypted alongside
// it, plus a SHA1withRSA signature over the encrypted blob. The algorithms
// are fixed by the partner's Java peer and must not be modernized.
type Codec struct {
	keys   *keystore.Store
	clock  clock.Clock
	logger *zap.Logger
}

func NewCodec(keys *keystore.Store, clk clock.Clock, logger *zap.Logger) *Codec {
	return &Codec{
		keys:   keys,
		clock:  clk,
		logger: logger.Named("partner.crypto"),
	}
}

// Envelope is an encoded request ready for the wire. Data and Sig are raw
// base64; the transport layer percent-encodes them.
type Envelope struct {
	Data      string
	Sig       string
	SessionID string
	RequestID string
}

// Decoded is the result of decoding a gateway response. When the response
// omits the AES session key, Plain holds the still-encrypted VALUE and the
// decode reports ErrMissingSessionKey.
type Decoded struct {
	Plain string
	Pairs map[string]string
}

// Encode builds the DATA and SIG parameters for one charge request.
//
// Raw input -> AES-ECB(random 16-byte key) -> "value=<b64>&key=<hexkey>"
// -> RSA PKCS#1 v1.5 with the partner public key -> base64 DATA;
// SIG = SHA1withRSA over the base64 DATA string with our private key.
func (c *Codec) Encode(subService, msisdn string, price int64) (*Envelope, error) {
	bundle, err := c.keys.Load(subService)
	if err != nil {
		return nil, err
	}

	sessionID := fmt.Sprintf("%d", c.clock.Now().UnixMilli())
	requestID, err := randomRequestID()
	if err != nil {
		return nil, err
	}

	raw := buildRawInput(subService, msisdn, price, sessionID, requestID)

	aesKey := make([]byte, 16)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, err
	}

	encValue, err := encryptAES([]byte(raw), aesKey)
	if err != nil {
		return nil, err
	}

	combined := fmt.Sprintf("value=%s&key=%s",
		base64.StdEncoding.EncodeToString(encValue),
		hex.EncodeToString(aesKey),
	)

	maxPayload := bundle.PartnerPublicKey.Size() - 11
	if len(combined) > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d bytes",
			domain.ErrPayloadTooLarge, len(combined), maxPayload)
	}

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, bundle.PartnerPublicKey, []byte(combined))
	if err != nil {
		return nil, err
	}
	data := base64.StdEncoding.EncodeToString(encrypted)

	digest := sha1.Sum([]byte(data))
	sig, err := rsa.SignPKCS1v15(rand.Reader, bundle.OwnPrivateKey, crypto.SHA1, digest[:])
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Data:      data,
		Sig:       base64.StdEncoding.EncodeToString(sig),
		SessionID: sessionID,
		RequestID: requestID,
	}, nil
}

var dataFieldRe = regexp.MustCompile(`^DATA=([^&]*)(?:&SIG=.*)?$`)
var valueOnlyRe = regexp.MustCompile(`(?i)VALUE=([A-Za-z0-9+/=]+)`)

// Decode decrypts a gateway response. The gateway is loose about framing,
// so the input may be a bare base64 blob or a DATA=...&SIG=... pair with
// stripped base64 padding; both are accepted.
func (c *Codec) Decode(subService, responseText string) (*Decoded, error) {
	bundle, err := c.keys.Load(subService)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(responseText)
	if m := dataFieldRe.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	raw = repairBase64(raw)

	cipherBytes, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", domain.ErrDecryptionFailed, err)
	}

	decrypted, err := rsa.DecryptPKCS1v15(nil, bundle.OwnPrivateKey, cipherBytes)
	if err != nil || len(decrypted) == 0 {
		return nil, fmt.Errorf("%w: rsa decrypt", domain.ErrDecryptionFailed)
	}
	decryptedStr := strings.TrimSpace(string(decrypted))

	// Some gateway nodes return only VALUE=... without the session key.
	if !strings.Contains(decryptedStr, "&") {
		if m := valueOnlyRe.FindStringSubmatch(decryptedStr); m != nil {
			c.logger.Warn("gateway response missing session key",
				zap.String("sub_service", subService))
			return &Decoded{Plain: m[1]}, domain.ErrMissingSessionKey
		}
		return nil, fmt.Errorf("%w: unexpected structure", domain.ErrDecryptionFailed)
	}

	valueEnc, keyHex, err := splitValueAndKey(decryptedStr)
	if err != nil {
		return nil, err
	}

	aesKey, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad session key", domain.ErrDecryptionFailed)
	}

	valueBytes, err := base64.StdEncoding.DecodeString(repairBase64(valueEnc))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid value base64", domain.ErrDecryptionFailed)
	}

	plainBytes, err := decryptAES(valueBytes, aesKey)
	if err != nil {
		return nil, fmt.Errorf("%w: aes decrypt", domain.ErrDecryptionFailed)
	}

	plain := strings.TrimSpace(string(plainBytes))
	return &Decoded{Plain: plain, Pairs: parsePairs(plain)}, nil
}

func buildRawInput(subService, msisdn string, price int64, sessionID, requestID string) string {
	return fmt.Sprintf(
		"CATE=BLANK&SUB=%s&ITEM=NULL&SUB_CP=null&SESS=%s&PRICE=%d&SOURCE=CLIENT&IMEI=NULL&CONT=null&TYPE=MOBILE&MOBILE=%s&REQ=%s",
		subService, sessionID, price, msisdn, requestID,
	)
}

func splitValueAndKey(decrypted string) (string, string, error) {
	parts := strings.SplitN(decrypted, "&", 2)
	value := strings.SplitN(parts[0], "=", 2)
	key := strings.SplitN(parts[1], "=", 2)
	if len(value) != 2 || len(key) != 2 {
		return "", "", fmt.Errorf("%w: unexpected structure", domain.ErrDecryptionFailed)
	}
	return strings.TrimSpace(value[1]), strings.TrimSpace(key[1]), nil
}

// parsePairs splits "key=value&key=value" payloads. Values may themselves be
// empty; keys without "=" are dropped.
func parsePairs(plain string) map[string]string {
	pairs := make(map[string]string)
	for _, part := range strings.Split(plain, "&") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		pairs[key] = strings.TrimSpace(kv[1])
	}
	return pairs
}

func repairBase64(s string) string {
	if r := len(s) % 4; r != 0 {
		return s + strings.Repeat("=", 4-r)
	}
	return s
}

// randomRequestID produces the 11-digit request identifier the protocol
// expects.
func randomRequestID() (string, error) {
	span := big.NewInt(90_000_000_000)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+10_000_000_000), nil
}

// encryptAES encrypts with AES in ECB mode with PKCS#7 padding. ECB is a
// protocol requirement from the partner's Java implementation.
func encryptAES(plain, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plain, block.BlockSize())
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], padded[i:i+block.BlockSize()])
	}
	return out, nil
}

// decryptAES reverses encryptAES. Some gateway nodes do not pad properly,
// so a failed unpad falls back to the raw decrypted bytes.
func decryptAES(cipherBytes, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(cipherBytes)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext not block aligned")
	}
	out := make([]byte, len(cipherBytes))
	for i := 0; i < len(cipherBytes); i += block.BlockSize() {
		block.Decrypt(out[i:i+block.BlockSize()], cipherBytes[i:i+block.BlockSize()])
	}
	if unpadded, ok := pkcs7Unpad(out, block.BlockSize()); ok {
		return unpadded, nil
	}
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, false
		}
	}
	return data[:len(data)-padding], true
}
