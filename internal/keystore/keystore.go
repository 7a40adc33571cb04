package keystore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/matinoplay/billing/internal/config"
)

var (
	ErrKeyNotFound = errors.New("key_not_found")
	ErrInvalidKey  = errors.New("invalid_key")
)

const (
	privateKeyFile = "PRIVATE_CP.pem"
	publicKeyFile  = "PUBLIC_VT_CP.pem"
)

// KeyBundle holds the RSA material for one sub-service: our private key for
// decrypting and signing, and the partner's public key for encrypting.
type KeyBundle struct {
	OwnPrivateKey    *rsa.PrivateKey
	PartnerPublicKey *rsa.PublicKey
}

// Store loads and caches per-sub-service key bundles from a directory laid
// out as <dir>/<SUB_SERVICE>/{PRIVATE_CP.pem,PUBLIC_VT_CP.pem}.
type Store struct {
	dir    string
	logger *zap.Logger

	mu      sync.RWMutex
	bundles map[string]*KeyBundle
}

func NewStore(cfg config.Config, logger *zap.Logger) *Store {
	return &Store{
		dir:     cfg.KeysDir,
		logger:  logger.Named("keystore"),
		bundles: make(map[string]*KeyBundle),
	}
}

// Load returns the key bundle for a sub-service, reading it from disk on
// first use.
func (s *Store) Load(subService string) (*KeyBundle, error) {
	s.mu.RLock()
	bundle, ok := s.bundles[subService]
	s.mu.RUnlock()
	if ok {
		return bundle, nil
	}

	bundle, err := s.read(subService)
	if err != nil {
		s.logger.Warn("key bundle load failed",
			zap.String("sub_service", subService), zap.Error(err))
		return nil, err
	}
	s.logger.Info("key bundle loaded", zap.String("sub_service", subService))

	s.mu.Lock()
	s.bundles[subService] = bundle
	s.mu.Unlock()
	return bundle, nil
}

func (s *Store) read(subService string) (*KeyBundle, error) {
	base := filepath.Join(s.dir, subService)
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, subService)
	}

	priv, err := loadPrivateKey(filepath.Join(base, privateKeyFile))
	if err != nil {
		return nil, err
	}
	pub, err := loadPublicKey(filepath.Join(base, publicKeyFile))
	if err != nil {
		return nil, err
	}
	return &KeyBundle{OwnPrivateKey: priv, PartnerPublicKey: pub}, nil
}

// Report describes the key material available for one sub-service. It is a
// diagnostics surface only and never sits on the charge path.
type Report struct {
	SubService     string `json:"sub_service"`
	PrivateKeyOK   bool   `json:"private_key_ok"`
	PrivateKeyBits int    `json:"private_key_bits,omitempty"`
	PublicKeyOK    bool   `json:"public_key_ok"`
	PublicKeyBits  int    `json:"public_key_bits,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Validate reports on the key material for a sub-service without caching it.
func (s *Store) Validate(subService string) Report {
	report := Report{SubService: subService}

	priv, err := loadPrivateKey(filepath.Join(s.dir, subService, privateKeyFile))
	if err != nil {
		report.Error = err.Error()
	} else {
		report.PrivateKeyOK = true
		report.PrivateKeyBits = priv.N.BitLen()
	}

	pub, err := loadPublicKey(filepath.Join(s.dir, subService, publicKeyFile))
	if err != nil {
		if report.Error == "" {
			report.Error = err.Error()
		}
	} else {
		report.PublicKeyOK = true
		report.PublicKeyBits = pub.N.BitLen()
	}

	return report
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s: not an RSA private key", ErrInvalidKey, path)
	}
	return key, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %s: not an RSA public key", ErrInvalidKey, path)
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, path, err)
	}
	return key, nil
}

func readPEM(path string) (*pem.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
		}
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%w: %s: no PEM block", ErrInvalidKey, path)
	}
	return block, nil
}
