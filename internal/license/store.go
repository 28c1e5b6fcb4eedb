package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/scrypt"
)

// credentialSalt is the fixed application salt mixed into the scrypt key
// derivation for the fallback file. Changing it invalidates stored files.
const credentialSalt = "venddesk-credential-v1"

// scrypt parameters, AES-256 key size
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// credentialRecord is the plaintext payload of the fallback file
type credentialRecord struct {
	TenantID  string    `json:"tenant_id"`
	DeviceID  string    `json:"device_id"`
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}

// systemKeyring abstracts the OS secret store so tests can swap it out
type systemKeyring interface {
	Set(service, user, secret string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// osKeyring is the production implementation backed by zalando/go-keyring
type osKeyring struct{}

func (osKeyring) Set(service, user, secret string) error { return keyring.Set(service, user, secret) }
func (osKeyring) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}
func (osKeyring) Delete(service, user string) error { return keyring.Delete(service, user) }

// StoreConfig carries the storage knobs the Store needs
type StoreConfig struct {
	KeyringService string
	CredentialFile string
}

// Store persists one signed license token per (tenant, device). The OS
// keyring is probed once at construction; when it is unusable every write
// and read for the life of the process goes to the encrypted fallback
// file, so a session never mixes backends.
type Store struct {
	cfg    StoreConfig
	kr     systemKeyring
	logger *slog.Logger
	secure atomic.Bool
}

// NewStore creates a Store and selects the credential backend
func NewStore(cfg StoreConfig, logger *slog.Logger) *Store {
	return newStore(cfg, logger, osKeyring{})
}

func newStore(cfg StoreConfig, logger *slog.Logger, kr systemKeyring) *Store {
	s := &Store{
		cfg:    cfg,
		kr:     kr,
		logger: logger.With(slog.String("component", "token_store")),
	}
	s.secure.Store(s.probeKeyring())

	backend := "keyring"
	if !s.secure.Load() {
		backend = "encrypted_file"
	}
	s.logger.Info("credential backend selected",
		slog.String("backend", backend),
		slog.String("fallback_file", cfg.CredentialFile),
	)
	return s
}

// probeKeyring performs a set/get/delete round trip to decide whether the
// OS secret store is usable. Run exactly once per process.
func (s *Store) probeKeyring() bool {
	const probeUser = "venddesk-backend-probe"
	if err := s.kr.Set(s.cfg.KeyringService, probeUser, "ok"); err != nil {
		s.logger.Warn("OS keyring unavailable, falling back to encrypted file storage",
			slog.String("error", err.Error()),
		)
		return false
	}
	if _, err := s.kr.Get(s.cfg.KeyringService, probeUser); err != nil {
		s.logger.Warn("OS keyring readback failed, falling back to encrypted file storage",
			slog.String("error", err.Error()),
		)
		return false
	}
	_ = s.kr.Delete(s.cfg.KeyringService, probeUser)
	return true
}

func credentialUser(tenantID, deviceID string) string {
	return tenantID + ":" + deviceID
}

// Save persists the token, fully replacing any prior value for the
// (tenant, device) key. A keyring write failure drops down to the file
// backend instead of failing the save.
func (s *Store) Save(tenantID, deviceID, token string) error {
	if tenantID == "" || deviceID == "" || token == "" {
		return fmt.Errorf("%w: tenant, device, and token are all required", ErrStorageUnavailable)
	}

	if s.secure.Load() {
		if err := s.kr.Set(s.cfg.KeyringService, credentialUser(tenantID, deviceID), token); err == nil {
			s.logger.Debug("credential saved to keyring",
				slog.String("tenant_id", tenantID),
				slog.String("token", maskToken(token)),
			)
			return nil
		} else {
			// Demote to the file backend for the rest of the process so
			// subsequent reads stay consistent with this write.
			s.secure.Store(false)
			s.logger.Warn("keyring write failed, demoting to encrypted file storage",
				slog.String("error", err.Error()),
			)
		}
	}

	return s.saveFile(credentialRecord{
		TenantID:  tenantID,
		DeviceID:  deviceID,
		Token:     token,
		Timestamp: time.Now().UTC(),
	})
}

// Get returns the stored token for the key, if any. An unreadable or
// mismatched fallback record is reported as absent, never as an error.
func (s *Store) Get(tenantID, deviceID string) (string, bool) {
	if tenantID == "" || deviceID == "" {
		return "", false
	}

	if s.secure.Load() {
		token, err := s.kr.Get(s.cfg.KeyringService, credentialUser(tenantID, deviceID))
		if err == nil && token != "" {
			return token, true
		}
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			s.logger.Warn("keyring read failed",
				slog.String("error", err.Error()),
			)
		}
		return "", false
	}

	return s.getFile(tenantID, deviceID)
}

// Delete removes the credential from all backends. Deleting an absent
// credential is not an error.
func (s *Store) Delete(tenantID, deviceID string) error {
	if err := s.kr.Delete(s.cfg.KeyringService, credentialUser(tenantID, deviceID)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		s.logger.Debug("keyring delete failed",
			slog.String("error", err.Error()),
		)
	}

	if err := os.Remove(s.cfg.CredentialFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to remove credential file: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// saveFile encrypts the record and replaces the fallback file atomically:
// write to a temp file, then rename over the destination. A crash mid-write
// leaves the prior file intact.
func (s *Store) saveFile(rec credentialRecord) error {
	key, err := deriveFileKey(rec.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: key derivation failed: %v", ErrStorageUnavailable, err)
	}

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: failed to encode credential record: %v", ErrStorageUnavailable, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("%w: failed to generate nonce: %v", ErrStorageUnavailable, err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	content := base64.StdEncoding.EncodeToString(nonce) + ":" + base64.StdEncoding.EncodeToString(sealed)

	dir := filepath.Dir(s.cfg.CredentialFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: failed to create credential directory: %v", ErrStorageUnavailable, err)
	}

	tmp := s.cfg.CredentialFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return fmt.Errorf("%w: failed to write credential file: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, s.cfg.CredentialFile); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: failed to replace credential file: %v", ErrStorageUnavailable, err)
	}

	s.logger.Debug("credential saved to encrypted file",
		slog.String("path", s.cfg.CredentialFile),
		slog.String("tenant_id", rec.TenantID),
		slog.String("token", maskToken(rec.Token)),
	)
	return nil
}

// getFile decrypts the fallback file with a key derived from the requested
// device. A wrong device, corruption, or tenant mismatch all read as absent.
func (s *Store) getFile(tenantID, deviceID string) (string, bool) {
	data, err := os.ReadFile(s.cfg.CredentialFile)
	if err != nil {
		return "", false
	}

	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) != 2 {
		s.logger.Debug("credential file malformed, treating as absent")
		return "", false
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", false
	}

	key, err := deriveFileKey(deviceID)
	if err != nil {
		return "", false
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", false
	}
	if len(nonce) != gcm.NonceSize() {
		return "", false
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		s.logger.Debug("credential file undecryptable for this device, treating as absent")
		return "", false
	}

	var rec credentialRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return "", false
	}
	if rec.TenantID != tenantID || rec.DeviceID != deviceID {
		s.logger.Debug("credential file belongs to a different installation, treating as absent",
			slog.String("stored_tenant", rec.TenantID),
			slog.String("requested_tenant", tenantID),
		)
		return "", false
	}
	return rec.Token, true
}

func deriveFileKey(deviceID string) ([]byte, error) {
	return scrypt.Key([]byte(deviceID), []byte(credentialSalt), scryptN, scryptR, scryptP, scryptKeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
