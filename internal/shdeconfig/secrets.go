package shdeconfig

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768
	scryptR         = 8
	scryptP         = 1
	keySize         = 32
)

// SecretsPath returns <DataDir>/secrets.json.enc, the encrypted store for
// oracle provider API keys that a user chooses not to keep in plain
// environment variables.
func (c Config) SecretsPath() string {
	return filepath.Join(c.DataDir, secretsFileName)
}

// HasSecretsFile reports whether an encrypted secrets file already exists
// for cfg.
func HasSecretsFile(cfg Config) bool {
	_, err := os.Stat(cfg.SecretsPath())
	return err == nil
}

// EncryptSecrets derives a key from password via scrypt and writes secrets
// to cfg.SecretsPath() as salt||nonce||AES-GCM(ciphertext), 0600.
func EncryptSecrets(cfg Config, password string, secrets map[string]string) error {
	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("shdeconfig: generate salt: %w", err)
	}

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("shdeconfig: derive key: %w", err)
	}
	defer zero(key)

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("shdeconfig: marshal secrets: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("shdeconfig: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("shdeconfig: new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("shdeconfig: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("shdeconfig: create data dir: %w", err)
	}
	path := cfg.SecretsPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0o600); err != nil {
		return fmt.Errorf("shdeconfig: write secrets file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("shdeconfig: rename secrets file: %w", err)
	}
	return nil
}

// DecryptSecrets reads and decrypts cfg.SecretsPath() with password,
// returning the plaintext map from API-key environment variable name
// (e.g. ANTHROPIC_API_KEY) to API key.
func DecryptSecrets(cfg Config, password string) (map[string]string, error) {
	path := cfg.SecretsPath()

	if info, err := os.Stat(path); err == nil && info.Mode().Perm() != 0o600 {
		cfgLog.Warn("secrets file %s has permissions %04o, expected 0600, fixing", path, info.Mode().Perm())
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, fmt.Errorf("shdeconfig: fix secrets file permissions: %w", err)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shdeconfig: read secrets file: %w", err)
	}

	minSize := saltSize + nonceSize + 16
	if len(fileData) < minSize {
		return nil, fmt.Errorf("shdeconfig: secrets file is truncated or corrupted")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("shdeconfig: derive key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("shdeconfig: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("shdeconfig: new gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("shdeconfig: decrypt secrets (wrong password or corrupted file): %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("shdeconfig: parse decrypted secrets: %w", err)
	}
	return secrets, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
