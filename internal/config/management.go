package config

import "golang.org/x/crypto/bcrypt"

// CheckManagementKey verifies whether the provided key matches the configured management credential.
func CheckManagementKey(cfg *Config, candidate string) bool {
	if cfg == nil || candidate == "" {
		return false
	}
	if cfg.Security.ManagementKey != "" && candidate == cfg.Security.ManagementKey {
		return true
	}
	if cfg.Security.ManagementKeyHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.Security.ManagementKeyHash), []byte(candidate)); err == nil {
			return true
		}
	}
	return false
}

// ManagementKeyValidator returns a closure suitable for middleware validation.
func ManagementKeyValidator(cfg *Config) func(string) bool {
	return func(candidate string) bool {
		return CheckManagementKey(cfg, candidate)
	}
}

// HashManagementKey produces a bcrypt hash suitable for management_key_hash.
func HashManagementKey(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// RotateManagementKey replaces the stored management key hash and persists the
// config file. The plaintext key is never written to disk.
func (cm *ConfigManager) RotateManagementKey(plaintext string) error {
	hash, err := HashManagementKey(plaintext)
	if err != nil {
		return err
	}
	cm.mu.Lock()
	cm.config.ManagementKey = ""
	cm.config.ManagementKeyHash = hash
	err = cm.save()
	cm.mu.Unlock()
	return err
}
