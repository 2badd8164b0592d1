package storage

import (
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// SigningKey is a service account key that signs URLs locally. Deployed instances leave it unset
// and sign through the IAM credentials API as the configured signer email.
type SigningKey struct {
	Email      string
	PrivateKey []byte
}

func (k SigningKey) valid() bool {
	return k.Email != "" && len(k.PrivateKey) > 0
}

// LoadSigningKey reads a service account JSON key file.
func LoadSigningKey(path string) (SigningKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SigningKey{}, fmt.Errorf("storage: read signing key: %w", err)
	}
	return ParseSigningKey(raw)
}

// ParseSigningKey extracts client_email and the PEM private_key from a service account JSON key.
func ParseSigningKey(raw []byte) (SigningKey, error) {
	var file struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return SigningKey{}, fmt.Errorf("storage: decode signing key: %w", err)
	}
	key := SigningKey{
		Email:      strings.TrimSpace(file.ClientEmail),
		PrivateKey: []byte(strings.TrimSpace(file.PrivateKey)),
	}
	if !key.valid() {
		return SigningKey{}, errors.New("storage: signing key needs client_email and private_key")
	}
	if block, _ := pem.Decode(key.PrivateKey); block == nil {
		return SigningKey{}, errors.New("storage: signing key private_key is not PEM encoded")
	}
	return key, nil
}
