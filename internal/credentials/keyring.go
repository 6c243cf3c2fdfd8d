package credentials

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
)

const keyringService = "apphost"

// KeyringStore keeps credentials in the operating system keyring
type KeyringStore struct {
	user string
}

// NewKeyringStore creates a keyring-backed store for the given account name
func NewKeyringStore(user string) *KeyringStore {
	if user == "" {
		user = "default"
	}
	return &KeyringStore{user: user}
}

// Load reads the credential record from the keyring
func (s *KeyringStore) Load() Credentials {
	secret, err := keyring.Get(keyringService, s.user)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			log.Debug().Err(err).Msg("Failed to read credentials from keyring")
		}
		return Credentials{}
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(secret), &creds); err != nil {
		log.Debug().Err(err).Msg("Failed to parse keyring credentials")
		return Credentials{}
	}

	return creds
}

// Save stores the token and code in the keyring
func (s *KeyringStore) Save(token, code string) {
	creds := s.Load()
	creds.AccessToken = token
	creds.Code = code
	s.write(creds, "Failed to save credentials to keyring")
}

// Delete removes the token and optionally the code from the keyring
func (s *KeyringStore) Delete(removeCode bool) {
	creds := s.Load()
	creds.AccessToken = ""
	if removeCode {
		creds.Code = ""
	}

	if creds == (Credentials{}) {
		if err := keyring.Delete(keyringService, s.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			log.Warn().Err(err).Msg("Failed to delete keyring credentials")
		}
		return
	}
	s.write(creds, "Failed to delete keyring credentials")
}

func (s *KeyringStore) write(creds Credentials, failure string) {
	data, err := json.Marshal(creds)
	if err != nil {
		log.Warn().Err(err).Msg(failure)
		return
	}
	if err := keyring.Set(keyringService, s.user, string(data)); err != nil {
		log.Warn().Err(err).Msg(failure)
	}
}
