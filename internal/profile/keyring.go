package profile

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/zalando/go-keyring"
)

var ErrUnmarshallingProfiles = errors.New("cannot unmarshal profiles")

type Keyring interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// keyRingImpl is the default keyring implementation
type keyRingImpl struct{}

func (k *keyRingImpl) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}
func (k *keyRingImpl) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}
func (k *keyRingImpl) Delete(service, user string) error {
	return keyring.Delete(service, user)
}

// KeyringStore keeps the profile list as one JSON secret in the OS keyring
type KeyringStore struct {
	keyring Keyring
	service string
	user    string
	locked
}

func NewKeyringStore(username, lockBaseDir string) (*KeyringStore, error) {
	service := credentialexchange.SELF_NAME + "-profiles"
	l, err := newLocked(lockBaseDir, service)
	if err != nil {
		return nil, err
	}
	return &KeyringStore{
		keyring: &keyRingImpl{},
		service: service,
		user:    username,
		locked:  l,
	}, nil
}

func (s *KeyringStore) WithKeyring(keyring Keyring) *KeyringStore {
	s.keyring = keyring
	return s
}

func (s *KeyringStore) Load() ([]Profile, error) {
	release, err := s.ensureLock()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.get()
}

func (s *KeyringStore) Save(profiles []Profile) error {
	release, err := s.ensureLock()
	if err != nil {
		return err
	}
	defer release()
	return s.set(profiles)
}

func (s *KeyringStore) Update(fn func([]Profile) ([]Profile, bool)) error {
	release, err := s.ensureLock()
	if err != nil {
		return err
	}
	defer release()

	profiles, err := s.get()
	if err != nil {
		return err
	}
	next, changed := fn(profiles)
	if !changed {
		return nil
	}
	return s.set(next)
}

func (s *KeyringStore) get() ([]Profile, error) {
	jsonStr, err := s.keyring.Get(s.service, s.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return []Profile{}, nil
		}
		return nil, fmt.Errorf("%s, %w", err, ErrStoreFailure)
	}

	profiles := []Profile{}
	if err := json.Unmarshal([]byte(jsonStr), &profiles); err != nil {
		return nil, fmt.Errorf("%s, %w", err, ErrUnmarshallingProfiles)
	}
	return profiles, nil
}

// set deletes the secret when profiles is empty
func (s *KeyringStore) set(profiles []Profile) error {
	if len(profiles) == 0 {
		if err := s.keyring.Delete(s.service, s.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%s, %w", err, ErrStoreFailure)
		}
		return nil
	}

	b, err := json.Marshal(profiles)
	if err != nil {
		return err
	}
	if err := s.keyring.Set(s.service, s.user, string(b)); err != nil {
		return fmt.Errorf("%s, %w", err, ErrStoreFailure)
	}
	return nil
}
