package profile

import (
	"errors"
	"fmt"
	"os"

	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	ini "gopkg.in/ini.v1"
)

var ErrStoreFailure = errors.New("profile store failure")

// IniStore keeps profiles as role.<key> child sections of the config file.
// Every other section of the file is left untouched.
type IniStore struct {
	path string
	locked
}

func NewIniStore(path, lockBaseDir string) (*IniStore, error) {
	l, err := newLocked(lockBaseDir, credentialexchange.SELF_NAME+"-ini")
	if err != nil {
		return nil, err
	}
	return &IniStore{path: path, locked: l}, nil
}

func (s *IniStore) Load() ([]Profile, error) {
	release, err := s.ensureLock()
	if err != nil {
		return nil, err
	}
	defer release()

	cfg, err := s.file()
	if err != nil {
		return nil, err
	}
	return read(cfg)
}

func (s *IniStore) Save(profiles []Profile) error {
	release, err := s.ensureLock()
	if err != nil {
		return err
	}
	defer release()

	cfg, err := s.file()
	if err != nil {
		return err
	}
	return s.write(cfg, profiles)
}

func (s *IniStore) Update(fn func([]Profile) ([]Profile, bool)) error {
	release, err := s.ensureLock()
	if err != nil {
		return err
	}
	defer release()

	cfg, err := s.file()
	if err != nil {
		return err
	}
	profiles, err := read(cfg)
	if err != nil {
		return err
	}
	next, changed := fn(profiles)
	if !changed {
		return nil
	}
	return s.write(cfg, next)
}

func read(cfg *ini.File) ([]Profile, error) {
	profiles := []Profile{}
	for _, sct := range cfg.Section(credentialexchange.INI_CONF_SECTION).ChildSections() {
		p := Profile{}
		if err := sct.MapTo(&p); err != nil {
			return nil, fmt.Errorf("%s: %s, %w", sct.Name(), err, ErrStoreFailure)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (s *IniStore) write(cfg *ini.File, profiles []Profile) error {
	for _, sct := range cfg.Section(credentialexchange.INI_CONF_SECTION).ChildSections() {
		cfg.DeleteSection(sct.Name())
	}

	for _, p := range profiles {
		name := fmt.Sprintf("%s.%s", credentialexchange.INI_CONF_SECTION, credentialexchange.RoleKeyConverter(p.RoleArn()))
		sct, err := cfg.NewSection(name)
		if err != nil {
			return fmt.Errorf("%s, %w", err, ErrStoreFailure)
		}
		if err := sct.ReflectFrom(&p); err != nil {
			return fmt.Errorf("%s, %w", err, ErrStoreFailure)
		}
	}

	if err := cfg.SaveTo(s.path); err != nil {
		return fmt.Errorf("%s, %w", err, ErrStoreFailure)
	}
	return nil
}

func (s *IniStore) file() (*ini.File, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return ini.Empty(), nil
	}
	cfg, err := ini.Load(s.path)
	if err != nil {
		return nil, fmt.Errorf("%s, %w", err, credentialexchange.ErrConfigFailure)
	}
	return cfg, nil
}
