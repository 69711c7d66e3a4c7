package credentialexchange

import (
	"errors"
	"fmt"
	"os"

	ini "gopkg.in/ini.v1"
)

const (
	SELF_NAME        = "awsome-broker"
	WEB_ID_TOKEN_VAR = "AWS_WEB_IDENTITY_TOKEN_FILE"
	INI_CONF_SECTION = "role"
)

const (
	METHOD_OIDC   = "OIDC"
	METHOD_WEB_ID = "WEB_ID"
)

// DEFAULT_MAX_DURATION is the delegated session length in seconds
const DEFAULT_MAX_DURATION = 3600

// BaseConfig holds the settings shared by every identity method
type BaseConfig struct {
	Region           string `ini:"region"`
	IdentityPoolId   string `ini:"identity-pool-id"`
	ProviderKey      string `ini:"provider-key"`
	MaxDuration      int    `ini:"max-duration"`
	ReloadBeforeTime int    `ini:"reload-before"`
	CoalesceResets   bool   `ini:"coalesce-resets"`
	Username         string `ini:"-"`
	CfgSectionName   string `ini:"-"`
}

type CredentialConfig struct {
	BaseConfig            BaseConfig `ini:"-"`
	Method                string     `ini:"method"`
	IssuerUrl             string     `ini:"issuer-url"`
	ClientId              string     `ini:"client-id"`
	RedirectUrl           string     `ini:"redirect-url"`
	Scopes                []string   `ini:"scopes"`
	ProfileStore          string     `ini:"profile-store"`
	BrowserExecutablePath string     `ini:"browser-executable-path"`
}

// DefaultCredentialConfig returns a config with the values used when
// neither the ini file nor flags provide one.
func DefaultCredentialConfig() CredentialConfig {
	return CredentialConfig{
		BaseConfig: BaseConfig{
			MaxDuration: DEFAULT_MAX_DURATION,
		},
		Method:       METHOD_OIDC,
		ProfileStore: "ini",
		RedirectUrl:  "http://localhost:8976/callback",
	}
}

// LoadCredentialConfig reads a section of the ini file at path on top of the
// defaults. A missing file is not an error, the defaults are returned.
func LoadCredentialConfig(path, section string) (CredentialConfig, error) {
	conf := DefaultCredentialConfig()
	if section == "" {
		section = ini.DefaultSection
	}
	conf.BaseConfig.CfgSectionName = section

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return conf, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return conf, fmt.Errorf("fail to read Ini file: %v, %w", err, ErrConfigFailure)
	}

	if !cfg.HasSection(section) && section != ini.DefaultSection {
		return conf, fmt.Errorf("%s, %w", section, ErrSectionNotFound)
	}

	sct := cfg.Section(section)
	if err := sct.MapTo(&conf); err != nil {
		return conf, fmt.Errorf("%s, %w", err, ErrConfigFailure)
	}
	if err := sct.MapTo(&conf.BaseConfig); err != nil {
		return conf, fmt.Errorf("%s, %w", err, ErrConfigFailure)
	}
	if conf.BaseConfig.MaxDuration == 0 {
		conf.BaseConfig.MaxDuration = DEFAULT_MAX_DURATION
	}
	return conf, nil
}
