package credentialexchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

var (
	ErrSectionNotFound = errors.New("section not found")
	ErrConfigFailure   = errors.New("config error")
	ErrMissingEnvVar   = errors.New("missing env var")
)

func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

func ConfigIniFile(basePath string) string {
	var base string
	if basePath != "" {
		base = basePath
	} else {
		base = HomeDir()
	}
	return path.Join(base, fmt.Sprintf(".%s.ini", SELF_NAME))
}

// RoleArn builds the IAM role arn for a role name in an account
func RoleArn(accountId, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountId, roleName)
}

// SessionLabel is the default label for a delegated session
func SessionLabel(accountId, roleName string) string {
	return fmt.Sprintf("%s@%s", roleName, accountId)
}

// WriteCredentialProcess writes the credential in the credential_process format
func WriteCredentialProcess(w io.Writer, creds Credential) error {
	creds.Version = 1

	jsonBytes, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, string(jsonBytes))
	return err
}

// WebIdTokenFile returns the token file path set in the environment
func WebIdTokenFile() (string, error) {
	file, exists := os.LookupEnv(WEB_ID_TOKEN_VAR)
	if !exists || file == "" {
		return "", fmt.Errorf("fileNotPresent: %s, %w", WEB_ID_TOKEN_VAR, ErrMissingEnvVar)
	}
	return file, nil
}

// ReloadBeforeExpiry returns true if the time
// to expiry is less than the specified time in seconds
// false if there is more than required time in seconds
// before needing to recycle credentials
func ReloadBeforeExpiry(expiry time.Time, reloadBeforeSeconds int) bool {
	now := time.Now().Local()
	diff := expiry.Local().Sub(now)
	return diff.Seconds() < float64(reloadBeforeSeconds)
}

// RoleKeyConverter converts a role to a key used for storing in the ini file
func RoleKeyConverter(role string) string {
	return strings.ReplaceAll(strings.ReplaceAll(role, ":", "_"), "/", "____")
}
