package identity

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
)

// FileProvider reads the identity token from a file that some other process
// keeps fresh, the AWS_WEB_IDENTITY_TOKEN_FILE convention.
type FileProvider struct {
	path  string
	mu    sync.Mutex
	token string
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func NewFileProviderFromEnv() (*FileProvider, error) {
	path, err := credentialexchange.WebIdTokenFile()
	if err != nil {
		return nil, err
	}
	return NewFileProvider(path), nil
}

// IdentityToken returns the token read last, reading the file on first use.
// A missing file means no token.
func (f *FileProvider) IdentityToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token != "" {
		return f.token, nil
	}
	return f.read()
}

// ForceRefresh drops the held token and reads the file again
func (f *FileProvider) ForceRefresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	_, err := f.read()
	return err
}

func (f *FileProvider) read() (string, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	f.token = strings.TrimSpace(string(b))
	return f.token, nil
}
