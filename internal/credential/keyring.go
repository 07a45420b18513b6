package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"

	"github.com/brandon/mailsync/internal/config"
)

// filePassphraseEnv holds the passphrase of the encrypted file backend
const filePassphraseEnv = "MAILSYNC_KEYRING_PASSPHRASE"

// ErrNotFound is returned when no password is stored for a login
var ErrNotFound = errors.New("credential not found")

// Store keeps IMAP passwords in the system keyring
type Store struct {
	ring keyring.Keyring
}

// Open returns a store backed by the configured keyring. An empty backend
// list lets the library pick the first available one.
func Open(cfg config.KeyringConfig) (*Store, error) {
	backends := make([]keyring.BackendType, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backends = append(backends, keyring.BackendType(b))
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.ServiceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         filePassphrase,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an opened keyring
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// filePassphrase reads the file backend passphrase from the environment,
// prompting on the terminal when it is unset
func filePassphrase(prompt string) (string, error) {
	if p := os.Getenv(filePassphraseEnv); p != "" {
		return p, nil
	}
	return keyring.TerminalPrompt(prompt)
}

func imapKey(username string) string {
	return "imap:" + username
}

// IMAPPassword returns the stored password of an IMAP login
func (s *Store) IMAPPassword(username string) (string, error) {
	item, err := s.ring.Get(imapKey(username))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("imap password for %q: %w", username, ErrNotFound)
		}
		return "", fmt.Errorf("getting credential %q: %w", imapKey(username), err)
	}
	return string(item.Data), nil
}

// SetIMAPPassword stores the password of an IMAP login
func (s *Store) SetIMAPPassword(username, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:   imapKey(username),
		Label: "mailsync IMAP password for " + username,
		Data:  []byte(password),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", imapKey(username), err)
	}
	return nil
}

// DeleteIMAPPassword removes the password of an IMAP login
func (s *Store) DeleteIMAPPassword(username string) error {
	if err := s.ring.Remove(imapKey(username)); err != nil {
		return fmt.Errorf("deleting credential %q: %w", imapKey(username), err)
	}
	return nil
}
