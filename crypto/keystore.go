package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// SaveToKeystore writes the delegate's private key to an Ethereum v3
// keystore file at the given path, following the same atomic-temp-dir
// rename protocol bakerd's own local stores use elsewhere (internal/
// watermark, internal/levelstate). If the parent directory does not exist
// it is created with 0700 permissions. alias identifies the delegate this
// keystore belongs to, so a misconfigured path or key can be traced back to
// the delegate that caused it (cmd/bakerd loads one keystore per delegate).
func SaveToKeystore(alias, path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return fmt.Errorf("crypto: delegate %s: nil private key", alias)
	}
	if path == "" {
		return fmt.Errorf("crypto: delegate %s: empty keystore path", alias)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("crypto: delegate %s: %w", alias, err)
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return fmt.Errorf("crypto: delegate %s: %w", alias, err)
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return fmt.Errorf("crypto: delegate %s: %w", alias, err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return fmt.Errorf("crypto: delegate %s: %w", alias, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("crypto: delegate %s: failed to create keystore file", alias)
	}

	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("crypto: delegate %s: %w", alias, err)
	}
	if err := os.Rename(src, path); err != nil {
		return fmt.Errorf("crypto: delegate %s: %w", alias, err)
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts the named delegate's Ethereum v3 keystore file
// using the supplied passphrase. alias is carried through every error so a
// baker driving several delegates (spec.md §3) can tell which one failed to
// load without the caller re-wrapping the path itself.
func LoadFromKeystore(alias, path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("crypto: delegate %s: empty keystore path", alias)
	}

	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: delegate %s: %w", alias, err)
	}

	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: delegate %s: %w", alias, err)
	}

	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
