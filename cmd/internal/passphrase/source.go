// Package passphrase resolves a delegate keystore's decryption passphrase,
// following the teacher's cmd/internal/passphrase package: check an
// environment variable first, then fall back to an interactive terminal
// prompt. One Source is created per delegate (bakerd may drive several
// delegates from distinct keystores, spec.md §3), each keyed by its own
// PassphraseEnv.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a passphrase from an environment variable or by
// prompting the operator. The value is cached after the first successful
// retrieval so repeated calls reuse the same secret.
type Source struct {
	alias  string
	envVar string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source for the named delegate that
// checks envVar before interactively prompting on the terminal.
func NewSource(alias, envVar string) *Source {
	return &Source{alias: alias, envVar: strings.TrimSpace(envVar)}
}

// Get returns the cached passphrase or resolves it if this is the first
// call. When the environment variable is set the exact value is used;
// otherwise the operator is prompted on stderr. Whitespace-only passphrases
// are rejected to avoid unprotected keystores.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("keystore passphrase for delegate %s required; set %s or run interactively", s.alias, s.envVar)
			} else {
				s.err = fmt.Errorf("keystore passphrase for delegate %s required and no terminal available", s.alias)
			}
			return
		}

		fmt.Fprintf(os.Stderr, "Enter keystore passphrase for delegate %s: ", s.alias)
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read passphrase: %w", err)
			return
		}

		value := string(bytes)
		if strings.TrimSpace(value) == "" {
			s.err = errors.New("keystore passphrase cannot be empty")
			return
		}
		s.value = value
	})

	return s.value, s.err
}
