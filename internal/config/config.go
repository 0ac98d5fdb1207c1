// Package config resolves the agent's on-disk layout (spec §6 "Config
// directory layout") and loads/saves accounts through configformat,
// wiring in adrg/xdg for directory resolution the way the teacher wires
// it for its own config paths.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/configformat"
	"github.com/oidc-agent/agent/internal/secure"
)

// Dir resolves the config directory: $OIDC_CONFIG_DIR, else
// $XDG_CONFIG_HOME/oidc-agent, else ~/.config/oidc-agent (spec §6).
func Dir() string {
	if v := os.Getenv("OIDC_CONFIG_DIR"); v != "" {
		return v
	}
	return filepath.Join(xdg.ConfigHome, "oidc-agent")
}

// SocketPath resolves the IPC socket path advertised via OIDC_SOCK (spec
// §6). It does not invent a default: the agent publishes OIDC_SOCK itself
// on startup and clients are expected to read it from the environment the
// agent was launched in.
func SocketPath() (string, error) {
	v := os.Getenv("OIDC_SOCK")
	if v == "" {
		return "", agenterr.New(agenterr.ArgInvalid, "OIDC_SOCK is not set")
	}
	return v, nil
}

// EncryptionPassword returns OIDC_ENCRYPTION_PW as a SensitiveBuffer if set,
// for non-interactive unlock (spec §6), or nil if unset.
func EncryptionPassword() *secure.Buffer {
	v, ok := os.LookupEnv("OIDC_ENCRYPTION_PW")
	if !ok {
		return nil
	}
	return secure.NewFromString(v)
}

// accountPath returns the encrypted file path for a given account name
// inside dir (spec §6 "<dir>/<account_name>").
func accountPath(dir, name string) string {
	return filepath.Join(dir, name)
}

// LoadAccount reads and decrypts the named account file from dir.
func LoadAccount(dir, name string, password *secure.Buffer) (*accounts.Account, error) {
	data, err := os.ReadFile(accountPath(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, agenterr.New(agenterr.AccountNotFound, "no configuration file for account: "+name)
		}
		return nil, agenterr.Wrap(agenterr.IOError, "read account file", err)
	}
	plain, err := configformat.Load(data, password)
	if err != nil {
		return nil, err
	}
	defer secure.Zero(plain)

	var acct accounts.Account
	if err := json.Unmarshal(plain, &acct); err != nil {
		return nil, agenterr.Wrap(agenterr.FormatInvalid, "decode account JSON", err)
	}
	return &acct, nil
}

// SaveAccount encrypts and writes acct to dir, always in the modern format
// (spec §8 property 3: "after re-save, the file is modern").
func SaveAccount(dir string, acct *accounts.Account, password *secure.Buffer) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return agenterr.Wrap(agenterr.IOError, "create config directory", err)
	}
	plain, err := json.Marshal(acct)
	if err != nil {
		return agenterr.Wrap(agenterr.Internal, "encode account JSON", err)
	}
	defer secure.Zero(plain)

	blob, err := configformat.Save(plain, password)
	if err != nil {
		return err
	}
	path := accountPath(dir, acct.Name)
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return agenterr.Wrap(agenterr.IOError, "write account file", err)
	}
	return nil
}

// RemoveAccount deletes the on-disk file for name, if present.
func RemoveAccount(dir, name string) error {
	if err := os.Remove(accountPath(dir, name)); err != nil && !os.IsNotExist(err) {
		return agenterr.Wrap(agenterr.IOError, "remove account file", err)
	}
	return nil
}

// ListAccountFiles returns the account names with a file in dir, skipping
// the well-known non-account files (spec §6 "issuer.config", "pubclient.conf").
func ListAccountFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, agenterr.Wrap(agenterr.IOError, "list config directory", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch e.Name() {
		case "issuer.config", "pubclient.conf":
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
