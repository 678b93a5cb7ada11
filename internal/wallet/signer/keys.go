package signer

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
)

const (
	EnvPrivateKey           = "ROUTE_PRIVATE_KEY"
	EnvPrivateKeyFile       = "ROUTE_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "ROUTE_KEYSTORE_PATH"
	EnvKeystorePassword     = "ROUTE_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "ROUTE_KEYSTORE_PASSWORD_FILE"

	defaultKeyFile = "route-runner/key.hex"
)

// Source selects where the route signing key comes from.
type Source string

const (
	SourceAuto     Source = "auto"
	SourceEnv      Source = "env"
	SourceFile     Source = "file"
	SourceKeystore Source = "keystore"
)

func ParseSource(v string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(v))); src {
	case "":
		return SourceAuto, nil
	case SourceAuto, SourceEnv, SourceFile, SourceKeystore:
		return src, nil
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported key source %q (expected auto|env|file|keystore)", v))
	}
}

// KeyInputs are the candidate key locations. Auto tries them in field order.
type KeyInputs struct {
	Hex          string
	File         string
	Keystore     string
	Password     string
	PasswordFile string
}

// InputsFromEnv reads the ROUTE_* key variables. When no key file is named,
// $XDG_CONFIG_HOME/route-runner/key.hex is used if it exists.
func InputsFromEnv(getenv func(string) string) KeyInputs {
	in := KeyInputs{
		Hex:          strings.TrimSpace(getenv(EnvPrivateKey)),
		File:         strings.TrimSpace(getenv(EnvPrivateKeyFile)),
		Keystore:     strings.TrimSpace(getenv(EnvKeystorePath)),
		Password:     strings.TrimSpace(getenv(EnvKeystorePassword)),
		PasswordFile: strings.TrimSpace(getenv(EnvKeystorePasswordFile)),
	}
	if in.File == "" {
		if path := DefaultKeyPath(getenv); path != "" {
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				in.File = path
			}
		}
	}
	return in
}

func DefaultKeyPath(getenv func(string) string) string {
	base := strings.TrimSpace(getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, defaultKeyFile)
}

func (in KeyInputs) only(src Source) KeyInputs {
	switch src {
	case SourceEnv:
		return KeyInputs{Hex: in.Hex}
	case SourceFile:
		return KeyInputs{File: in.File}
	case SourceKeystore:
		return KeyInputs{Keystore: in.Keystore, Password: in.Password, PasswordFile: in.PasswordFile}
	}
	return in
}

// Open loads the local signer for a route run. A non-empty override is a hex
// key from the command line and wins over every source.
func Open(source, override string) (*LocalSigner, error) {
	src, err := ParseSource(source)
	if err != nil {
		return nil, err
	}
	if override = strings.TrimSpace(override); override != "" {
		return Load(SourceEnv, KeyInputs{Hex: override})
	}
	return Load(src, InputsFromEnv(os.Getenv))
}

func Load(src Source, in KeyInputs) (*LocalSigner, error) {
	key, err := loadKey(in.only(src))
	if err != nil {
		return nil, err
	}
	return newLocalSigner(key), nil
}

func loadKey(in KeyInputs) (*ecdsa.PrivateKey, error) {
	switch {
	case in.Hex != "":
		return parseHexKey(in.Hex)
	case in.File != "":
		buf, err := os.ReadFile(in.File)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "read private key file", err)
		}
		return parseHexKey(string(buf))
	case in.Keystore != "":
		return decryptKeystore(in)
	}
	return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf(
		"missing signing key: put a hex key at ~/.config/%s, set %s, %s or %s, or pass --private-key",
		defaultKeyFile, EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath))
}

func decryptKeystore(in KeyInputs) (*ecdsa.PrivateKey, error) {
	password := in.Password
	if password == "" && in.PasswordFile != "" {
		buf, err := os.ReadFile(in.PasswordFile)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "read keystore password file", err)
		}
		password = strings.TrimSpace(string(buf))
	}
	if password == "" {
		return nil, clierr.New(clierr.CodeSigner, "keystore password is required")
	}
	buf, err := os.ReadFile(in.Keystore)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "read keystore file", err)
	}
	key, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "decrypt keystore", err)
	}
	return key.PrivateKey, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, clierr.New(clierr.CodeSigner, "empty private key")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "parse private key", err)
	}
	return key, nil
}
