package transfer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Credential is the secret material available for one transfer.
// Either, both or neither field may be set.
type Credential struct {
	PrivateKey string // Unencrypted PEM or OpenSSH private key text
	Password   string
}

// KeyOutcome tags the result of loading key material.
type KeyOutcome int

const (
	KeyAbsent      KeyOutcome = iota // No key material supplied
	KeyLoaded                        // Parsed as one of the supported types
	KeyUnsupported                   // Well-formed key of a type we do not accept
	KeyMalformed                     // Not parseable, or passphrase protected
)

func (o KeyOutcome) String() string {
	switch o {
	case KeyAbsent:
		return "absent"
	case KeyLoaded:
		return "loaded"
	case KeyUnsupported:
		return "unsupported"
	case KeyMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("KeyOutcome(%d)", int(o))
	}
}

// KeyLoad is the tagged result of LoadKey.
type KeyLoad struct {
	Outcome KeyOutcome
	Signer  ssh.Signer // Set when Outcome == KeyLoaded
	Type    string     // Matched key type, or the parsed Go type when unsupported
	Err     error      // Why the key could not be used
}

// Usable reports whether the key can authenticate.
func (k KeyLoad) Usable() bool {
	return k.Outcome == KeyLoaded
}

// ErrUnsupportedKeyType is wrapped by KeyLoad.Err for KeyUnsupported.
var ErrUnsupportedKeyType = errors.New("unsupported private key type")

// keyType is one accepted private key family.
type keyType struct {
	name  string
	match func(raw any) (crypto.Signer, bool)
}

// supportedKeyTypes is tried in order; the first match wins.
var supportedKeyTypes = []keyType{
	{name: "ed25519", match: func(raw any) (crypto.Signer, bool) {
		switch k := raw.(type) {
		case ed25519.PrivateKey:
			return k, true
		case *ed25519.PrivateKey:
			return *k, true
		}
		return nil, false
	}},
	{name: "ecdsa", match: func(raw any) (crypto.Signer, bool) {
		k, ok := raw.(*ecdsa.PrivateKey)
		return k, ok
	}},
	{name: "rsa", match: func(raw any) (crypto.Signer, bool) {
		k, ok := raw.(*rsa.PrivateKey)
		return k, ok
	}},
}

// SupportedKeyTypes lists the accepted key families in matching order.
func SupportedKeyTypes() []string {
	names := make([]string, len(supportedKeyTypes))
	for i, kt := range supportedKeyTypes {
		names[i] = kt.name
	}
	return names
}

// LoadKey parses unencrypted key material. It never fails hard: problems are
// reported through the Outcome so the caller decides whether to fall back.
func LoadKey(material string) KeyLoad {
	if strings.TrimSpace(material) == "" {
		return KeyLoad{Outcome: KeyAbsent}
	}

	raw, err := ssh.ParseRawPrivateKey([]byte(material))
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			err = fmt.Errorf("passphrase protected keys are not supported: %w", err)
		}
		return KeyLoad{Outcome: KeyMalformed, Err: err}
	}

	for _, kt := range supportedKeyTypes {
		key, ok := kt.match(raw)
		if !ok {
			continue
		}
		signer, err := ssh.NewSignerFromKey(key)
		if err != nil {
			return KeyLoad{Outcome: KeyMalformed, Type: kt.name, Err: err}
		}
		return KeyLoad{Outcome: KeyLoaded, Signer: signer, Type: kt.name}
	}

	typ := fmt.Sprintf("%T", raw)
	return KeyLoad{
		Outcome: KeyUnsupported,
		Type:    typ,
		Err:     fmt.Errorf("%w: %s (accepted: %s)", ErrUnsupportedKeyType, typ, strings.Join(SupportedKeyTypes(), ", ")),
	}
}

// AuthMethod is the single mechanism an AuthPlan uses.
type AuthMethod int

const (
	AuthInteractive AuthMethod = iota
	AuthKey
	AuthPassword
)

func (m AuthMethod) String() string {
	switch m {
	case AuthKey:
		return "key"
	case AuthPassword:
		return "password"
	case AuthInteractive:
		return "interactive"
	default:
		return fmt.Sprintf("AuthMethod(%d)", int(m))
	}
}

// AuthPlan is the resolved authentication mechanism for one attempt.
type AuthPlan struct {
	Method   AuthMethod
	Signer   ssh.Signer // AuthKey
	KeyType  string     // AuthKey
	Password string     // AuthPassword
}

// Resolve picks the mechanism in priority order: a loadable key, then a
// password, then an interactive prompt. The KeyLoad is returned alongside so
// the caller can see (and act on) a key that was supplied but not used.
func Resolve(cred Credential) (AuthPlan, KeyLoad) {
	key := LoadKey(cred.PrivateKey)
	switch {
	case key.Usable():
		return AuthPlan{Method: AuthKey, Signer: key.Signer, KeyType: key.Type}, key
	case cred.Password != "":
		return AuthPlan{Method: AuthPassword, Password: cred.Password}, key
	default:
		return AuthPlan{Method: AuthInteractive}, key
	}
}
