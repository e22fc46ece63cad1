package identity

import (
	"fmt"

	"github.com/postalsys/meshcore/internal/config"
	"github.com/postalsys/meshcore/internal/crypto"
)

// FromConfig builds a Provider from the identity section. With seed "auto"
// the seed is loaded from, or created in, dataDir.
func FromConfig(cfg config.IdentityConfig, dataDir string) (*Static, error) {
	var keys *crypto.SigningKeys
	switch cfg.Seed {
	case config.SeedAuto, "":
		k, _, err := LoadOrCreate(dataDir)
		if err != nil {
			return nil, err
		}
		keys = k
	case config.SeedHardcoded:
		keys = HardcodedKeys()
	default:
		k, err := ParseSeed(cfg.Seed)
		if err != nil {
			return nil, err
		}
		keys = k
	}

	contacts := make([]Contact, 0, len(cfg.Contacts))
	for i, cc := range cfg.Contacts {
		b, err := config.DecodeKey(cc.PublicKey, crypto.PublicKeySize)
		if err != nil {
			return nil, fmt.Errorf("contact %d (%s): %w", i, cc.Name, err)
		}
		c := Contact{Name: cc.Name}
		copy(c.PublicKey[:], b)
		contacts = append(contacts, c)
	}

	var channels []Channel
	if cfg.PublicChannel {
		channels = append(channels, PublicChannel())
	}
	for i, cc := range cfg.Channels {
		b, err := config.DecodeKey(cc.Secret, crypto.ChannelSecretSize)
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", i, cc.Name, err)
		}
		c := Channel{Name: cc.Name}
		copy(c.Secret[:], b)
		channels = append(channels, c)
	}

	return NewStatic(keys, contacts, channels), nil
}
