package identity

import (
	"github.com/postalsys/meshcore/internal/crypto"
)

// Compiled-in material of the reference prototype. Useful for talking to
// devices still flashed with it; never use it for a real deployment.
var (
	hardcodedSeed = []byte{
		0x5b, 0x24, 0x9a, 0x29, 0xe3, 0x69, 0x7d, 0x05,
		0x52, 0x8d, 0x76, 0xa1, 0x07, 0x58, 0x77, 0x19,
		0xc7, 0x05, 0x2b, 0x2b, 0xaa, 0x0e, 0x0f, 0xa2,
		0xb4, 0xa2, 0xed, 0x1f, 0x81, 0x2a, 0x78, 0x33,
	}

	// OtherDevicePublicKey is the prototype's single compiled-in contact.
	OtherDevicePublicKey = [crypto.PublicKeySize]byte{
		0x4f, 0x83, 0xe8, 0xc3, 0x10, 0xaa, 0x7b, 0x40,
		0xd1, 0x32, 0xc9, 0xce, 0x7d, 0xc4, 0x7c, 0x0e,
		0xe6, 0x72, 0x88, 0x5f, 0x11, 0xd9, 0xae, 0x69,
		0x5f, 0x90, 0xe4, 0xf9, 0x07, 0xc0, 0x6d, 0x40,
	}

	// PublicGroupPSK is the well-known secret of the public channel.
	PublicGroupPSK = [crypto.ChannelSecretSize]byte{
		0x8b, 0x33, 0x87, 0xe9, 0xc5, 0xcd, 0xea, 0x6a,
		0xc9, 0xe5, 0xed, 0xba, 0xa1, 0x15, 0xcd, 0x72,
	}
)

// PublicChannelName is the name given to the PublicGroupPSK channel.
const PublicChannelName = "public"

// PublicChannel returns the well-known public channel.
func PublicChannel() Channel {
	return Channel{Name: PublicChannelName, Secret: PublicGroupPSK}
}

// HardcodedKeys returns the prototype's signing keys.
func HardcodedKeys() *crypto.SigningKeys {
	return crypto.MustSigningKeys(hardcodedSeed)
}

// Hardcoded returns a Provider with the prototype identity, its one contact
// and the public channel.
func Hardcoded() *Static {
	return NewStatic(
		HardcodedKeys(),
		[]Contact{{Name: "other", PublicKey: OtherDevicePublicKey}},
		[]Channel{PublicChannel()},
	)
}
