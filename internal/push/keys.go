package push

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
)

// generateDeviceKeys creates a P-256 key pair and a 16 byte auth secret, the
// material a web-push style relay encrypts deliveries with.
func generateDeviceKeys() (DeviceKeys, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return DeviceKeys{}, fmt.Errorf("generate key pair: %w", err)
	}
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		return DeviceKeys{}, fmt.Errorf("generate auth secret: %w", err)
	}
	return DeviceKeys{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		AuthSecret: base64.RawURLEncoding.EncodeToString(secret),
	}, nil
}
