package websocket

import (
	"crypto/rand"

	"github.com/gumdrop/gumdrop/pkg/errors"
)

// randomMaskKey draws a uniformly random 32-bit masking key (spec §6:
// "masking key is a uniformly random 32-bit value per client frame").
func randomMaskKey() ([4]byte, error) {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, errors.NewIOError("generating websocket mask key", err)
	}
	return key, nil
}
