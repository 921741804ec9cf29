// Package decrypt contains the Decrypt function.
package decrypt

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Decrypt decrypts a job file with the given key.
// The file is base64 encoded and starts with the nonce.
func Decrypt(key string, byts []byte) ([]byte, error) {
	enc, err := base64.StdEncoding.DecodeString(string(byts))
	if err != nil {
		return nil, err
	}

	if len(enc) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("encrypted content is too short")
	}

	var secretKey [32]byte
	copy(secretKey[:], key)

	var nonce [nonceSize]byte
	copy(nonce[:], enc[:nonceSize])

	decrypted, ok := secretbox.Open(nil, enc[nonceSize:], &nonce, &secretKey)
	if !ok {
		return nil, fmt.Errorf("decryption error")
	}

	return decrypted, nil
}
