// internal/membership/password.go
package membership

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// dummyCredential is verified against when a login names no member or a
// member without a password, so that path costs one argon2 derivation too.
var dummyCredential = func() *Credential {
	hash, salt, err := hashPassword("libraryhub-dummy-password")
	if err != nil {
		panic(fmt.Sprintf("membership: hash dummy credential: %v", err))
	}
	return &Credential{PasswordHash: hash, Salt: salt}
}()

// checkPassword is the verifier Login uses.
var checkPassword = verifyPassword

// hashPassword returns the base64 argon2id hash and salt for password.
func hashPassword(password string) (hash, salt string, err error) {
	rawSalt := make([]byte, saltLen)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), rawSalt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(key), base64.StdEncoding.EncodeToString(rawSalt), nil
}

// verifyPassword reports whether password matches a stored credential.
func verifyPassword(password string, cred *Credential) (bool, error) {
	rawSalt, err := base64.StdEncoding.DecodeString(cred.Salt)
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(cred.PasswordHash)
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(password), rawSalt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}
