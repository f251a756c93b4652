package challenge

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"regexp"

	"golang.org/x/crypto/pbkdf2"
)

// AESDecoder solves a specific well-known challenge variant that embeds
// an AES-128-CBC-encrypted cookie value directly in the challenge HTML,
// obfuscated behind a PBKDF2-derived key. No padding is used, so the
// plaintext length equals the ciphertext length.
type AESDecoder struct {
	passphrase string
	cookieName string
}

func NewAESDecoder(passphrase, cookieName string) *AESDecoder {
	return &AESDecoder{passphrase: passphrase, cookieName: cookieName}
}

func (d *AESDecoder) Name() string { return "aes-inline-decoder" }

var (
	saltRe       = regexp.MustCompile(`"salt"\s*:\s*"([a-zA-Z0-9+/=]+)"`)
	ivRe         = regexp.MustCompile(`"iv"\s*:\s*"([a-zA-Z0-9+/=]+)"`)
	ciphertextRe = regexp.MustCompile(`"ct"\s*:\s*"([a-zA-Z0-9+/=]+)"`)
)

var errChallengeMarkersNotFound = errors.New("challenge: AES salt/iv/ciphertext markers not found in html")

// Solve extracts base64 salt/iv/ciphertext from challengeHTML, derives a
// 128-bit key via PBKDF2-HMAC-SHA1 (1 iteration, matching the known
// variant's key-stretching parameters), and decrypts with AES-128-CBC.
func (d *AESDecoder) Solve(_ context.Context, _ string, challengeHTML string) (Result, error) {
	salt, iv, ciphertext, err := extractAESFields(challengeHTML)
	if err != nil {
		return Result{}, err
	}

	key := pbkdf2.Key([]byte(d.passphrase), salt, 1, 16, sha1.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return Result{}, err
	}
	if len(ciphertext)%aes.BlockSize != 0 || len(iv) != aes.BlockSize {
		return Result{}, errors.New("challenge: ciphertext/iv not block-aligned")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	cookieValue := hex.EncodeToString(plaintext)
	return Result{
		CookieHeader: d.cookieName + "=" + cookieValue,
		UserAgent:    defaultChallengeUserAgent,
	}, nil
}

func extractAESFields(html string) (salt, iv, ciphertext []byte, err error) {
	saltMatch := saltRe.FindStringSubmatch(html)
	ivMatch := ivRe.FindStringSubmatch(html)
	ctMatch := ciphertextRe.FindStringSubmatch(html)
	if saltMatch == nil || ivMatch == nil || ctMatch == nil {
		return nil, nil, nil, errChallengeMarkersNotFound
	}
	if salt, err = base64.StdEncoding.DecodeString(saltMatch[1]); err != nil {
		return nil, nil, nil, err
	}
	if iv, err = base64.StdEncoding.DecodeString(ivMatch[1]); err != nil {
		return nil, nil, nil, err
	}
	if ciphertext, err = base64.StdEncoding.DecodeString(ctMatch[1]); err != nil {
		return nil, nil, nil, err
	}
	return salt, iv, ciphertext, nil
}

const defaultChallengeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
