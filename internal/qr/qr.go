package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ms-payouts/internal/models"

	"github.com/skip2/go-qrcode"
)

const dataURLPrefix = "data:image/png;base64,"

var ErrInvalidToken = errors.New("invalid ticket token")

type Generator struct {
	secret []byte
	size   int
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:], size: 256}
}

// Seal encrypts the ticket payload into a URL-safe token.
func (g *Generator) Seal(ticket models.TicketPayload) (string, error) {
	data, err := json.Marshal(ticket)
	if err != nil {
		return "", err
	}
	return encryptAES(data, g.secret)
}

// Open reverses Seal.
func (g *Generator) Open(token string) (*models.TicketPayload, error) {
	data, err := decryptAES(token, g.secret)
	if err != nil {
		return nil, err
	}
	var ticket models.TicketPayload
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, ErrInvalidToken
	}
	return &ticket, nil
}

// DataURL renders the sealed ticket as a PNG QR code data URL.
func (g *Generator) DataURL(ticket models.TicketPayload) (string, error) {
	token, err := g.Seal(ticket)
	if err != nil {
		return "", fmt.Errorf("seal ticket: %w", err)
	}
	png, err := qrcode.Encode(token, qrcode.Medium, g.size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(token string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(token)
	if err != nil || len(ciphertext) <= aes.BlockSize {
		return nil, ErrInvalidToken
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	plain := make([]byte, len(ciphertext)-aes.BlockSize)
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(plain, ciphertext[aes.BlockSize:])
	return plain, nil
}
