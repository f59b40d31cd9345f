// Package receipt issues verifiable payment receipts. A receipt is the
// transaction's settlement summary, AES-encrypted with the service secret
// and rendered as a QR code; the same secret decodes it back for
// verification at the counter.
package receipt

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
	"time"

	"ms-commerce/internal/models"

	"github.com/skip2/go-qrcode"
)

// ErrNotSettled rejects receipt requests for transactions that never
// settled. Only completed and refunded payments carry a receipt.
var ErrNotSettled = errors.New("transaction not settled")

// ErrInvalidToken rejects tokens that do not decode under the service
// secret.
var ErrInvalidToken = errors.New("invalid receipt token")

type Receipt struct {
	TransactionID string               `json:"transaction_id"`
	OrderID       string               `json:"order_id"`
	UserID        string               `json:"user_id,omitempty"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	Method        models.PaymentMethod `json:"method"`
	Status        models.PaymentStatus `json:"status"`
	GatewayRef    string               `json:"gateway_ref,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	IssuedAt      time.Time            `json:"issued_at"`
}

type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// For builds the receipt for a settled transaction.
func For(tx *models.PaymentTransaction, issuedAt time.Time) (Receipt, error) {
	if tx.Status != models.StatusCompleted && tx.Status != models.StatusRefunded {
		return Receipt{}, fmt.Errorf("%w: transaction %s is %s", ErrNotSettled, tx.TransactionID, tx.Status)
	}
	return Receipt{
		TransactionID: tx.TransactionID,
		OrderID:       tx.OrderID,
		UserID:        tx.UserID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Method:        tx.Method,
		Status:        tx.Status,
		GatewayRef:    tx.GatewayRef,
		CompletedAt:   tx.CompletedAt,
		IssuedAt:      issuedAt,
	}, nil
}

// EncodeToken encrypts the receipt into a URL-safe token.
func (g *Generator) EncodeToken(r Receipt) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return encryptAES(data, g.secret)
}

// DecodeToken reverses EncodeToken. A token minted under a different
// secret, or tampered with, fails to decode.
func (g *Generator) DecodeToken(token string) (*Receipt, error) {
	data, err := decryptAES(token, g.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if r.TransactionID == "" {
		return nil, fmt.Errorf("%w: no transaction id", ErrInvalidToken)
	}
	return &r, nil
}

// GenerateEncryptedQR renders the transaction's receipt as a PNG QR code.
func (g *Generator) GenerateEncryptedQR(tx *models.PaymentTransaction, issuedAt time.Time) ([]byte, error) {
	r, err := For(tx, issuedAt)
	if err != nil {
		return nil, err
	}

	token, err := g.EncodeToken(r)
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(token, qrcode.Medium, 256)
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
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	return data, nil
}
