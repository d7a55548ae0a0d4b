// Package seal шифрует значения защищённого уровня хранилища.
//
// Используется XChaCha20-Poly1305, ключ выводится из пароля через argon2id.
// Результат Seal — base64 строка nonce||ciphertext, её можно класть в любое
// key-value хранилище.
package seal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrMalformed возвращается, если запечатанное значение повреждено или подделано.
var ErrMalformed = errors.New("seal: malformed or tampered value")

// Параметры argon2id для вывода ключа.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 2
)

// Sealer шифрует и расшифровывает строки одним ключом.
type Sealer struct {
	key []byte
}

// New выводит ключ из пароля и соли. Пустой пароль недопустим.
func New(password, salt string) (*Sealer, error) {
	const op = "seal.New"
	if password == "" {
		return nil, fmt.Errorf("%s: empty password", op)
	}
	key := argon2.IDKey([]byte(password), []byte(salt), argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	return &Sealer{key: key}, nil
}

// NewWithKey создаёт Sealer из готового 32-байтного ключа.
func NewWithKey(key []byte) (*Sealer, error) {
	const op = "seal.NewWithKey"
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%s: key must be %d bytes", op, chacha20poly1305.KeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Sealer{key: k}, nil
}

// Seal шифрует plaintext, label привязывает шифротекст к ключу хранилища.
func (s *Sealer) Seal(label, plaintext string) (string, error) {
	const op = "seal.Seal"
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return base64.RawStdEncoding.EncodeToString(out), nil
}

// Open расшифровывает значение, полученное из Seal с тем же label.
func (s *Sealer) Open(label, sealed string) (string, error) {
	const op = "seal.Open"
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrMalformed)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%s: %w", op, ErrMalformed)
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(label))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrMalformed)
	}
	return string(plain), nil
}
