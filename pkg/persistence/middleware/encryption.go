package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// encryptedPrefix marks a slot value sealed by this middleware.
const encryptedPrefix = "enc:v1:"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte

	// Slots lists the slots sealed at rest. Empty means customer_name,
	// email and phone.
	Slots []domain.SlotName
}

type encryptionMiddleware struct {
	next   ports.ConversationStore
	config EncryptionConfig
	sealed map[domain.SlotName]bool
}

// NewEncryptionMiddleware creates a middleware that seals selected slot
// values with AES-GCM before they reach the store.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	if len(config.Slots) == 0 {
		config.Slots = []domain.SlotName{domain.SlotCustomerName, domain.SlotEmail, domain.SlotPhone}
	}
	sealed := make(map[domain.SlotName]bool, len(config.Slots))
	for _, s := range config.Slots {
		sealed[s] = true
	}
	return func(next ports.ConversationStore) ports.ConversationStore {
		return &encryptionMiddleware{next: next, config: config, sealed: sealed}
	}
}

func (m *encryptionMiddleware) Load(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	state, err := m.next.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return m.open(state)
}

func (m *encryptionMiddleware) CompareAndSwap(ctx context.Context, next *domain.ConversationState, expectedVersion int64) (*domain.ConversationState, error) {
	sealed := next.Clone()
	for name, slot := range sealed.Slots {
		if !m.sealed[name] || slot.Value == "" {
			continue
		}
		ciphertext, err := encrypt([]byte(slot.Value), m.config.ActiveKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt slot %s: %w", name, err)
		}
		slot.Value = encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext)
		sealed.Slots[name] = slot
	}

	committed, err := m.next.CompareAndSwap(ctx, sealed, expectedVersion)
	if err != nil {
		return nil, err
	}
	return m.open(committed)
}

func (m *encryptionMiddleware) Append(ctx context.Context, record domain.TransitionRecord) error {
	return m.next.Append(ctx, record)
}

func (m *encryptionMiddleware) Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error) {
	return m.next.Transitions(ctx, key)
}

func (m *encryptionMiddleware) List(ctx context.Context, workspaceID string) ([]string, error) {
	return list(ctx, m.next, workspaceID)
}

// open decrypts sealed values in place. Plain values pass through so
// encryption can be enabled on existing conversations.
func (m *encryptionMiddleware) open(state *domain.ConversationState) (*domain.ConversationState, error) {
	for name, slot := range state.Slots {
		encoded, ok := strings.CutPrefix(slot.Value, encryptedPrefix)
		if !ok {
			continue
		}
		ciphertext, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode slot %s: %w", name, err)
		}
		plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt slot %s: %w", name, err)
		}
		slot.Value = string(plain)
		state.Slots[name] = slot
	}
	return state, nil
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
