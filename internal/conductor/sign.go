package conductor

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/mattyg/ui-common-library/pkg/types"
)

const (
	// nonceBytes is the length of a zome call nonce.
	nonceBytes = 32
	// callValidity is how long a signed call stays acceptable to the conductor.
	callValidity = 5 * time.Minute
)

// Signer signs zome calls with an ed25519 key.
type Signer struct {
	key  ed25519.PrivateKey
	now  func() time.Time
	rand io.Reader
}

// NewSigner creates a signer from a 32 byte ed25519 seed.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid signing seed length: %d (expected %d)", len(seed), ed25519.SeedSize)
	}
	return &Signer{
		key:  ed25519.NewKeyFromSeed(seed),
		now:  time.Now,
		rand: rand.Reader,
	}, nil
}

// PublicKey returns the verifying key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// sign fills nonce, expiry and signature of call. The provenance becomes
// the signer's key so the conductor can verify the signature against it.
func (s *Signer) sign(call *zomeCall) error {
	call.Provenance = types.AgentPubKey(s.PublicKey())
	nonce := make([]byte, nonceBytes)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	call.Nonce = nonce
	call.ExpiresAt = s.now().Add(callValidity).UnixMicro()
	call.Signature = nil

	hash, err := hashZomeCall(call)
	if err != nil {
		return err
	}
	call.Signature = ed25519.Sign(s.key, hash[:])
	return nil
}

// hashZomeCall returns the blake2b-256 hash of the unsigned call encoding.
func hashZomeCall(call *zomeCall) ([32]byte, error) {
	unsigned := *call
	unsigned.Signature = nil

	encoded, err := msgpack.Marshal(&unsigned)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode zome call: %w", err)
	}
	return blake2b.Sum256(encoded), nil
}
