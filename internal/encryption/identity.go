package encryption

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/tomerIQ713/File-Transfer/internal/config"
)

// SessionKeySize is the byte length of the per-connection symmetric key a
// client submits during the handshake (AES-256).
const SessionKeySize = 32

const (
	publicKeyPEMType  = "RSA PUBLIC KEY"
	privateKeyPEMType = "RSA PRIVATE KEY"
)

// Identity is the server's long-lived RSA key pair. The public key blob and
// its self-signature are sent to every connecting client, which uses them to
// detect key substitution without a separate CA. The private key decrypts
// the session keys clients submit.
type Identity struct {
	priv *rsa.PrivateKey
}

// GenerateIdentity creates a fresh 2048-bit RSA identity.
func GenerateIdentity() (*Identity, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return &Identity{priv: priv}, nil
}

// PublicKeyPEM returns the PKCS#1 PEM serialization of the public key.
// This exact blob is what gets signed and sent during the handshake.
func (id *Identity) PublicKeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  publicKeyPEMType,
		Bytes: x509.MarshalPKCS1PublicKey(&id.priv.PublicKey),
	})
}

// SignPublicKey signs the PEM public key blob with the private key
// (SHA-256, PKCS#1 v1.5).
func (id *Identity) SignPublicKey() ([]byte, error) {
	digest := sha256.Sum256(id.PublicKeyPEM())
	sig, err := rsa.SignPKCS1v15(rand.Reader, id.priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing public key: %w", err)
	}
	return sig, nil
}

// DecryptSessionKey decrypts a client-submitted session key (RSA-OAEP,
// SHA-256) and checks its length.
func (id *Identity) DecryptSessionKey(ciphertext []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, id.priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting session key: %w", err)
	}
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("session key is %d bytes, want %d", len(key), SessionKeySize)
	}
	return key, nil
}

// VerifySignedPublicKey is the client side of the handshake trust check:
// it parses the received PEM blob and verifies the signature over it.
func VerifySignedPublicKey(pemBlob, sig []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBlob)
	if block == nil || block.Type != publicKeyPEMType {
		return nil, fmt.Errorf("malformed public key blob")
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	digest := sha256.Sum256(pemBlob)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return nil, fmt.Errorf("verifying key signature: %w", err)
	}
	return pub, nil
}

// EncryptSessionKey encrypts a session key under the server's public key
// (RSA-OAEP, SHA-256). Used by clients after verifying the key.
func EncryptSessionKey(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting session key: %w", err)
	}
	return ct, nil
}

// Save writes the key pair to the configured paths. The public key is
// plaintext PEM. With protection "age" the private key PEM is encrypted
// with an age scrypt passphrase; with "none" it is written plaintext.
func (id *Identity) Save(cfg config.KeysConfig, passphrase string) error {
	if err := os.MkdirAll(filepath.Dir(cfg.PublicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.PrivateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(cfg.PublicKeyPath, id.PublicKeyPEM(), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  privateKeyPEMType,
		Bytes: x509.MarshalPKCS1PrivateKey(id.priv),
	})

	if cfg.Protection == "none" {
		if err := os.WriteFile(cfg.PrivateKeyPath, privPEM, 0600); err != nil {
			return fmt.Errorf("writing private key: %w", err)
		}
		return nil
	}

	privFile, err := os.OpenFile(cfg.PrivateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(privFile, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := w.Write(privPEM); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	return nil
}

// LoadIdentity reads the key pair back from disk, decrypting the private
// key with the passphrase when protection is "age".
func LoadIdentity(cfg config.KeysConfig, passphrase string) (*Identity, error) {
	privData, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	if cfg.Protection != "none" {
		identity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, fmt.Errorf("creating scrypt identity: %w", err)
		}

		decReader, err := age.Decrypt(bytes.NewReader(privData), identity)
		if err != nil {
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}

		privData, err = io.ReadAll(decReader)
		if err != nil {
			return nil, fmt.Errorf("reading decrypted private key: %w", err)
		}
	}

	block, _ := pem.Decode(privData)
	if block == nil || block.Type != privateKeyPEMType {
		return nil, fmt.Errorf("malformed private key PEM")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	return &Identity{priv: priv}, nil
}

// IsConfigured returns true if both key files exist.
func IsConfigured(cfg config.KeysConfig) bool {
	if _, err := os.Stat(cfg.PublicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(cfg.PrivateKeyPath); err != nil {
		return false
	}
	return true
}
