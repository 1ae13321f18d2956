package fieldsync

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
)

// Envelope format for values persisted to the DurableStore:
//
//	magic(4) "FSE1" | flags(1) | [salt(32)] | body
//
// The salt is present only for password-derived encryption so envelopes can
// be decrypted after a restart with a freshly derived key.
var envelopeMagic = [4]byte{'F', 'S', 'E', '1'}

const (
	envFlagCompressed byte = 1 << 0
	envFlagEncrypted  byte = 1 << 1
	envFlagSalted     byte = 1 << 2
)

// CodecConfig configures the persistence envelope.
type CodecConfig struct {
	// Compress snappy-compresses values before persisting.
	Compress bool
	// Encryption optionally encrypts values at rest.
	Encryption EncryptionConfig
}

// DefaultCodecConfig enables compression and no encryption.
func DefaultCodecConfig() CodecConfig {
	return CodecConfig{Compress: true}
}

// codec encodes and decodes durable-store envelopes.
type codec struct {
	config    CodecConfig
	encryptor *Encryptor
	password  string

	mu      sync.Mutex
	derived map[string]*Encryptor // salt -> encryptor, for decode after restart
}

func newCodec(config CodecConfig) (*codec, error) {
	enc, err := NewEncryptor(config.Encryption)
	if err != nil {
		return nil, err
	}
	return &codec{
		config:    config,
		encryptor: enc,
		password:  config.Encryption.KeyPassword,
		derived:   make(map[string]*Encryptor),
	}, nil
}

// Encode wraps a plaintext value in the persistence envelope.
func (c *codec) Encode(value []byte) ([]byte, error) {
	var flags byte
	body := value

	if c.config.Compress {
		body = snappy.Encode(nil, body)
		flags |= envFlagCompressed
	}

	var salt []byte
	if c.encryptor != nil {
		encrypted, err := c.encryptor.Encrypt(body)
		if err != nil {
			return nil, fmt.Errorf("encrypt envelope: %w", err)
		}
		body = encrypted
		flags |= envFlagEncrypted
		if s := c.encryptor.Salt(); len(s) > 0 {
			salt = s
			flags |= envFlagSalted
		}
	}

	out := make([]byte, 0, len(envelopeMagic)+1+len(salt)+len(body))
	out = append(out, envelopeMagic[:]...)
	out = append(out, flags)
	out = append(out, salt...)
	out = append(out, body...)
	return out, nil
}

// Decode unwraps a persistence envelope back to the plaintext value.
func (c *codec) Decode(data []byte) ([]byte, error) {
	if len(data) < len(envelopeMagic)+1 {
		return nil, fmt.Errorf("%w: envelope too short", ErrStoreCorruption)
	}
	if [4]byte(data[:4]) != envelopeMagic {
		return nil, fmt.Errorf("%w: bad envelope magic", ErrStoreCorruption)
	}
	flags := data[4]
	body := data[5:]

	if flags&envFlagEncrypted != 0 {
		enc := c.encryptor
		if flags&envFlagSalted != 0 {
			if len(body) < EncryptionSaltSize {
				return nil, fmt.Errorf("%w: truncated envelope salt", ErrStoreCorruption)
			}
			salt := body[:EncryptionSaltSize]
			body = body[EncryptionSaltSize:]
			var err error
			enc, err = c.encryptorForSalt(salt)
			if err != nil {
				return nil, err
			}
		}
		if enc == nil {
			return nil, fmt.Errorf("%w: encrypted envelope but encryption not configured", ErrStoreCorruption)
		}
		plain, err := enc.Decrypt(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreCorruption, err)
		}
		body = plain
	}

	if flags&envFlagCompressed != 0 {
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreCorruption, err)
		}
		body = decoded
	}

	return body, nil
}

// encryptorForSalt returns a password-derived encryptor for the given salt,
// caching derivations since PBKDF2 is deliberately slow.
func (c *codec) encryptorForSalt(salt []byte) (*Encryptor, error) {
	if c.encryptor != nil && string(c.encryptor.Salt()) == string(salt) {
		return c.encryptor, nil
	}
	if c.password == "" {
		return nil, fmt.Errorf("%w: salted envelope but no key password configured", ErrStoreCorruption)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.derived[string(salt)]; ok {
		return enc, nil
	}
	enc, err := NewEncryptorWithSalt(c.password, salt)
	if err != nil {
		return nil, err
	}
	c.derived[string(salt)] = enc
	return enc, nil
}
