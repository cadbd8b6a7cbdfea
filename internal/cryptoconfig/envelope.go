package cryptoconfig

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"os"

	innercipher "github.com/cryfs-go/cryfs/internal/cipher"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
)

// header identifies the on-disk envelope format. Version 0 predates the
// scrypt parameter block and derives its outer key from fixed, weak
// scrypt parameters baked into the binary; it is only ever read, never
// written.
const (
	headerCurrent = "cryfs.config;1;scrypt\n"
	headerLegacy0 = "cryfs.config;0;scrypt\n"

	// configSize is the padded length of the plaintext inner config
	// before outer encryption, so the envelope's size on disk never
	// betrays how large the actual YAML body is.
	configSize = 1024

	outerKeySize = 32
)

func legacyScryptParams() scryptParams {
	// The fixed, pre-1.0 scrypt parameters. Weak by current standards;
	// kept only so existing filesystems created with them still open.
	return scryptParams{Salt: bytes.Repeat([]byte{0}, 32), N: 1 << 14, R: 8, P: 1}
}

// Load reads and decrypts the config file at path using password,
// returning the plaintext Config record.
func Load(path string, password string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, cryfserrors.Wrap(cryfserrors.KindIO, "cryptoconfig.Load", path, err)
	}
	return decode(raw, password)
}

func decode(raw []byte, password string) (Config, error) {
	_, body, legacy, err := splitHeader(raw)
	if err != nil {
		return Config{}, err
	}

	var params scryptParams
	var kdfLen int
	if legacy {
		params = legacyScryptParams()
	} else {
		params, kdfLen, err = decodeScryptParamsPrefixed(body)
		if err != nil {
			return Config{}, cryfserrors.Wrap(cryfserrors.KindUnsupportedVersion, "cryptoconfig.Load", "", err)
		}
		body = body[kdfLen:]
	}

	derived, err := params.deriveKey(password, outerKeySize+innercipher.KeySize)
	if err != nil {
		return Config{}, err
	}
	outerKey, innerKeyMaterial := derived[:outerKeySize], derived[outerKeySize:]

	innerPadded, err := outerDecrypt(outerKey, body)
	if err != nil {
		return Config{}, cryfserrors.New(cryfserrors.KindWrongPassword, "cryptoconfig.Load")
	}

	cipherName, innerCiphertext, err := splitInner(innerPadded)
	if err != nil {
		return Config{}, err
	}

	entry, err := innercipher.Lookup(cipherName)
	if err != nil || entry.NewAEAD == nil {
		return Config{}, cryfserrors.New(cryfserrors.KindWrongCipher, "cryptoconfig.Load")
	}
	aead, err := entry.NewAEAD(innerKeyMaterial[:innercipher.KeySize])
	if err != nil {
		return Config{}, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "cryptoconfig.Load", "", err)
	}

	configBytes, err := innerDecrypt(aead, innerCiphertext)
	if err != nil {
		return Config{}, cryfserrors.New(cryfserrors.KindWrongPassword, "cryptoconfig.Load")
	}

	cfg, err := unmarshalConfig(configBytes)
	if err != nil {
		return Config{}, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "cryptoconfig.Load", "", err)
	}
	return cfg, nil
}

// Save encrypts cfg under password and atomically writes it to path. The
// inner cipher is selected by cfg.CipherName.
func Save(path string, cfg Config, password string) error {
	raw, err := encode(cfg, password)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return cryfserrors.Wrap(cryfserrors.KindIO, "cryptoconfig.Save", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return cryfserrors.Wrap(cryfserrors.KindIO, "cryptoconfig.Save", path, err)
	}
	return nil
}

func encode(cfg Config, password string) ([]byte, error) {
	entry, err := innercipher.Lookup(cfg.CipherName)
	if err != nil || entry.NewAEAD == nil {
		return nil, cryfserrors.New(cryfserrors.KindWrongCipher, "cryptoconfig.Save")
	}

	params, err := defaultScryptParams()
	if err != nil {
		return nil, err
	}
	derived, err := params.deriveKey(password, outerKeySize+innercipher.KeySize)
	if err != nil {
		return nil, err
	}
	outerKey, innerKeyMaterial := derived[:outerKeySize], derived[outerKeySize:]

	aead, err := entry.NewAEAD(innerKeyMaterial[:innercipher.KeySize])
	if err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "cryptoconfig.Save", "", err)
	}

	configBytes, err := marshalConfig(cfg)
	if err != nil {
		return nil, err
	}
	innerCiphertext, err := innerEncrypt(aead, configBytes)
	if err != nil {
		return nil, err
	}

	innerPadded, err := joinInner(cfg.CipherName, innerCiphertext)
	if err != nil {
		return nil, err
	}

	outerCiphertext, err := outerEncrypt(outerKey, innerPadded)
	if err != nil {
		return nil, err
	}

	kdfBlock := params.encode()
	out := make([]byte, 0, len(headerCurrent)+4+len(kdfBlock)+len(outerCiphertext))
	out = append(out, []byte(headerCurrent)...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(kdfBlock)))
	out = append(out, lenBuf[:]...)
	out = append(out, kdfBlock...)
	out = append(out, outerCiphertext...)
	return out, nil
}

func splitHeader(raw []byte) (header string, body []byte, legacy bool, err error) {
	if bytes.HasPrefix(raw, []byte(headerCurrent)) {
		return headerCurrent, raw[len(headerCurrent):], false, nil
	}
	if bytes.HasPrefix(raw, []byte(headerLegacy0)) {
		return headerLegacy0, raw[len(headerLegacy0):], true, nil
	}
	return "", nil, false, cryfserrors.New(cryfserrors.KindUnsupportedVersion, "cryptoconfig.Load")
}

func decodeScryptParamsPrefixed(body []byte) (scryptParams, int, error) {
	if len(body) < 4 {
		return scryptParams{}, 0, cryfserrors.New(cryfserrors.KindCorruptedBlock, "cryptoconfig.decodeScryptParamsPrefixed")
	}
	kdfLen := binary.LittleEndian.Uint32(body[:4])
	total := 4 + int(kdfLen)
	if len(body) < total {
		return scryptParams{}, 0, cryfserrors.New(cryfserrors.KindCorruptedBlock, "cryptoconfig.decodeScryptParamsPrefixed")
	}
	params, err := decodeScryptParams(body[4:total])
	if err != nil {
		return scryptParams{}, 0, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "cryptoconfig.decodeScryptParamsPrefixed", "", err)
	}
	return params, total, nil
}

// outerEncrypt seals the (already length-framed, padded) inner bytes
// under AES-256-GCM, prefixing a fresh random nonce.
func outerEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "cryptoconfig.outerEncrypt", "", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "cryptoconfig.outerEncrypt", "", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "cryptoconfig.outerEncrypt", "", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func outerDecrypt(key, raw []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, cryfserrors.New(cryfserrors.KindCorruptedBlock, "cryptoconfig.outerDecrypt")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// innerEncrypt seals configBytes under the inner cipher with a fresh
// random nonce, length-prefixed so the padded envelope can be stripped
// back down on decrypt.
func innerEncrypt(aead innercipher.AEAD, configBytes []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "cryptoconfig.innerEncrypt", "", err)
	}
	sealed := aead.Seal(nonce, nonce, configBytes, nil)
	if len(sealed) > configSize-4 {
		return nil, cryfserrors.New(cryfserrors.KindIO, "cryptoconfig.innerEncrypt: config too large to pad")
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
	out := make([]byte, configSize)
	copy(out[:4], lenBuf[:])
	copy(out[4:], sealed)
	if _, err := rand.Read(out[4+len(sealed):]); err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "cryptoconfig.innerEncrypt", "", err)
	}
	return out, nil
}

func innerDecrypt(aead innercipher.AEAD, padded []byte) ([]byte, error) {
	if len(padded) < 4 {
		return nil, cryfserrors.New(cryfserrors.KindCorruptedBlock, "cryptoconfig.innerDecrypt")
	}
	n := binary.LittleEndian.Uint32(padded[:4])
	if int(n) > len(padded)-4 {
		return nil, cryfserrors.New(cryfserrors.KindCorruptedBlock, "cryptoconfig.innerDecrypt")
	}
	sealed := padded[4 : 4+n]
	if len(sealed) < aead.NonceSize() {
		return nil, cryfserrors.New(cryfserrors.KindCorruptedBlock, "cryptoconfig.innerDecrypt")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// joinInner prefixes the padded ciphertext with the cipher name so the
// decrypting side knows which AEAD to instantiate before it can even
// open the inner layer.
func joinInner(cipherName string, innerCiphertext []byte) ([]byte, error) {
	nameBytes := []byte(cipherName)
	out := make([]byte, 0, 4+len(nameBytes)+len(innerCiphertext))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(nameBytes)))
	out = append(out, lenBuf[:]...)
	out = append(out, nameBytes...)
	out = append(out, innerCiphertext...)
	return out, nil
}

func splitInner(raw []byte) (cipherName string, innerCiphertext []byte, err error) {
	if len(raw) < 4 {
		return "", nil, cryfserrors.New(cryfserrors.KindCorruptedBlock, "cryptoconfig.splitInner")
	}
	n := binary.LittleEndian.Uint32(raw[:4])
	if int(n) > len(raw)-4 {
		return "", nil, cryfserrors.New(cryfserrors.KindCorruptedBlock, "cryptoconfig.splitInner")
	}
	name := string(raw[4 : 4+n])
	return name, raw[4+n:], nil
}
