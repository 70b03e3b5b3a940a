package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"hash"
)

// encoding rejeita bits de padding não-zero, senão dois textos decodificam
// para os mesmos bytes.
var encoding = base64.RawURLEncoding.Strict()

// Signer assina e verifica tuplas de campos. A chave é imutável após a construção,
// então o Signer é seguro para uso concorrente sem lock.
type Signer struct {
	key Key
}

func New(key Key) *Signer {
	return &Signer{key: key}
}

// Sign retorna a assinatura base64url da tupla.
func (s *Signer) Sign(fields ...string) string {
	return encoding.EncodeToString(s.mac(fields))
}

// Verify recalcula a assinatura e compara em tempo constante.
func (s *Signer) Verify(signature string, fields ...string) bool {
	got, err := encoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(fields))
}

// Insecure reporta se o signer está usando a chave de desenvolvimento.
func (s *Signer) Insecure() bool { return s.key.insecure }

func (s *Signer) mac(fields []string) []byte {
	m := hmac.New(sha256.New, s.key.secret)
	writeCanonical(m, fields)
	return m.Sum(nil)
}

func writeCanonical(h hash.Hash, fields []string) {
	var n [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(f))
	}
}
