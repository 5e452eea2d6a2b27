package marshaller

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a stable hex digest of the given object's canonical
// JSON encoding. Two structurally identical values of the same type always
// produce the same fingerprint, including across processes.
func Fingerprint(obj interface{}) (string, error) {
	data, err := JSONMarshaller{}.Marshal(obj)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
