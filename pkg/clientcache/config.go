// Package clientcache memoizes pooled client handles to the storage service.
// Handles are expensive (each one owns a pool of network channels), so
// structurally identical configurations share one handle process-wide, while
// any distinguishable configuration gets its own.
package clientcache

import (
	"github.com/tablestream-project/tablestream/pkg/lib/marshaller"
)

// ClientConfig captures everything that distinguishes one pooled client
// handle from another. All fields participate in the fingerprint.
type ClientConfig struct {
	// Endpoint is the host:port of the storage service.
	Endpoint string `json:"endpoint"`

	// CredentialsIdentity is a stable identity of the credential material
	// (e.g. a service account email or a digest of the key file). It must
	// be identical for credentials that are interchangeable and distinct
	// otherwise.
	CredentialsIdentity string `json:"credentials_identity"`

	// UserAgent is sent on every call.
	UserAgent string `json:"user_agent"`

	// ExtraHeaders are added to every call.
	ExtraHeaders map[string]string `json:"extra_headers"`

	// ChannelPoolSize is the number of network channels the handle
	// multiplexes calls over. Zero means one.
	ChannelPoolSize int `json:"channel_pool_size"`

	// ProxyAddress is an optional HTTP CONNECT proxy in host:port form.
	ProxyAddress string `json:"proxy_address"`

	// Insecure disables transport security. Test use only.
	Insecure bool `json:"insecure"`
}

func (c ClientConfig) normalized() ClientConfig {
	if c.ChannelPoolSize <= 0 {
		c.ChannelPoolSize = 1
	}
	if len(c.ExtraHeaders) == 0 {
		c.ExtraHeaders = nil
	}
	return c
}

// Fingerprint returns a stable digest of the config. Two configs with the
// same fingerprint are interchangeable and share a pooled handle, including
// when one of them was serialized across a process boundary.
func (c ClientConfig) Fingerprint() (string, error) {
	return marshaller.Fingerprint(c.normalized())
}
