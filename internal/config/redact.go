// SPDX-License-Identifier: MIT

package config

import "net/url"

const redactedPlaceholder = "[redacted]"

// Redacted returns a copy of cfg safe for logging or API exposure:
// secrets are replaced, the DSN keeps host and database but loses
// credentials.
func (c Config) Redacted() Config {
	out := c
	if out.Database.DSN != "" {
		out.Database.DSN = MaskDSN(out.Database.DSN)
	}
	if out.Cache.RedisPassword != "" {
		out.Cache.RedisPassword = redactedPlaceholder
	}
	if out.API.Token != "" {
		out.API.Token = redactedPlaceholder
	}
	return out
}

// MaskDSN strips credentials from a URL-style DSN. Opaque strings that do
// not parse as URLs are fully masked rather than leaked.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return redactedPlaceholder
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}
