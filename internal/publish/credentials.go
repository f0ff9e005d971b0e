// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

const (
	// EnvAccessKey holds the S3 access key.
	EnvAccessKey = "CONDAMIRROR_S3_ACCESS_KEY"
	// EnvSecretKey holds the S3 secret key.
	EnvSecretKey = "CONDAMIRROR_S3_SECRET_KEY"
)

// ErrMissingCredentials is returned when no access or secret key is set.
var ErrMissingCredentials = errors.New("missing object store credentials")

// Credentials are opaque static keys. They format as a redacted value so
// they cannot leak through logs.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// LoadCredentials reads the keys from the environment. The given .env files
// (".env" when none) are loaded first; missing files are ignored and
// variables already set are never overridden.
func LoadCredentials(envFiles ...string) (Credentials, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, err
	}
	c := Credentials{
		AccessKey: os.Getenv(EnvAccessKey),
		SecretKey: os.Getenv(EnvSecretKey),
	}
	return c, c.Validate()
}

// Validate reports ErrMissingCredentials when a key is empty.
func (c Credentials) Validate() error {
	if c.AccessKey == "" || c.SecretKey == "" {
		return ErrMissingCredentials
	}
	return nil
}

// String redacts both keys.
func (c Credentials) String() string {
	if c.AccessKey == "" {
		return "<unset>"
	}
	return "<redacted>"
}

// GoString redacts both keys in %#v output.
func (c Credentials) GoString() string { return c.String() }
