// Package credentials loads customer secret keys for the Object Storage
// S3 compatibility API and hands them to the SDK as a refreshable provider.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
)

// Credentials holds a customer secret key pair
type Credentials struct {
	mu sync.RWMutex

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// source remembers where the keys came from so Refresh can reload them.
	passwdFile string
	fromEnv    bool
}

var _ aws.CredentialsProvider = (*Credentials)(nil)

// NewCredentials creates a new credentials instance
func NewCredentials() *Credentials {
	return &Credentials{}
}

// Static returns credentials fixed to the given keys.
func Static(accessKey, secretKey, sessionToken string) *Credentials {
	return &Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey, SessionToken: sessionToken}
}

// LoadFromPasswdFile loads credentials from a passwd file in format ACCESS_KEY:SECRET_KEY
func (c *Credentials) LoadFromPasswdFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read passwd file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	parts := strings.Split(content, ":")
	if len(parts) != 2 {
		return fmt.Errorf("invalid passwd file format, expected ACCESS_KEY:SECRET_KEY")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccessKeyID = strings.TrimSpace(parts[0])
	c.SecretAccessKey = strings.TrimSpace(parts[1])
	c.SessionToken = ""
	c.passwdFile = path
	c.fromEnv = false

	return nil
}

// LoadFromEnvironment loads credentials from OCIFS_ACCESS_KEY_ID and
// OCIFS_SECRET_ACCESS_KEY, falling back to the AWS_* names the SDK uses
func (c *Credentials) LoadFromEnvironment() error {
	accessKey := firstEnv("OCIFS_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	secretKey := firstEnv("OCIFS_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	sessionToken := firstEnv("OCIFS_SESSION_TOKEN", "AWS_SESSION_TOKEN")

	if accessKey == "" || secretKey == "" {
		return fmt.Errorf("OCIFS_ACCESS_KEY_ID and OCIFS_SECRET_ACCESS_KEY must be set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccessKeyID = accessKey
	c.SecretAccessKey = secretKey
	c.SessionToken = sessionToken
	c.passwdFile = ""
	c.fromEnv = true

	return nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// IsValid checks if credentials are valid (both access key and secret are set)
func (c *Credentials) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Retrieve returns the current keys to the SDK signer.
func (c *Credentials) Retrieve(ctx context.Context) (aws.Credentials, error) {
	c.mu.RLock()
	provider := awscreds.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
	c.mu.RUnlock()
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("no object storage credentials loaded: %w", err)
	}
	return creds, nil
}

// Refresh reloads the keys from wherever they were last loaded. Static
// credentials have nothing to reload and are left as they are.
func (c *Credentials) Refresh(ctx context.Context) error {
	c.mu.RLock()
	path, fromEnv := c.passwdFile, c.fromEnv
	c.mu.RUnlock()

	switch {
	case path != "":
		return c.LoadFromPasswdFile(path)
	case fromEnv:
		return c.LoadFromEnvironment()
	}
	return nil
}
