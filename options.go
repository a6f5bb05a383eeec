package blazedb

import "github.com/blazedb/blazedb/page"

type openConfig struct {
	encryption bool
	compress   bool
}

// Option configures an Open call.
type Option func(*openConfig)

// WithEncryption installs an AES-GCM page.Transform keyed from the same
// PBKDF2 derivation as the key-tag, satisfying spec's "when enabled,
// encryption must happen between serialization and the page wrap" note.
// Off by default: a plain Open writes plaintext framed pages.
func WithEncryption() Option {
	return func(c *openConfig) { c.encryption = true }
}

// WithCompression installs a snappy page.Transform. When combined with
// WithEncryption, pages are compressed then encrypted on write and
// decrypted then decompressed on read.
func WithCompression() Option {
	return func(c *openConfig) { c.compress = true }
}

func (c *openConfig) buildTransform(key []byte) (page.Transform, error) {
	var steps []page.Transform
	if c.compress {
		steps = append(steps, page.NewSnappyTransform())
	}
	if c.encryption {
		t, err := page.NewCipherTransform(key)
		if err != nil {
			return nil, err
		}
		steps = append(steps, t)
	}
	if len(steps) == 0 {
		return nil, nil
	}
	return page.Chain(steps...), nil
}
