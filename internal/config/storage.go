package config

import (
	"fmt"

	"github.com/corelane/coreindexer/pkg/coreio"
	"github.com/corelane/coreindexer/pkg/storage"
	"github.com/corelane/coreindexer/pkg/storage/badger"
	"github.com/corelane/coreindexer/pkg/storage/file"
)

// StorageFactory builds the storage.Factory described by the storage
// section of the configuration. For the badger backend it also returns
// a closer that must be called once, on process shutdown, to close the
// shared database; for the file backend the closer is a no-op.
func (c *Config) StorageFactory() (storage.Factory, func() error, error) {
	switch c.Storage.Backend {
	case "", "file":
		return file.Factory(c.Storage.Dir), func() error { return nil }, nil
	case "badger":
		return badger.Open(c.Storage.Dir)
	default:
		return nil, nil, fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
}

// CoreEncoding converts the batch section's Encoding string into a
// coreio.Encoding. Validate guarantees the string is one of the known
// names, so the default case here is unreachable in practice.
func (b *BatchConfig) CoreEncoding() coreio.Encoding {
	switch b.Encoding {
	case "utf8":
		return coreio.UTF8
	case "json":
		return coreio.JSON
	default:
		return coreio.Binary
	}
}
