package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a blob driver.
type Config struct {
	Driver Driver
	// Root is the directory of the fs driver.
	Root string
	S3   S3Config
}

// Open returns the Store for cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.Root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
