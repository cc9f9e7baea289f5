package ports

import "context"

// StateFile is the durable location of the credential file. Write must
// replace the content atomically. Remove of a missing file is not an error.
type StateFile interface {
	Path() string
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Remove(ctx context.Context) error
}
