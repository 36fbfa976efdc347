package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Names accepted by storage-provider.
const (
	ProviderFirestore = "firestore"
	ProviderNone      = "none"
)

// configured is filled in once flags are parsed.
type configured struct {
	Database
}

// Configured registers the storage flags and returns the history store picked
// by storage-provider. It is usable once lflag.Configure has run.
func Configured() Database {
	name := lflag.String("storage-provider", ProviderFirestore, "Where synced history is kept (available: firestore, none)")
	fs := configuredFirestore()

	db := &configured{}
	lflag.Do(func() {
		d, err := open(context.Background(), *name, fs)
		if err != nil {
			panic(fmt.Sprintf("storage setup failed: %v", err))
		}
		db.Database = d
	})
	return db
}

// open returns the named store, connecting to firestore when selected.
func open(ctx context.Context, name string, fs *FirestoreProvider) (Database, error) {
	switch name {
	case ProviderNone:
		return NoneProvider{}, nil
	case ProviderFirestore:
		if err := fs.Validate(); err != nil {
			return nil, fmt.Errorf("invalid firestore config: %w", err)
		}
		if err := fs.Init(ctx); err != nil {
			return nil, err
		}
		return fs, nil
	}
	return nil, fmt.Errorf("unknown storage provider: %s", name)
}
