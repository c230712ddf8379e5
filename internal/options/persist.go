package options

import (
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Persistence snapshots stores to, and restores them from, a bbolt
// database (a real counterpart of original_source/installer/util.c's
// write_opts, which always `die()`s when called). The pipeline driver
// does not use it: at phase boundaries the driver only logs the option
// store, and nothing is written to disk.
type Persistence struct {
	db *bolt.DB
}

// OpenPersistence opens (creating if necessary) the snapshot database
// at path.
func OpenPersistence(path string) (*Persistence, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "opening option-store snapshot database")
	}
	return &Persistence{db: db}, nil
}

// Close closes the underlying database.
func (p *Persistence) Close() error {
	return p.db.Close()
}

// Snapshot writes every named store's current contents to its own
// bucket, replacing whatever was there before. bucket names are
// typically "options", "properties", and "kcmdline".
func (p *Persistence) Snapshot(bucket string, store *Store) error {
	data := store.Snapshot()
	return p.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		if err := b.ForEach(func(k, _ []byte) error {
			return b.Delete(k)
		}); err != nil {
			return err
		}
		for k, v := range data {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Restore loads bucket's contents into store, replacing its current
// contents. Used to resume a run after a crash or a GUI-mode hand-off.
func (p *Persistence) Restore(bucket string, store *Store) error {
	snapshot := make(map[string]string)
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			snapshot[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return errors.Wrapf(err, "restoring bucket %q", bucket)
	}
	store.Load(snapshot)
	return nil
}
