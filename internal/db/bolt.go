package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	versionsBucket = []byte("file_versions")
	metaBucket     = []byte("metadata")
	lastModKey     = []byte("last_modified")
)

// ErrDuplicateVersion is returned when a version number is already stored
// for a file.
var ErrDuplicateVersion = errors.New("version already stored")

// BoltDB stores file versions in a single bbolt file. Each file name is a
// nested bucket keyed by big-endian version number, so a cursor walk yields
// versions in order.
type BoltDB struct {
	bolt *bolt.DB
}

func OpenBolt(path string) (*BoltDB, error) {
	b, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = b.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{versionsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	return &BoltDB{bolt: b}, nil
}

func (d *BoltDB) Close() error {
	return d.bolt.Close()
}

// record layout: checksum (8) | created_at unix ms (8) | content
const recordHeader = 16

func versionKey(n int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(n))
	return k
}

func (d *BoltDB) InsertVersion(v *FileVersion) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		files, err := tx.Bucket(versionsBucket).CreateBucketIfNotExists([]byte(v.Name))
		if err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		key := versionKey(v.Number)
		if files.Get(key) != nil {
			return fmt.Errorf("insert version %s v%d: %w", v.Name, v.Number, ErrDuplicateVersion)
		}
		rec := make([]byte, recordHeader+len(v.Content))
		binary.BigEndian.PutUint64(rec[0:8], v.Checksum)
		binary.BigEndian.PutUint64(rec[8:16], uint64(v.CreatedAt.UnixMilli()))
		copy(rec[recordHeader:], v.Content)
		if err := files.Put(key, rec); err != nil {
			return err
		}
		stamp := make([]byte, 8)
		binary.BigEndian.PutUint64(stamp, uint64(time.Now().UnixMilli()))
		return tx.Bucket(metaBucket).Put(lastModKey, stamp)
	})
}

// LoadVersions returns every stored version ordered by name then number.
func (d *BoltDB) LoadVersions() ([]*FileVersion, error) {
	var out []*FileVersion
	err := d.bolt.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(versionsBucket)
		return root.ForEach(func(name, _ []byte) error {
			files := root.Bucket(name)
			if files == nil {
				return nil
			}
			return files.ForEach(func(k, rec []byte) error {
				if len(k) != 8 || len(rec) < recordHeader {
					return fmt.Errorf("%s: malformed record", name)
				}
				v := &FileVersion{
					Name:      string(name),
					Number:    int(binary.BigEndian.Uint64(k)),
					Checksum:  binary.BigEndian.Uint64(rec[0:8]),
					CreatedAt: time.UnixMilli(int64(binary.BigEndian.Uint64(rec[8:16]))),
					// bolt memory is only valid inside the transaction
					Content: append([]byte{}, rec[recordHeader:]...),
				}
				if xxhash.Sum64(v.Content) != v.Checksum {
					return fmt.Errorf("%s v%d: checksum mismatch", v.Name, v.Number)
				}
				out = append(out, v)
				return nil
			})
		})
	})
	return out, err
}

// LastModified returns when a version was last written, or the zero time
// for a file that has never accepted one.
func (d *BoltDB) LastModified() time.Time {
	var ms uint64
	d.bolt.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get(lastModKey); len(v) == 8 {
			ms = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}
