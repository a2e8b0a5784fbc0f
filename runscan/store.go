package runscan

import (
	"fmt"
	"strings"

	"reduction.dev/rangemerge/kv"
	"reduction.dev/rangemerge/levelstore"
	"reduction.dev/rangemerge/memstore"
	"reduction.dev/rangemerge/pebblestore"
	"reduction.dev/rangemerge/s3store"
)

// Backend is a store the CLI can seed and scan.
type Backend interface {
	kv.Store
	Put(key, value []byte) error
	Close() error
}

type StoreParams struct {
	// Location is one of "memory", "pebble:DIR", "leveldb:DIR" or
	// "s3://bucket/prefix".
	Location string
	// S3 serves s3:// locations.
	S3 s3store.S3Service
}

func OpenStore(params StoreParams) (Backend, error) {
	loc := params.Location
	if strings.HasPrefix(loc, "s3://") {
		if params.S3 == nil {
			return nil, fmt.Errorf("no S3 client for %s", loc)
		}
		return orNil(s3store.New(s3store.Params{S3: params.S3, URI: loc}))
	}

	scheme, dir, _ := strings.Cut(loc, ":")
	switch scheme {
	case "memory":
		return memstore.New(), nil
	case "pebble":
		if dir == "" {
			return nil, fmt.Errorf("pebble store needs a directory: %q", loc)
		}
		return orNil(pebblestore.Open(pebblestore.Params{Dir: dir}))
	case "leveldb":
		if dir == "" {
			return nil, fmt.Errorf("leveldb store needs a directory: %q", loc)
		}
		return orNil(levelstore.Open(levelstore.Params{Dir: dir}))
	default:
		return nil, fmt.Errorf("unknown store location %q", loc)
	}
}

// orNil keeps a failed open from returning a non-nil Backend holding a nil
// pointer.
func orNil[S Backend](store S, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}
