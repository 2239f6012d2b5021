// Package edgestore persists graph components pruned from memory so they
// can be lazily reloaded if a peer in them becomes reachable again. It is
// backed by BoltDB, matching the bucket layout the routing graph engine
// expects: component_edges, peer_component, and a meta counter bucket.
package edgestore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/routingtypes"
)

var (
	bucketComponentEdges = []byte("component_edges")
	bucketPeerComponent  = []byte("peer_component")
	bucketMeta           = []byte("meta")
	keyNextComponentID   = []byte("next_component_id")
)

// Store is a persistent archive of pruned graph components, keyed by a
// monotonically increasing component id.
type Store struct {
	db  *bolt.DB
	log *zap.SugaredLogger
}

// Open opens (creating if absent) a BoltDB file at path and ensures the
// three buckets this store needs exist.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("edgestore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketComponentEdges, bucketPeerComponent, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("edgestore: init buckets: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying BoltDB file handle.
func (s *Store) Close() error { return s.db.Close() }

// PushComponent archives peers and their edges under a freshly allocated
// component id, overwriting any prior peer -> component mapping for every
// peer in peers.
func (s *Store) PushComponent(peers []routingtypes.PeerID, edges []routingtypes.Edge) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(edges); err != nil {
		return fmt.Errorf("edgestore: encode edges: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		componentID := nextComponentID(meta)
		if err := meta.Put(keyNextComponentID, encodeUint64(componentID+1)); err != nil {
			return err
		}

		ce := tx.Bucket(bucketComponentEdges)
		if err := ce.Put(encodeUint64(componentID), payload.Bytes()); err != nil {
			return err
		}

		pc := tx.Bucket(bucketPeerComponent)
		for _, p := range peers {
			if err := pc.Put(p[:], encodeUint64(componentID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// PopComponent reads and deletes the component archived for peer, along
// with peer's own peer->component mapping. Other peers that were archived
// under the same component retain their mapping, now dangling until they
// are themselves reloaded or re-pruned — a documented, intentional leak
// (see step 1 of Inner.update in the routinggraph package).
func (s *Store) PopComponent(peer routingtypes.PeerID) ([]routingtypes.Edge, error) {
	var edges []routingtypes.Edge
	err := s.db.Update(func(tx *bolt.Tx) error {
		pc := tx.Bucket(bucketPeerComponent)
		raw := pc.Get(peer[:])
		if raw == nil {
			return nil // no archived component for this peer; nothing to do
		}
		componentID := decodeUint64(raw)

		ce := tx.Bucket(bucketComponentEdges)
		edgeBytes := ce.Get(encodeUint64(componentID))
		if edgeBytes != nil {
			if err := gob.NewDecoder(bytes.NewReader(edgeBytes)).Decode(&edges); err != nil {
				return fmt.Errorf("edgestore: decode edges for component %d: %w", componentID, err)
			}
		}

		if err := ce.Delete(encodeUint64(componentID)); err != nil {
			return err
		}
		return pc.Delete(peer[:])
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

func nextComponentID(meta *bolt.Bucket) uint64 {
	raw := meta.Get(keyNextComponentID)
	if raw == nil {
		return 0
	}
	return decodeUint64(raw)
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
