package txstore

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	log "github.com/ChainSafe/log15"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
)

const (
	// StorageKey is the name of the single namespaced record all
	// signed transactions live under.
	StorageKey = "custos_signed_transactions"

	// MaxNamespaceSize bounds the serialized size of the whole
	// namespace. A write that would exceed it is rejected, never
	// truncated.
	MaxNamespaceSize = 5 << 20

	tempKeyPrefix = "tmp-"
)

// Stored is a single signed but not yet broadcast transaction.
type Stored struct {
	// SignedData is the 0x prefixed hex of the broadcast ready
	// payload, byte for byte as it was signed.
	SignedData string `json:"signedData"`
	// CreatedAt is the moment the transaction was signed.
	CreatedAt custos.UnixTime `json:"timestamp"`
	// Metadata carries free form description of the payload so it can
	// be inspected without decoding SignedData.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate returns an error if this record is incomplete or malformed.
func (s Stored) Validate() error {
	if s.SignedData == "" {
		return errors.Wrap(errors.ErrInput, "signed data is required")
	}
	if _, err := hex.DecodeString(strings.TrimPrefix(s.SignedData, "0x")); err != nil {
		return errors.Wrapf(errors.ErrInput, "signed data is not hex: %s", err)
	}
	if err := s.CreatedAt.Validate(); err != nil {
		return errors.Wrap(err, "created at")
	}
	return nil
}

// Payload decodes the signed payload bytes.
func (s Stored) Payload() ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s.SignedData, "0x"))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrSerialization, "signed data: %s", err)
	}
	return raw, nil
}

// KeyForTx returns the storage key of a transaction bound to an
// existing ledger assigned operation id.
func KeyForTx(txID uint64) string {
	return strconv.FormatUint(txID, 10)
}

// TempKey synthesizes a storage key for a single phase transaction that
// has no ledger assigned id yet. The prefix guarantees it can never
// collide with a decimal ledger id.
func TempKey() string {
	return tempKeyPrefix + uuid.NewString()
}

// IsTempKey reports whether the given key was synthesized by TempKey.
func IsTempKey(key string) bool {
	return strings.HasPrefix(key, tempKeyPrefix)
}

// validKey accepts decimal ledger ids and synthesized temporary ids.
func validKey(key string) bool {
	if key == "" {
		return false
	}
	if IsTempKey(key) {
		_, err := uuid.Parse(strings.TrimPrefix(key, tempKeyPrefix))
		return err == nil
	}
	for _, c := range key {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Backend persists the raw namespace blob. Load returns nil when
// nothing was stored yet.
type Backend interface {
	Load() ([]byte, error)
	Save([]byte) error
}

// Observer is notified with the affected custodian address after every
// mutating store operation. Callbacks run outside the store lock, so an
// observer may read the store from within the callback to refresh its
// view.
type Observer func(custodian common.Address)

// Store is the durable, validated, size bounded keeper of signed
// transactions, keyed by (custodian contract, operation id). It is the
// only mutable resource shared between logical tasks, so every write is
// last write wins per key and triggers a change notification.
type Store struct {
	mu        sync.Mutex
	backend   Backend
	logger    log.Logger
	observers []Observer
}

// namespace is the JSON layout of the persisted record:
// custodian address -> operation id -> stored transaction.
type namespace map[string]map[string]Stored

// NewStore returns a store handle over the given backend.
func NewStore(backend Backend, logger log.Logger) *Store {
	if logger == nil {
		logger = custos.DefaultLogger
	}
	return &Store{
		backend: backend,
		logger:  logger,
	}
}

// Subscribe registers an observer. The returned function removes it
// again.
func (s *Store) Subscribe(fn Observer) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
	idx := len(s.observers) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.observers[idx] = nil
	}
}

// Put stores a signed transaction, overwriting any previous entry under
// the same key.
func (s *Store) Put(custodian common.Address, opKey string, tx Stored) error {
	if !validKey(opKey) {
		return errors.Wrapf(errors.ErrInput, "operation key %q", opKey)
	}
	if err := tx.Validate(); err != nil {
		return errors.Wrap(err, "stored transaction")
	}

	s.mu.Lock()
	ns := s.load()
	addr := addrKey(custodian)
	if ns[addr] == nil {
		ns[addr] = make(map[string]Stored)
	}
	ns[addr][opKey] = tx
	err := s.save(ns)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(custodian)
	return nil
}

// Get returns the stored transaction under the given key.
func (s *Store) Get(custodian common.Address, opKey string) (Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.load()
	tx, ok := ns[addrKey(custodian)][opKey]
	if !ok {
		return Stored{}, errors.Wrapf(errors.ErrNotFound, "no signed transaction for %s/%s", custodian.Hex(), opKey)
	}
	return tx, nil
}

// List returns all stored transactions of one custodian, keyed by
// operation id.
func (s *Store) List(custodian common.Address) (map[string]Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.load()
	out := make(map[string]Stored, len(ns[addrKey(custodian)]))
	for k, v := range ns[addrKey(custodian)] {
		out[k] = v
	}
	return out, nil
}

// Delete removes a single entry. Deleting an absent entry is an error
// so a caller can distinguish it from a successful removal.
func (s *Store) Delete(custodian common.Address, opKey string) error {
	s.mu.Lock()
	ns := s.load()
	addr := addrKey(custodian)
	if _, ok := ns[addr][opKey]; !ok {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrNotFound, "no signed transaction for %s/%s", custodian.Hex(), opKey)
	}
	delete(ns[addr], opKey)
	if len(ns[addr]) == 0 {
		delete(ns, addr)
	}
	err := s.save(ns)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(custodian)
	return nil
}

// Clear removes all entries of one custodian. This is the only bulk
// removal, there is no automatic expiry.
func (s *Store) Clear(custodian common.Address) error {
	s.mu.Lock()
	ns := s.load()
	addr := addrKey(custodian)
	if _, ok := ns[addr]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(ns, addr)
	err := s.save(ns)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(custodian)
	return nil
}

// load reads and validates the namespace. Any structural violation
// discards the whole namespace: partial corruption is not repaired
// field by field.
func (s *Store) load() namespace {
	raw, err := s.backend.Load()
	if err != nil {
		s.logger.Warn("cannot read stored transactions, starting empty", "err", err)
		return namespace{}
	}
	if len(raw) == 0 {
		return namespace{}
	}

	var ns namespace
	if err := json.Unmarshal(raw, &ns); err != nil {
		s.logger.Warn("stored transactions corrupted, namespace reset", "err", err)
		return namespace{}
	}
	for addr, txs := range ns {
		if !common.IsHexAddress(addr) {
			s.logger.Warn("stored transactions corrupted, namespace reset", "address", addr)
			return namespace{}
		}
		for key, tx := range txs {
			if !validKey(key) {
				s.logger.Warn("stored transactions corrupted, namespace reset", "key", key)
				return namespace{}
			}
			if err := tx.Validate(); err != nil {
				s.logger.Warn("stored transactions corrupted, namespace reset", "key", key, "err", err)
				return namespace{}
			}
		}
	}
	return ns
}

func (s *Store) save(ns namespace) error {
	raw, err := json.Marshal(ns)
	if err != nil {
		return errors.Wrap(errors.ErrSerialization, err.Error())
	}
	if len(raw) > MaxNamespaceSize {
		return errors.Wrapf(errors.ErrStorageFull, "namespace size %d exceeds %d", len(raw), MaxNamespaceSize)
	}
	if err := s.backend.Save(raw); err != nil {
		return errors.Wrap(err, "backend save")
	}
	return nil
}

// notify fires the observers outside the store lock. Observers are
// snapshotted first so a callback can subscribe, unsubscribe or read
// the store without deadlocking.
func (s *Store) notify(custodian common.Address) {
	s.mu.Lock()
	fns := make([]Observer, len(s.observers))
	copy(fns, s.observers)
	s.mu.Unlock()

	for _, fn := range fns {
		if fn != nil {
			fn(custodian)
		}
	}
}

func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}
