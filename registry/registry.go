package registry

import (
	"bytes"
	"sort"
	"strings"

	log "github.com/ChainSafe/log15"
	"github.com/ethereum/go-ethereum/common"

	"github.com/iov-one/custos"
	"github.com/iov-one/custos/errors"
)

var (
	selSupportedOperations = custos.NewSelector("supportedOperations()")
	selOperationName       = custos.NewSelector("operationName(bytes32)")
)

// Registry holds the operation types a single custodian contract
// supports. It is loaded once per custodian at session start and is
// immutable until Refresh is called explicitly.
type Registry struct {
	ledger    custos.Ledger
	custodian common.Address
	logger    log.Logger
	types     map[OperationID]OperationType
}

// Load fetches the identifier set the custodian contract supports and
// cross references it against the static table of expected canonical
// names. An expected name whose identifier is not present is matched
// best effort against the fetched names; a miss is logged and skipped
// so that a custodian missing optional operation types does not block
// the other subsystems. The only hard failure is the ledger connection
// itself.
func Load(ctx custos.Context, ledger custos.Ledger, custodian common.Address, logger log.Logger) (*Registry, error) {
	if logger == nil {
		logger = custos.DefaultLogger
	}
	r := &Registry{
		ledger:    ledger,
		custodian: custodian,
		logger:    logger.New("custodian", custodian.Hex()),
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStatic returns a registry preloaded with the full canonical table,
// without touching any ledger. Useful for offline tooling and tests.
func NewStatic() *Registry {
	types := make(map[OperationID]OperationType)
	for _, t := range expectedTypes() {
		types[t.ID] = t
	}
	return &Registry{
		logger: custos.DefaultLogger,
		types:  types,
	}
}

// Refresh re-fetches the supported operation set from the custodian
// contract, replacing the loaded one.
func (r *Registry) Refresh(ctx custos.Context) error {
	if r.ledger == nil {
		return errors.Wrap(errors.ErrState, "static registry cannot refresh")
	}
	raw, err := r.ledger.ReadView(ctx, r.custodian, custos.Calldata(selSupportedOperations))
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	words, err := custos.SplitWords(raw)
	if err != nil {
		return errors.Wrap(err, "supported operations")
	}

	fetched := make([]OperationID, 0, len(words))
	for _, w := range words {
		var id OperationID
		copy(id[:], w)
		fetched = append(fetched, id)
	}

	types := make(map[OperationID]OperationType)
	matched := make(map[OperationID]bool)

	// First pass: exact identifier match against the expected table.
	for _, want := range expectedTypes() {
		for _, id := range fetched {
			if id == want.ID {
				types[id] = want
				matched[id] = true
				break
			}
		}
	}

	// Second pass: best effort name match for the leftovers. The
	// fetched identifier wins over the derived one because the ledger
	// is authoritative for what it accepts.
	for _, want := range expectedTypes() {
		if _, ok := types[want.ID]; ok {
			continue
		}
		found := false
		for _, id := range fetched {
			if matched[id] {
				continue
			}
			name, err := r.fetchName(ctx, id)
			if err != nil {
				return err
			}
			if !looseNameMatch(want.Name, name) {
				continue
			}
			r.logger.Warn("operation type matched by name, not by identifier",
				"expected", want.Name, "fetched", name, "id", id.String())
			t := want.Copy()
			t.ID = id
			t.Name = name
			types[id] = t
			matched[id] = true
			found = true
			break
		}
		if !found {
			r.logger.Info("custodian does not support operation type", "name", want.Name)
		}
	}

	r.types = types
	return nil
}

// fetchName reads the human readable name the contract associates with
// an operation identifier.
func (r *Registry) fetchName(ctx custos.Context, id OperationID) (string, error) {
	raw, err := r.ledger.ReadView(ctx, r.custodian, custos.Calldata(selOperationName, id.Bytes()))
	if err != nil {
		return "", errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return string(bytes.TrimRight(raw, "\x00")), nil
}

// Resolve returns the operation type for the given identifier.
func (r *Registry) Resolve(id OperationID) (OperationType, error) {
	t, ok := r.types[id]
	if !ok {
		return OperationType{}, errors.Wrapf(errors.ErrNotFound, "operation type %s", id.String())
	}
	return t, nil
}

// ResolveByName returns the operation type with the given canonical
// name.
func (r *Registry) ResolveByName(name string) (OperationType, error) {
	for _, t := range r.types {
		if t.Name == name {
			return t, nil
		}
	}
	return OperationType{}, errors.Wrapf(errors.ErrNotFound, "operation type %q", name)
}

// RequiredRole returns the role required for the given phase of the
// operation type.
func (r *Registry) RequiredRole(id OperationID, phase Phase) (Role, error) {
	t, err := r.Resolve(id)
	if err != nil {
		return "", err
	}
	role, ok := t.RolesByPhase[phase]
	if !ok {
		return "", errors.Wrapf(errors.ErrNotFound, "operation type %q has no %q phase", t.Name, string(phase))
	}
	return role, nil
}

// Types returns all loaded operation types, sorted by name.
func (r *Registry) Types() []OperationType {
	out := make([]OperationType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// looseNameMatch reports whether two operation names refer to the same
// thing once normalized. Either full containment counts as a match.
func looseNameMatch(a, b string) bool {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

func normalizeName(s string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(s) {
		if c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
