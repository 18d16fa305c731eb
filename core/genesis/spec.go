// core/genesis/spec.go
package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"payai/crypto"
)

type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime"`
	ProgramID   string            `json:"programId,omitempty"`
	Alloc       map[string]string `json:"alloc"` // base58 identity -> amount

	genesisTimestamp time.Time
	programID        solana.PublicKey
	hasProgramID     bool
	allocations      []Allocation
}

// Allocation is a validated genesis balance.
type Allocation struct {
	Account solana.PublicKey
	Amount  uint64
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a JSON genesis document. Unknown
// fields are rejected.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// ProgramIDValue returns the program identity pinned by the genesis document.
func (s *GenesisSpec) ProgramIDValue() (solana.PublicKey, bool) {
	return s.programID, s.hasProgramID
}

// Allocations returns the validated balances sorted by account.
func (s *GenesisSpec) Allocations() []Allocation {
	return append([]Allocation(nil), s.allocations...)
}

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if strings.TrimSpace(s.ProgramID) != "" {
		id, err := crypto.ParseIdentity(s.ProgramID)
		if err != nil {
			return fmt.Errorf("programId: %w", err)
		}
		s.programID = id
		s.hasProgramID = true
	}

	allocations := make([]Allocation, 0, len(s.Alloc))
	for account, amount := range s.Alloc {
		id, err := crypto.ParseIdentity(account)
		if err != nil {
			return fmt.Errorf("alloc: %w", err)
		}
		value, err := strconv.ParseUint(strings.TrimSpace(amount), 10, 64)
		if err != nil {
			return fmt.Errorf("alloc %s: invalid amount %q", account, amount)
		}
		allocations = append(allocations, Allocation{Account: id, Amount: value})
	}
	sort.Slice(allocations, func(i, j int) bool {
		return bytes.Compare(allocations[i].Account[:], allocations[j].Account[:]) < 0
	})
	s.allocations = allocations
	return nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
