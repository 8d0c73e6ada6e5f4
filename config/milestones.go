package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"dposledger/core/types"
)

// Milestone is the set of consensus parameters active from Height onwards.
type Milestone struct {
	Height                            uint64
	IgnoreInvalidSecondSignatureField bool
	BlockMaxTransactions              int
	StaticFees                        map[types.TxType]*big.Int
}

// StaticFee returns the minimum fee for t, if one is configured.
func (m Milestone) StaticFee(t types.TxType) (*big.Int, bool) {
	fee, ok := m.StaticFees[t]
	if !ok || fee == nil {
		return nil, false
	}
	return new(big.Int).Set(fee), true
}

// milestoneEntry is the on-disk shape. Unset fields inherit the value of the
// previous milestone.
type milestoneEntry struct {
	Height                            uint64            `toml:"height" yaml:"height"`
	IgnoreInvalidSecondSignatureField *bool             `toml:"ignoreInvalidSecondSignatureField" yaml:"ignoreInvalidSecondSignatureField"`
	BlockMaxTransactions              *int              `toml:"blockMaxTransactions" yaml:"blockMaxTransactions"`
	StaticFees                        map[string]uint64 `toml:"staticFees" yaml:"staticFees"`
}

type milestoneFile struct {
	Milestones []milestoneEntry `toml:"milestones" yaml:"milestones"`
}

var (
	ErrNoMilestones       = errors.New("milestones: at least one milestone required")
	ErrGenesisMilestone   = errors.New("milestones: first milestone must start at height 1")
	ErrDuplicateMilestone = errors.New("milestones: duplicate height")
)

// Milestones is an immutable, height ordered milestone schedule.
type Milestones struct {
	entries []Milestone
}

// NewMilestones sorts and validates the supplied milestones. Each entry is
// taken as fully specified.
func NewMilestones(ms ...Milestone) (*Milestones, error) {
	entries := make([]Milestone, len(ms))
	copy(entries, ms)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Height < entries[j].Height })
	out := &Milestones{entries: entries}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks the schedule is non-empty, starts at height 1 and has no
// repeated heights.
func (m *Milestones) Validate() error {
	if m == nil || len(m.entries) == 0 {
		return ErrNoMilestones
	}
	if m.entries[0].Height > 1 {
		return ErrGenesisMilestone
	}
	for i, entry := range m.entries {
		if i > 0 && entry.Height == m.entries[i-1].Height {
			return fmt.Errorf("%w: %d", ErrDuplicateMilestone, entry.Height)
		}
		if entry.BlockMaxTransactions < 0 {
			return fmt.Errorf("milestones: height %d has negative blockMaxTransactions", entry.Height)
		}
	}
	return nil
}

// MilestoneAt returns the milestone active at height.
func (m *Milestones) MilestoneAt(height uint64) Milestone {
	idx := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Height > height })
	if idx == 0 {
		return m.entries[0]
	}
	return m.entries[idx-1]
}

// All returns a copy of the schedule.
func (m *Milestones) All() []Milestone {
	out := make([]Milestone, len(m.entries))
	copy(out, m.entries)
	return out
}

// DefaultMilestones is the devnet schedule: the second signature field patch
// is tolerated until height 75600.
func DefaultMilestones() *Milestones {
	fees := map[types.TxType]*big.Int{
		types.TxTypeTransfer:        big.NewInt(10_000_000),
		types.TxTypeSecondSignature: big.NewInt(500_000_000),
	}
	ms, err := NewMilestones(
		Milestone{Height: 1, IgnoreInvalidSecondSignatureField: true, BlockMaxTransactions: 50, StaticFees: fees},
		Milestone{Height: 75600, IgnoreInvalidSecondSignatureField: false, BlockMaxTransactions: 150, StaticFees: fees},
	)
	if err != nil {
		panic(err)
	}
	return ms
}

// LoadMilestones reads a milestone schedule from a TOML or YAML file chosen by
// extension. Later entries inherit unset fields from earlier ones.
func LoadMilestones(path string) (*Milestones, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file milestoneFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("milestones: decode yaml: %w", err)
		}
	case ".toml", "":
		if _, err := toml.Decode(string(raw), &file); err != nil {
			return nil, fmt.Errorf("milestones: decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("milestones: unsupported file extension %q", filepath.Ext(path))
	}
	return resolveMilestones(file.Milestones)
}

func resolveMilestones(raw []milestoneEntry) (*Milestones, error) {
	if len(raw) == 0 {
		return nil, ErrNoMilestones
	}
	sorted := make([]milestoneEntry, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Height < sorted[j].Height })

	resolved := make([]Milestone, 0, len(sorted))
	current := Milestone{StaticFees: map[types.TxType]*big.Int{}}
	for _, entry := range sorted {
		next := Milestone{
			Height:                            entry.Height,
			IgnoreInvalidSecondSignatureField: current.IgnoreInvalidSecondSignatureField,
			BlockMaxTransactions:              current.BlockMaxTransactions,
			StaticFees:                        make(map[types.TxType]*big.Int, len(current.StaticFees)),
		}
		for t, fee := range current.StaticFees {
			next.StaticFees[t] = new(big.Int).Set(fee)
		}
		if entry.IgnoreInvalidSecondSignatureField != nil {
			next.IgnoreInvalidSecondSignatureField = *entry.IgnoreInvalidSecondSignatureField
		}
		if entry.BlockMaxTransactions != nil {
			next.BlockMaxTransactions = *entry.BlockMaxTransactions
		}
		for name, fee := range entry.StaticFees {
			t, err := parseTxType(name)
			if err != nil {
				return nil, fmt.Errorf("milestones: height %d: %w", entry.Height, err)
			}
			next.StaticFees[t] = new(big.Int).SetUint64(fee)
		}
		resolved = append(resolved, next)
		current = next
	}
	return NewMilestones(resolved...)
}

func parseTxType(name string) (types.TxType, error) {
	for _, t := range types.KnownTxTypes() {
		if strings.EqualFold(t.String(), strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction type %q", name)
}
