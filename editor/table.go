package editor

import (
	"fmt"
	"os"
	"path/filepath"

	"memhunt/codec"
	"memhunt/matchset"
	"memhunt/process"

	"gopkg.in/yaml.v3"
)

// tableRow is the on-disk form of an Entry. Freezes are recorded but not
// restarted on load.
type tableRow struct {
	ID      string          `yaml:"id"`
	PID     int             `yaml:"pid"`
	Address string          `yaml:"address"`
	Type    codec.ValueType `yaml:"type"`
	Value   string          `yaml:"value"`
	Frozen  string          `yaml:"frozen,omitempty"`
}

type table struct {
	Entries []tableRow `yaml:"entries"`
}

// Save writes the list to path as YAML
func (ed *Editor) Save(path string) error {
	var t table
	for _, e := range ed.Entries() {
		row := tableRow{
			ID:      e.Match.ID,
			PID:     int(e.Match.PID),
			Address: e.Match.Address.ToString(),
			Type:    e.Match.Type,
		}
		if e.Match.Value.Valid() {
			row.Value = e.Match.Value.String()
		}
		if e.IsFrozen {
			row.Frozen = e.FrozenValue
		}
		t.Entries = append(t.Entries, row)
	}

	data, err := yaml.Marshal(&t)
	if err != nil {
		return fmt.Errorf("encode address table: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create table directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write address table: %w", err)
	}

	ed.log.Infoln("Saved", len(t.Entries), "entries to", path)
	return nil
}

// Load reads a table written by Save and adds its entries, unfrozen. It
// returns the number of entries added.
func (ed *Editor) Load(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read address table: %w", err)
	}

	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return 0, fmt.Errorf("decode address table: %w", err)
	}

	matches := make([]matchset.Match, 0, len(t.Entries))
	for i, row := range t.Entries {
		addr, err := process.ParseAddress(row.Address)
		if err != nil {
			return 0, fmt.Errorf("address table entry %d: %w", i, err)
		}
		if row.Type.Size() == 0 {
			return 0, fmt.Errorf("address table entry %d: missing type", i)
		}

		value := codec.Invalid
		if row.Value != "" {
			if v, err := codec.ParseLiteral(row.Value, row.Type); err == nil {
				value = v
			}
		}

		m := matchset.NewMatch(process.ProcessID(row.PID), addr, value, nil)
		m.Type = row.Type
		m.Size = uint32(row.Type.Size())
		if row.ID != "" {
			m.ID = row.ID
		}
		matches = append(matches, m)
	}

	return ed.Add(matches...), nil
}
