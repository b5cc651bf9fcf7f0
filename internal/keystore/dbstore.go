package keystore

import (
	"errors"
	"fmt"

	"github.com/keyward/keyward/internal/database"
	"gorm.io/gorm"
)

// DBStore keeps keys in the main database: minion_keys for the tri-state
// lifecycle and denied_keys for conflicts. Moves are conditional updates
// inside a transaction, so they are atomic against concurrent callers
// the same way the filesystem rename is.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (d *DBStore) Get(id string) (*Record, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var row database.MinionKey
	if err := d.db.Where("minion_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query key %s: %w", id, err)
	}
	return &Record{MinionID: row.MinionID, KeyPEM: row.KeyPEM, State: State(row.State)}, nil
}

func (d *DBStore) Put(state State, rec Record) error {
	if !ValidID(rec.MinionID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, rec.MinionID)
	}
	if state == StateDenied {
		return fmt.Errorf("put %s: use PutDenied", rec.MinionID)
	}
	row := database.MinionKey{MinionID: rec.MinionID, KeyPEM: rec.KeyPEM, State: string(state)}
	if err := d.db.Save(&row).Error; err != nil {
		return fmt.Errorf("save key %s: %w", rec.MinionID, err)
	}
	return nil
}

func (d *DBStore) Remove(id string) (State, bool, error) {
	if !ValidID(id) {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var from State
	found := false
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var row database.MinionKey
		if err := tx.Where("minion_id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		from = State(row.State)
		found = true
		return tx.Delete(&database.MinionKey{}, "minion_id = ?", id).Error
	})
	if err != nil {
		return "", false, fmt.Errorf("remove key %s: %w", id, err)
	}
	return from, found, nil
}

func (d *DBStore) Move(id string, from, to State) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	res := d.db.Model(&database.MinionKey{}).
		Where("minion_id = ? AND state = ?", id, string(from)).
		Update("state", string(to))
	if res.Error != nil {
		return fmt.Errorf("move key %s %s->%s: %w", id, from.Display(), to.Display(), res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DBStore) ListState(state State) ([]Record, error) {
	if state == StateDenied {
		return d.listDenied()
	}
	var rows []database.MinionKey
	if err := d.db.Where("state = ?", string(state)).Order("minion_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list partition %s: %w", state.Display(), err)
	}
	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, Record{MinionID: row.MinionID, KeyPEM: row.KeyPEM, State: state})
	}
	return recs, nil
}

func (d *DBStore) listDenied() ([]Record, error) {
	var rows []database.DeniedKey
	if err := d.db.Order("minion_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list denied keys: %w", err)
	}
	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, Record{MinionID: row.MinionID, KeyPEM: row.KeyPEM, State: StateDenied})
	}
	return recs, nil
}

func (d *DBStore) ListAll() (map[State][]Record, error) {
	out := make(map[State][]Record, 4)
	for _, s := range []State{StatePending, StateAccepted, StateRejected, StateDenied} {
		recs, err := d.ListState(s)
		if err != nil {
			return nil, err
		}
		out[s] = recs
	}
	return out, nil
}

func (d *DBStore) PutDenied(rec Record) error {
	if !ValidID(rec.MinionID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, rec.MinionID)
	}
	row := database.DeniedKey{MinionID: rec.MinionID, KeyPEM: rec.KeyPEM}
	if err := d.db.Save(&row).Error; err != nil {
		return fmt.Errorf("save denied key %s: %w", rec.MinionID, err)
	}
	return nil
}

func (d *DBStore) GetDenied(id string) (*Record, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var row database.DeniedKey
	if err := d.db.Where("minion_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query denied key %s: %w", id, err)
	}
	return &Record{MinionID: row.MinionID, KeyPEM: row.KeyPEM, State: StateDenied}, nil
}

func (d *DBStore) RemoveDenied(id string) (bool, error) {
	if !ValidID(id) {
		return false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	res := d.db.Delete(&database.DeniedKey{}, "minion_id = ?", id)
	if res.Error != nil {
		return false, fmt.Errorf("remove denied key %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}
