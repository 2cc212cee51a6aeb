// Package audit writes before/after snapshots of tracked rows into audit_logs.
// A Recorder is bound to one *gorm.DB, normally a transaction, so the audit row
// commits or rolls back together with the change it describes.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/nestgold/nestgold/app/models"
	"gorm.io/gorm"
)

// Tracked is implemented by every model whose writes are audited.
type Tracked interface {
	TableName() string
	AuditKey() uint
}

type Recorder struct {
	db    *gorm.DB
	actor Actor
	now   func() time.Time
}

// NewRecorder binds a recorder to tx. All writes go through tx.
func NewRecorder(tx *gorm.DB, actor Actor) *Recorder {
	if actor.Type == "" {
		actor.Type = models.ActorTypeSystem
	}
	return &Recorder{db: tx, actor: actor, now: time.Now}
}

// DB returns the handle the recorder writes through.
func (r *Recorder) DB() *gorm.DB {
	return r.db
}

// Create inserts row and records an insert entry.
func (r *Recorder) Create(row Tracked) error {
	if err := r.db.Create(row).Error; err != nil {
		return err
	}
	return r.write(row, models.AuditActionInsert, nil, row)
}

// Save updates row and records the previous and new state. Rows without a key
// are inserted.
func (r *Recorder) Save(row Tracked) error {
	if row.AuditKey() == 0 {
		return r.Create(row)
	}

	before, err := r.load(row)
	if err != nil {
		return err
	}
	if err := r.db.Omit(gormAssociations(row)...).Save(row).Error; err != nil {
		return err
	}
	if before == nil {
		return r.write(row, models.AuditActionInsert, nil, row)
	}
	return r.write(row, models.AuditActionUpdate, before, row)
}

// Delete removes row and records its last state.
func (r *Recorder) Delete(row Tracked) error {
	if row.AuditKey() == 0 {
		return errors.New("audit: cannot delete a row without primary key")
	}
	before, err := r.load(row)
	if err != nil {
		return err
	}
	if before == nil {
		before = row
	}
	if err := r.db.Delete(row).Error; err != nil {
		return err
	}
	return r.write(row, models.AuditActionDelete, before, nil)
}

// load fetches the stored version of row into a fresh value of the same type.
func (r *Recorder) load(row Tracked) (Tracked, error) {
	t := reflect.TypeOf(row)
	if t.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("audit: %s must be passed by pointer", t)
	}
	fresh, ok := reflect.New(t.Elem()).Interface().(Tracked)
	if !ok {
		return nil, fmt.Errorf("audit: %s is not trackable", t)
	}
	err := r.db.Session(&gorm.Session{NewDB: true}).First(fresh, row.AuditKey()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func (r *Recorder) write(row Tracked, action string, before, after any) error {
	entry, err := NewEntry(row, action, before, after, r.actor, r.now())
	if err != nil {
		return err
	}
	return r.db.Session(&gorm.Session{NewDB: true}).Create(entry).Error
}

// NewEntry builds the audit_logs row for one change.
func NewEntry(row Tracked, action string, before, after any, actor Actor, at time.Time) (*models.AuditLog, error) {
	beforeJSON, err := snapshot(before)
	if err != nil {
		return nil, fmt.Errorf("audit: encode before: %w", err)
	}
	afterJSON, err := snapshot(after)
	if err != nil {
		return nil, fmt.Errorf("audit: encode after: %w", err)
	}
	return &models.AuditLog{
		Table:      row.TableName(),
		RowPK:      strconv.FormatUint(uint64(row.AuditKey()), 10),
		Action:     action,
		ChangedAt:  at.UTC(),
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		RequestID:  actor.RequestID,
		BeforeJSON: beforeJSON,
		AfterJSON:  afterJSON,
	}, nil
}

func snapshot(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// gormAssociations lists pointer-to-struct fields so Save does not upsert
// preloaded relations such as Subscription.Plan.
func gormAssociations(row any) []string {
	t := reflect.TypeOf(row)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var names []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		ft := f.Type
		if ft.Kind() == reflect.Ptr && ft.Elem().Kind() == reflect.Struct && ft.Elem() != reflect.TypeOf(time.Time{}) {
			names = append(names, f.Name)
		}
	}
	return names
}
