package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"bothost/pkg/store/sqlstore/model"
)

type tabler interface {
	TableName() string
}

// TableDump is one table serialized as a JSON array
type TableDump struct {
	Name  string
	Rows  int
	Bytes []byte
}

// Exporter dumps the whole store for snapshots
type Exporter struct {
	ds *Datastore
}

// NewExporter creates a new exporter
func NewExporter(ds *Datastore) *Exporter {
	return &Exporter{ds: ds}
}

// Export reads every table in one transaction so the dump is consistent
func (e *Exporter) Export(ctx context.Context) ([]TableDump, error) {
	var dumps []TableDump
	err := e.ds.ExecTx(ctx, func(ctx context.Context) error {
		for _, m := range model.All() {
			t, ok := m.(tabler)
			if !ok {
				continue
			}
			rowsPtr := reflect.New(reflect.SliceOf(reflect.TypeOf(m).Elem()))
			if err := e.ds.DB(ctx).Order("id ASC").Find(rowsPtr.Interface()).Error; err != nil {
				return fmt.Errorf("failed to read %s: %w", t.TableName(), err)
			}
			rows := rowsPtr.Elem()
			if rows.IsNil() {
				rows.Set(reflect.MakeSlice(rows.Type(), 0, 0))
			}
			data, err := json.Marshal(rows.Interface())
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", t.TableName(), err)
			}
			dumps = append(dumps, TableDump{
				Name:  t.TableName(),
				Rows:  rows.Len(),
				Bytes: data,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dumps, nil
}
