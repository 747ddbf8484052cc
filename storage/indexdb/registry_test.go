package indexdb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	storagev1 "github.com/omalloc/waypoint/api/defined/v1/storage"
	"github.com/omalloc/waypoint/api/defined/v1/storage/object"
	"github.com/omalloc/waypoint/storage/indexdb"
)

type fakeIndexDB struct {
	path string
}

func (f *fakeIndexDB) Get(_ context.Context, _ []byte) (*object.Metadata, error)   { return nil, storagev1.ErrKeyNotFound }
func (f *fakeIndexDB) Set(_ context.Context, _ []byte, _ *object.Metadata) error   { return nil }
func (f *fakeIndexDB) Exist(_ context.Context, _ []byte) bool                      { return false }
func (f *fakeIndexDB) Delete(_ context.Context, _ []byte) error                    { return nil }
func (f *fakeIndexDB) Iterate(_ context.Context, _ []byte, _ storagev1.IterateFunc) error { return nil }
func (f *fakeIndexDB) Expired(_ context.Context, _ storagev1.IterateFunc) error    { return nil }
func (f *fakeIndexDB) GC(_ context.Context) error                                  { return nil }
func (f *fakeIndexDB) Close() error                                                { return nil }

func newFakeIndexDB(path string, _ storagev1.Option) (storagev1.IndexDB, error) {
	return &fakeIndexDB{path: path}, nil
}

func TestRegistryCreateUsesRegisteredFactory(t *testing.T) {
	r := indexdb.NewRegistry()
	r.Register("fake", newFakeIndexDB)

	db, err := r.Create("fake", "/tmp/idx", indexdb.NewOption("/tmp/idx"))
	assert.NoError(t, err)
	assert.NotNil(t, db)
	assert.Equal(t, "/tmp/idx", db.(*fakeIndexDB).path)
}

func TestRegistryCreateUnknownDriver(t *testing.T) {
	r := indexdb.NewRegistry()

	_, err := r.Create("nope", "/tmp/idx", indexdb.NewOption("/tmp/idx"))
	assert.Error(t, err)
}

func TestPackageLevelRegisterAndCreate(t *testing.T) {
	indexdb.Register("fake-pkg", newFakeIndexDB)

	opt := indexdb.NewOption("/tmp/pkg-idx", indexdb.WithType("fake-pkg"))
	db, err := indexdb.Create("fake-pkg", opt)
	assert.NoError(t, err)
	assert.NotNil(t, db)
}
