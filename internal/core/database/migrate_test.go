package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	all, err := loadMigrations(migrationFS, "scripts/migrations")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 2)
	for i, m := range all {
		assert.Equal(t, i+1, m.version, m.name)
		assert.NotEmpty(t, m.sql)
	}
	assert.Contains(t, all[0].sql, "CREATE TABLE IF NOT EXISTS documents")
	assert.Contains(t, all[1].sql, "'deleting'")
}

func TestLoadMigrations_OrderAndNames(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0010_later.sql": {Data: []byte("SELECT 10")},
		"m/0002_next.sql":  {Data: []byte("SELECT 2")},
		"m/README.md":      {Data: []byte("ignored")},
	}
	all, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].version)
	assert.Equal(t, 10, all[1].version)

	todo := pending(all, map[int]bool{2: true})
	require.Len(t, todo, 1)
	assert.Equal(t, "0010_later.sql", todo[0].name)

	_, err = loadMigrations(fstest.MapFS{"m/init.sql": {Data: []byte("x")}}, "m")
	assert.Error(t, err)

	_, err = loadMigrations(fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("x")},
		"m/1_b.sql":    {Data: []byte("y")},
	}, "m")
	assert.Error(t, err)
}
