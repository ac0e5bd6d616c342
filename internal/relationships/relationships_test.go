package relationships

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRelationships = `{
  "database": [{"host": "db.internal", "port": 3306, "username": "app", "password": "secret", "path": "magento", "scheme": "mysql"}],
  "database-slave": [{"host": "replica.internal", "port": "3307", "username": "ro", "password": "", "path": "magento", "scheme": "mysql"}],
  "database-quote": [{"host": "", "port": 3306, "username": "app", "password": "", "path": "quote", "scheme": "mysql"}]
}`

func TestParse_PlainJSON(t *testing.T) {
	md, err := Parse([]byte(testRelationships))

	require.NoError(t, err)
	require.Len(t, md["database"], 1)
	assert.Equal(t, "db.internal", md["database"][0].Host)
}

func TestParse_Base64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(testRelationships))

	md, err := Parse([]byte(encoded))

	require.NoError(t, err)
	assert.Contains(t, md, "database-slave")
}

func TestParse_Empty(t *testing.T) {
	md, err := Parse([]byte("  "))

	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("not base64!"))
	assert.Error(t, err)

	_, err = Parse([]byte("{broken"))
	assert.Error(t, err)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("TEST_RELATIONSHIPS", base64.StdEncoding.EncodeToString([]byte(testRelationships)))

	md, err := Load(models.RelationshipSettings{EnvVar: "TEST_RELATIONSHIPS"})

	require.NoError(t, err)
	assert.Len(t, md, 3)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relationships.json")
	require.NoError(t, os.WriteFile(path, []byte(testRelationships), 0o600))

	md, err := Load(models.RelationshipSettings{EnvVar: "UNUSED_VAR", File: path})

	require.NoError(t, err)
	assert.Len(t, md, 3)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(models.RelationshipSettings{File: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	md, err := Parse([]byte(testRelationships))
	require.NoError(t, err)
	r := New(md)

	d, err := r.Resolve(models.ConnectionMain)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionDescriptor{
		Host:     "db.internal",
		Port:     "3306",
		User:     "app",
		Password: "secret",
		DBName:   "magento",
	}, d)

	slave, err := r.Resolve(models.ConnectionSlave)
	require.NoError(t, err)
	assert.Equal(t, "3307", slave.Port)
}

func TestResolve_Unresolvable(t *testing.T) {
	md, err := Parse([]byte(testRelationships))
	require.NoError(t, err)
	r := New(md)

	_, err = r.Resolve(models.ConnectionSalesMain)
	assert.True(t, errors.Is(err, ErrUnresolvableConnection))

	_, err = r.Resolve("bogus")
	assert.True(t, errors.Is(err, ErrUnresolvableConnection))
}

func TestResolve_Memoized(t *testing.T) {
	md, err := Parse([]byte(testRelationships))
	require.NoError(t, err)
	r := New(md)

	first, err := r.Resolve(models.ConnectionMain)
	require.NoError(t, err)

	// Changing the metadata afterwards must not affect cached descriptors.
	md["database"][0].Host = "changed.internal"

	second, err := r.Resolve(models.ConnectionMain)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "db.internal", second.Host)
}

func TestLookup(t *testing.T) {
	md, err := Parse([]byte(testRelationships))
	require.NoError(t, err)
	r := New(md)

	_, ok := r.Lookup(models.ConnectionMain)
	assert.True(t, ok)

	// Entry exists but has no host.
	_, ok = r.Lookup(models.ConnectionQuoteMain)
	assert.False(t, ok)

	_, ok = r.Lookup(models.ConnectionSalesSlave)
	assert.False(t, ok)
}

func TestEmpty(t *testing.T) {
	assert.True(t, New(nil).Empty())

	md, err := Parse([]byte(testRelationships))
	require.NoError(t, err)
	assert.False(t, New(md).Empty())
}
