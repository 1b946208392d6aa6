package dbsql

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"xorkevin.dev/forge/model/sqldb"
	"xorkevin.dev/klog"
)

func TestSQLClient(t *testing.T) {
	t.Parallel()

	assert := require.New(t)

	u := url.URL{
		Scheme:   "file",
		Opaque:   path.Join(filepath.ToSlash(t.TempDir()), "test.db"),
		RawQuery: url.Values{"mode": []string{"rwc"}}.Encode(),
	}
	d := NewSQLClient(klog.Discard{}, u.String())

	_, err := d.ExecContext(context.Background(), "SELECT 1;")
	assert.ErrorIs(err, ErrClient)

	assert.NoError(d.Init())
	defer func() {
		assert.NoError(d.Close())
	}()

	_, err = d.ExecContext(context.Background(), "CREATE TABLE kv (k VARCHAR(255) PRIMARY KEY, v BIGINT NOT NULL);")
	assert.NoError(err)
	_, err = d.ExecContext(context.Background(), "INSERT INTO kv (k, v) VALUES ($1, $2);", "a", 1)
	assert.NoError(err)

	var v int64
	assert.NoError(d.QueryRowContext(context.Background(), "SELECT v FROM kv WHERE k = $1;", "a").Scan(&v))
	assert.Equal(int64(1), v)

	err = d.QueryRowContext(context.Background(), "SELECT v FROM kv WHERE k = $1;", "b").Scan(&v)
	assert.ErrorIs(err, ErrNotFound)

	var db sqldb.Executor = d
	_, err = db.ExecContext(context.Background(), "INSERT INTO kv (k, v) VALUES ($1, $2);", "b", 2)
	assert.NoError(err)
	rows, err := db.QueryContext(context.Background(), "SELECT k, v FROM kv ORDER BY k;")
	assert.NoError(err)
	var keys []string
	for rows.Next() {
		var k string
		assert.NoError(rows.Scan(&k, &v))
		keys = append(keys, k)
	}
	assert.NoError(rows.Err())
	assert.NoError(rows.Close())
	assert.Equal([]string{"a", "b"}, keys)
}
