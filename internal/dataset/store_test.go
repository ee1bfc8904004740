package dataset

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bdagent/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// seedHospitals writes a small hospitals table to a fresh sqlite file.
func seedHospitals(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hospitals.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE hospitals (name TEXT, city TEXT, beds INTEGER, rating REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO hospitals VALUES
		('Dhaka Medical College Hospital', 'Dhaka', 2600, 4.1),
		('Chittagong Medical College Hospital', 'Chattogram', 1313, 3.9),
		('Square Hospital', 'Dhaka', 400, NULL)`)
	require.NoError(t, err)
	return path
}

func openHospitals(t *testing.T) *Store {
	t.Helper()
	desc := Descriptor{Name: "hospitals", Driver: DriverSQLite, Path: seedHospitals(t), Table: "hospitals"}
	s, err := Open(context.Background(), desc, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_SQLiteLoadsSchema(t *testing.T) {
	s := openHospitals(t)

	assert.Contains(t, s.Schema(), "CREATE TABLE hospitals")
	assert.Equal(t, []Column{
		{Name: "name", Type: "TEXT"},
		{Name: "city", Type: "TEXT"},
		{Name: "beds", Type: "INTEGER"},
		{Name: "rating", Type: "REAL"},
	}, s.Columns())
}

func TestOpen_MissingFile(t *testing.T) {
	desc := Descriptor{Name: "ghost", Path: filepath.Join(t.TempDir(), "ghost.db"), Table: "ghost"}
	_, err := Open(context.Background(), desc, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen_MissingTable(t *testing.T) {
	desc := Descriptor{Name: "restaurants", Path: seedHospitals(t), Table: "restaurants"}
	_, err := Open(context.Background(), desc, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Descriptor{Name: "x", Driver: "oracle", Table: "x"}, testLogger())
	require.Error(t, err)
}

func TestQuery_SQLite(t *testing.T) {
	s := openHospitals(t)

	rs, err := s.Query(context.Background(), `SELECT name, beds FROM hospitals WHERE city = 'Dhaka' ORDER BY beds DESC`)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "beds"}, rs.Columns)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, "Dhaka Medical College Hospital", rs.Rows[0][0])
	assert.EqualValues(t, 2600, rs.Rows[0][1])
}

func TestQuery_SQLiteNull(t *testing.T) {
	s := openHospitals(t)

	rs, err := s.Query(context.Background(), `SELECT rating FROM hospitals WHERE name = 'Square Hospital'`)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Nil(t, rs.Rows[0][0])
}

func TestQuery_SQLiteIsReadOnly(t *testing.T) {
	s := openHospitals(t)

	_, err := s.Query(context.Background(), `DELETE FROM hospitals`)
	require.Error(t, err)

	rs, err := s.Query(context.Background(), `SELECT COUNT(*) AS count FROM hospitals`)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rs.Rows[0][0])
}

func TestQuery_SyntaxError(t *testing.T) {
	s := openHospitals(t)
	_, err := s.Query(context.Background(), `SELEC nonsense`)
	require.Error(t, err)
}

func TestPostgres_IntrospectAndQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = \$1`).
		WithArgs("restaurants").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("name", "text").
			AddRow("rating", "double precision"))

	desc := Descriptor{Name: "restaurants", Driver: DriverPostgres, DSN: "postgres://bd", Table: "restaurants"}
	s, err := newStore(context.Background(), db, desc, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE \"restaurants\" (\n  \"name\" text,\n  \"rating\" double precision\n)", s.Schema())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT name FROM restaurants`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow([]byte("Star Kabab")))
	mock.ExpectCommit()

	rs, err := s.Query(context.Background(), `SELECT name FROM restaurants`)
	require.NoError(t, err)
	assert.Equal(t, "Star Kabab", rs.Rows[0][0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`information_schema.columns`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}))

	_, err = newStore(context.Background(), db, Descriptor{Name: "nope", Driver: DriverPostgres, Table: "nope"}, testLogger())
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestDescriptors_ResolvesPaths(t *testing.T) {
	descs, err := Descriptors(config.DatasetsConfig{
		Dir: "/data",
		Entries: []config.DatasetConfig{
			{Name: "hospitals", Table: "hospitals"},
			{Name: "pg", Driver: "postgres", DSN: "postgres://x", Table: "restaurants"},
			{Name: "abs", Path: "/srv/inst.db", Table: "institutions"},
		},
	})
	require.NoError(t, err)
	require.Len(t, descs, 3)

	assert.Equal(t, filepath.Join("/data", "hospitals.db"), descs[0].Path)
	assert.Equal(t, DriverSQLite, descs[0].Driver)
	assert.Equal(t, "hospitals_db", descs[0].ToolName())
	assert.Equal(t, "", descs[1].Path)
	assert.Equal(t, "postgres:restaurants", descs[1].Location())
	assert.Equal(t, "/srv/inst.db", descs[2].Path)
}

func TestDescriptors_CatalogOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`datasets:
  - name: clinics
    table: clinics
    path: clinics.db
    description: Clinics in Sylhet.
`), 0o644))

	descs, err := Descriptors(config.DatasetsConfig{
		Dir:     "/data",
		Catalog: path,
		Entries: []config.DatasetConfig{{Name: "hospitals", Table: "hospitals"}},
	})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "clinics", descs[0].Table)
	assert.Equal(t, "Clinics in Sylhet.", descs[0].Description)
}

func TestDescriptors_DuplicateTable(t *testing.T) {
	_, err := Descriptors(config.DatasetsConfig{Entries: []config.DatasetConfig{
		{Name: "a", Table: "hospitals"},
		{Name: "b", Table: "hospitals"},
	}})
	require.Error(t, err)
}

func TestLoadCatalog_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasets: []\n"), 0o644))
	_, err := LoadCatalog(path)
	require.Error(t, err)
}
