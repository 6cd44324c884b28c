package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	for i, m := range ms {
		assert.Equal(t, i+1, m.Version, "versions must be contiguous")
		assert.NotEmpty(t, m.SQL)
	}
	assert.Contains(t, ms[0].SQL, "CREATE TABLE IF NOT EXISTS users")
}

func TestLoadMigrations(t *testing.T) {
	tests := []struct {
		name    string
		files   fstest.MapFS
		want    []string
		wantErr string
	}{
		{
			name: "ordered by number not name",
			files: fstest.MapFS{
				"m/10_late.sql": {Data: []byte("SELECT 10")},
				"m/2_early.sql": {Data: []byte("SELECT 2")},
				"m/README.md":   {Data: []byte("docs")},
				"m/1_first.sql": {Data: []byte("SELECT 1")},
			},
			want: []string{"1_first", "2_early", "10_late"},
		},
		{
			name:    "unversioned",
			files:   fstest.MapFS{"m/schema.sql": {Data: []byte("SELECT 1")}},
			wantErr: "positive version",
		},
		{
			name: "duplicate version",
			files: fstest.MapFS{
				"m/001_a.sql": {Data: []byte("SELECT 1")},
				"m/1_b.sql":   {Data: []byte("SELECT 1")},
			},
			wantErr: "share version 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms, err := loadMigrations(tt.files, "m")
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			var names []string
			for _, m := range ms {
				names = append(names, m.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}
