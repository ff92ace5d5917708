package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/payrecon/pkg/storage"
	"github.com/cuemby/payrecon/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCSV(t *testing.T, path string) {
	t.Helper()
	s, err := storage.NewCSVStore(path, zerolog.Nop())
	require.NoError(t, err)
	_, err = s.BulkInitialize([]string{"100001234", "100001235", "100001236"})
	require.NoError(t, err)
	require.NoError(t, s.Update("100001234", types.StatusPaymentCanceledSuccess, "98765", ""))
	require.NoError(t, s.Update("100001236", types.StatusPaymentCanceledError, "98767", "API returned status 500: \"boom\", retry"))
	require.NoError(t, s.Close())
}

func TestMigrateCSVToBolt(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "progress.csv")
	out := filepath.Join(dir, "progress.db")
	seedCSV(t, in)

	var buf bytes.Buffer
	n, err := migrate(&options{from: "csv", in: in, to: "bolt", out: out}, zerolog.Nop(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dst, err := storage.NewBoltStore(out, zerolog.Nop())
	require.NoError(t, err)
	defer dst.Close()

	records := dst.Load()
	require.Len(t, records, 3)
	assert.Equal(t, types.StatusPaymentCanceledSuccess, records["100001234"].Status)
	assert.Equal(t, "API returned status 500: \"boom\", retry", records["100001236"].ErrorMessage)

	working, err := dst.RecordsNeeding(types.StepMatchPayments)
	require.NoError(t, err)
	require.Len(t, working, 2)
	assert.Equal(t, "100001235", working[0].OrderID, "discovery order is preserved")
	assert.Equal(t, "100001236", working[1].OrderID)
}

func TestMigrateDryRun(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "progress.csv")
	out := filepath.Join(dir, "progress.db")
	seedCSV(t, in)

	var buf bytes.Buffer
	n, err := migrate(&options{from: "csv", in: in, to: "bolt", out: out, dryRun: true}, zerolog.Nop(), &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, out)
	assert.Contains(t, buf.String(), "3 records")
	assert.Contains(t, buf.String(), "Dry run completed")
}

func TestMigrateRefusesNonEmptyDestination(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "progress.csv")
	out := filepath.Join(dir, "other.csv")
	seedCSV(t, in)
	seedCSV(t, out)

	_, err := migrate(&options{from: "csv", in: in, to: "csv", out: out}, zerolog.Nop(), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to overwrite")
}

func TestMigrateMissingSource(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "missing.csv")

	_, err := migrate(&options{from: "csv", in: in, to: "bolt", out: filepath.Join(dir, "p.db")}, zerolog.Nop(), &bytes.Buffer{})
	require.Error(t, err)
	_, statErr := os.Stat(in)
	assert.True(t, os.IsNotExist(statErr), "a missing source is not created")
}

func TestMigrateRejectsUnknownBackend(t *testing.T) {
	_, err := migrate(&options{from: "xml", in: "a", to: "bolt", out: "b"}, zerolog.Nop(), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestMigrateCorruptSourceIsLeftUntouched(t *testing.T) {
	for _, dryRun := range []bool{true, false} {
		dir := t.TempDir()
		in := filepath.Join(dir, "progress.csv")
		out := filepath.Join(dir, "progress.db")
		garbage := []byte("order_id,timestamp\n\"unterminated,quote\n")
		require.NoError(t, os.WriteFile(in, garbage, 0600))

		_, err := migrate(&options{from: "csv", in: in, to: "bolt", out: out, dryRun: dryRun}, zerolog.Nop(), &bytes.Buffer{})
		require.ErrorIs(t, err, storage.ErrCorrupt)

		data, err := os.ReadFile(in)
		require.NoError(t, err)
		assert.Equal(t, garbage, data, "dry run %v", dryRun)
		quarantined, err := filepath.Glob(in + ".corrupt-*")
		require.NoError(t, err)
		assert.Empty(t, quarantined)
		assert.NoFileExists(t, out)
	}
}

func TestMigrateCorruptDestinationFails(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "progress.csv")
	out := filepath.Join(dir, "progress.db")
	seedCSV(t, in)
	garbage := bytes.Repeat([]byte("not a bolt database "), 1024)
	require.NoError(t, os.WriteFile(out, garbage, 0600))

	_, err := migrate(&options{from: "csv", in: in, to: "bolt", out: out}, zerolog.Nop(), &bytes.Buffer{})
	require.ErrorIs(t, err, storage.ErrCorrupt)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, garbage, data)
	quarantined, err := filepath.Glob(out + ".corrupt-*")
	require.NoError(t, err)
	assert.Empty(t, quarantined)
}

func TestMigrateIntoEmptyExistingDestination(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "progress.csv")
	out := filepath.Join(dir, "other.csv")
	seedCSV(t, in)
	empty, err := storage.NewCSVStore(out, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, empty.Close())

	n, err := migrate(&options{from: "csv", in: in, to: "csv", out: out}, zerolog.Nop(), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
