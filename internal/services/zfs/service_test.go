package zfs

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/executor/executortest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return data
}

func TestParsePools_Golden(t *testing.T) {
	pools, err := ParsePools(readTestdata(t, "zpool_list.txt"))

	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, models.Pool{
		Name:   "rpool",
		Size:   1992864825344,
		Alloc:  412316860416,
		Free:   1580547964928,
		Health: "ONLINE",
	}, pools[0])
	assert.Equal(t, "tank", pools[1].Name)
	assert.Equal(t, "DEGRADED", pools[1].Health)
}

func TestParsePools_NoPoolsAvailable(t *testing.T) {
	pools, err := ParsePools([]byte("no pools available\n"))

	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestParsePools_BadNumber(t *testing.T) {
	_, err := ParsePools([]byte("rpool\t1.8T\t0\t0\tONLINE\n"))

	assert.Error(t, err)
}

func TestParseDatasets_Golden(t *testing.T) {
	datasets, err := ParseDatasets(readTestdata(t, "zfs_list.txt"))

	require.NoError(t, err)
	require.Len(t, datasets, 3)
	assert.Equal(t, "rpool/data", datasets[1].Name)
	assert.Equal(t, "filesystem", datasets[1].Type)
	assert.Equal(t, "volume", datasets[2].Type)
	assert.Equal(t, "-", datasets[2].Mountpoint)
}

func TestParseProperties_Golden(t *testing.T) {
	props := ParseProperties(readTestdata(t, "zfs_get.txt"))

	assert.Equal(t, "131072", props["recordsize"].Value)
	assert.Equal(t, "-", props["volblocksize"].Value)
	assert.Equal(t, "inherited from rpool", props["compression"].Source)
	assert.Equal(t, "on", props["atime"].Value)
}

func TestListPools_NoPool(t *testing.T) {
	rec := &executortest.Recorder{
		Handler: func(cmd string) ([]byte, error) {
			return []byte("no pools available\n"), nil
		},
	}

	svc := NewWithExecutor(testLogger(), rec)
	_, err := svc.ListPools(context.Background())

	assert.ErrorIs(t, err, ErrNoPool)
	assert.Equal(t, []string{"zpool list -Hp -o name,size,alloc,free,health"}, rec.Commands())
}

func TestListPools_CommandFails(t *testing.T) {
	rec := &executortest.Recorder{
		Handler: func(cmd string) ([]byte, error) {
			return []byte("zpool: command not found"), errors.New("exit status 127")
		},
	}

	svc := NewWithExecutor(testLogger(), rec)
	_, err := svc.ListPools(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list pools")
}

func TestGetProperties_DefaultsToTunables(t *testing.T) {
	rec := &executortest.Recorder{
		Handler: func(cmd string) ([]byte, error) {
			return []byte("recordsize\t131072\tdefault\n"), nil
		},
	}

	svc := NewWithExecutor(testLogger(), rec)
	props, err := svc.GetProperties(context.Background(), "rpool/data")

	require.NoError(t, err)
	assert.Equal(t, "131072", props["recordsize"].Value)
	cmds := rec.Commands()
	require.Len(t, cmds, 1)
	assert.True(t, strings.HasPrefix(cmds[0], "zfs get -Hp -o property,value,source recordsize,volblocksize,"))
	assert.True(t, strings.HasSuffix(cmds[0], " rpool/data"))
}

func TestSafeSet_Applied(t *testing.T) {
	rec := &executortest.Recorder{}

	svc := NewWithExecutor(testLogger(), rec)
	result, err := svc.SafeSet(context.Background(), "rpool/data", "recordsize", "64K")

	require.NoError(t, err)
	assert.Equal(t, models.PropertyApplied, result.Status)
	assert.Nil(t, result.Error)
	assert.Equal(t, []string{"zfs set recordsize=64K rpool/data"}, rec.Commands())
}

func TestSafeSet_VolblocksizeOnFilesystemIsSkipped(t *testing.T) {
	rec := &executortest.Recorder{
		Handler: func(cmd string) ([]byte, error) {
			return []byte("cannot set property for 'rpool/data': 'volblocksize' does not apply to datasets of this type\n"),
				errors.New("exit status 1")
		},
	}

	svc := NewWithExecutor(testLogger(), rec)
	result, err := svc.SafeSet(context.Background(), "rpool/data", "volblocksize", "32K")

	require.NoError(t, err)
	assert.Equal(t, models.PropertySkipped, result.Status)
	assert.Nil(t, result.Error)
}

func TestSafeSet_VolblocksizeReadonlyIsSkipped(t *testing.T) {
	rec := &executortest.Recorder{
		Handler: func(cmd string) ([]byte, error) {
			return []byte("cannot set property for 'rpool/data/vm-100-disk-0': 'volblocksize' is readonly\n"),
				errors.New("exit status 1")
		},
	}

	svc := NewWithExecutor(testLogger(), rec)
	result, err := svc.SafeSet(context.Background(), "rpool/data/vm-100-disk-0", "volblocksize", "16K")

	require.NoError(t, err)
	assert.Equal(t, models.PropertySkipped, result.Status)
}

func TestSafeSet_OtherFailureIsReported(t *testing.T) {
	rec := &executortest.Recorder{
		Handler: func(cmd string) ([]byte, error) {
			return []byte("cannot set property for 'rpool/data': 'compression' must be one of ..."),
				errors.New("exit status 1")
		},
	}

	svc := NewWithExecutor(testLogger(), rec)
	result, err := svc.SafeSet(context.Background(), "rpool/data", "compression", "bogus")

	require.NoError(t, err)
	assert.Equal(t, models.PropertyFailed, result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "compression=bogus")
}

func TestSafeSet_ReadonlyOnOtherPropertyIsFailure(t *testing.T) {
	rec := &executortest.Recorder{
		Handler: func(cmd string) ([]byte, error) {
			return []byte("'mountpoint' is readonly"), errors.New("exit status 1")
		},
	}

	svc := NewWithExecutor(testLogger(), rec)
	result, err := svc.SafeSet(context.Background(), "rpool/data", "recordsize", "64K")

	require.NoError(t, err)
	assert.Equal(t, models.PropertyFailed, result.Status)
}
