package device_test

import (
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpfs/bpfs/bpfserr"
	"github.com/bpfs/bpfs/device"
)

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	mem := device.NewMemory(1024, 10*1024)

	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, mem.Write(3, data))

	buf := make([]byte, 1024)
	require.NoError(t, mem.Read(3, buf))
	assert.Equal(t, data, buf)
}

func TestMemoryOutOfRange(t *testing.T) {
	mem := device.NewMemory(1024, 2*1024)
	buf := make([]byte, 1024)
	err := mem.Read(5, buf)
	require.Error(t, err)
	assert.True(t, bpfserr.Is(err, bpfserr.KindDeviceRange))
}

func TestMemoryMismatchedBufferSize(t *testing.T) {
	mem := device.NewMemory(1024, 2*1024)
	err := mem.Write(0, make([]byte, 512))
	require.Error(t, err)
	assert.True(t, bpfserr.Is(err, bpfserr.KindDeviceSize))
}

func TestFileDeviceRoundTripOnMemMapFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	dev, err := device.OpenFile(fs, "/vdisk.img", 1024, 10*1024*1024)
	require.NoError(t, err)
	defer dev.Close()

	patterns := map[uint64]byte{5: 0xAB, 9: 0xCD, 17: 0xEF}
	for idx, b := range patterns {
		buf := make([]byte, 1024)
		for i := range buf {
			buf[i] = b
		}
		require.NoError(t, dev.Write(idx, buf))
	}

	for idx, b := range patterns {
		buf := make([]byte, 1024)
		require.NoError(t, dev.Read(idx, buf))
		for _, v := range buf {
			assert.Equal(t, b, v)
		}
	}
}

func TestTotalBlocks(t *testing.T) {
	mem := device.NewMemory(1024, 4*1024)
	assert.Equal(t, uint64(4), device.TotalBlocks(mem))
}

func TestOpenExistingFilePreservesContentsAndInfersCapacity(t *testing.T) {
	memfs := afero.NewMemMapFs()
	dev, err := device.OpenFile(memfs, "/vdisk.img", 1024, 4*1024)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	for i := range buf {
		buf[i] = 0x7A
	}
	require.NoError(t, dev.Write(2, buf))
	require.NoError(t, dev.Close())

	reopened, err := device.OpenExistingFile(memfs, "/vdisk.img", 1024)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(4*1024), reopened.Capacity())

	readBack := make([]byte, 1024)
	require.NoError(t, reopened.Read(2, readBack))
	assert.Equal(t, buf, readBack)
}

func TestOpenExistingFileRejectsSizeNotMultipleOfBlockSize(t *testing.T) {
	memfs := afero.NewMemMapFs()
	f, err := memfs.OpenFile("/bad.img", os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(1500))
	require.NoError(t, f.Close())

	_, err = device.OpenExistingFile(memfs, "/bad.img", 1024)
	assert.Error(t, err)
}
