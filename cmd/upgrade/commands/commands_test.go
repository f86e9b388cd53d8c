package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/zrouter/upgrade/pkg/errors"
	"github.com/zrouter/upgrade/pkg/image"
	"github.com/zrouter/upgrade/pkg/platform"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

const (
	testImage  = "/images/fw.img"
	testDevice = "/dev/map/upgrade"
)

type fakePlatform struct {
	flagErr error
	reboots []bool
}

func (p *fakePlatform) EnsureDebugFlag(context.Context) error {
	return p.flagErr
}

func (p *fakePlatform) Sync() error {
	return nil
}

func (p *fakePlatform) Reboot(_ context.Context, withSync bool) error {
	p.reboots = append(p.reboots, withSync)
	return nil
}

type env struct {
	fs       afero.Fs
	platform *fakePlatform
	dir      string
}

func setup(t *testing.T) *env {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	rootCmd.Flags().VisitAll(reset)
	rootCmd.PersistentFlags().VisitAll(reset)
	forgetCmd.Flags().VisitAll(reset)

	e := &env{fs: afero.NewMemMapFs(), platform: &fakePlatform{}, dir: t.TempDir()}
	assert.NilError(t, afero.WriteFile(e.fs, testDevice, nil, 0o600))

	oldFs, oldPlatform := appFs, newPlatform
	appFs = e.fs
	newPlatform = func() (platform.Adapter, error) { return e.platform, nil }
	t.Cleanup(func() { appFs, newPlatform = oldFs, oldPlatform })
	return e
}

func (e *env) writeImage(t *testing.T, payload []byte, corrupt bool) {
	t.Helper()
	h, err := image.NewHeader(0, testDevice)
	assert.NilError(t, err)
	assert.NilError(t, image.Seal(h, bytes.NewReader(payload), 512))
	if corrupt {
		h.Digest[3] ^= 0x01
	}
	var buf bytes.Buffer
	assert.NilError(t, h.Encode(&buf))
	buf.Write(payload)
	assert.NilError(t, afero.WriteFile(e.fs, testImage, buf.Bytes(), 0o644))
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args,
		"--ledger-path", filepath.Join(e.dir, "ledger.db"),
		"--fsm-db-path", filepath.Join(e.dir, "fsm"),
	))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFlash_Clean(t *testing.T) {
	e := setup(t)
	e.writeImage(t, bytes.Repeat([]byte{0xa5}, 1000), false)

	out, err := e.run(t, "-f", testImage, "-s", "512")

	assert.NilError(t, err)
	assert.Assert(t, is.Contains(out, "Use file "+testImage))
	assert.Assert(t, is.Contains(out, "Image check - ok"))
	assert.Assert(t, is.Contains(out, "reboot now ..."))
	assert.DeepEqual(t, e.platform.reboots, []bool{true})

	dev, err := afero.ReadFile(e.fs, testDevice)
	assert.NilError(t, err)
	assert.Equal(t, len(dev), 3*512)
}

func TestFlash_Flags(t *testing.T) {
	e := setup(t)
	e.writeImage(t, bytes.Repeat([]byte{0xa5}, 1000), false)

	out, err := e.run(t, "-f", testImage, "-q", "-S", "-V", "--settle-delay", "0s")

	assert.NilError(t, err)
	assert.Equal(t, out, "Write done, now rebooting\n")
	assert.DeepEqual(t, e.platform.reboots, []bool{false})
}

func TestFlash_MissingFile(t *testing.T) {
	e := setup(t)

	out, err := e.run(t)

	assert.Equal(t, errors.ExitCode(err), 1)
	assert.Assert(t, is.Contains(out, "Usage:"))
	dev, _ := afero.ReadFile(e.fs, testDevice)
	assert.Equal(t, len(dev), 0)
}

func TestFlash_EmptyDevice(t *testing.T) {
	e := setup(t)
	e.writeImage(t, bytes.Repeat([]byte{0xa5}, 1000), false)

	out, err := e.run(t, "-f", testImage, "-d", "")

	assert.Equal(t, errors.ExitCode(err), 1)
	assert.ErrorContains(t, err, "device path")
	assert.Assert(t, is.Contains(out, "Usage:"))
	dev, _ := afero.ReadFile(e.fs, testDevice)
	assert.Equal(t, len(dev), 0)
}

func TestFlash_TunableMissing(t *testing.T) {
	e := setup(t)
	e.writeImage(t, bytes.Repeat([]byte{0xa5}, 1000), false)
	e.platform.flagErr = platform.ErrTunableMissing

	out, err := e.run(t, "-f", testImage)

	assert.Equal(t, errors.ExitCode(err), 1)
	assert.Assert(t, is.Contains(out, "kern.geom.debugflags sysctl missing"))
	assert.ErrorIs(t, err, platform.ErrTunableMissing)
	dev, _ := afero.ReadFile(e.fs, testDevice)
	assert.Equal(t, len(dev), 0)
}

func TestFlash_BadBlockSize(t *testing.T) {
	e := setup(t)
	e.writeImage(t, bytes.Repeat([]byte{0xa5}, 1000), false)

	out, err := e.run(t, "-f", testImage, "-s", "junk")

	assert.Equal(t, errors.ExitCode(err), 2)
	assert.Assert(t, is.Contains(out, "Error allocating blocksize=0x0"))
}

func TestFlash_CorruptImageNoReboot(t *testing.T) {
	e := setup(t)
	e.writeImage(t, bytes.Repeat([]byte{0xa5}, 1000), true)

	out, err := e.run(t, "-f", testImage, "-s", "512")

	assert.Equal(t, errors.ExitCode(err), 7)
	assert.Assert(t, is.Contains(out, "Image check - FAIL"))
	assert.Assert(t, is.Contains(out, "Verification fail"))
	assert.Equal(t, len(e.platform.reboots), 0)
}

func TestInspect(t *testing.T) {
	e := setup(t)
	e.writeImage(t, bytes.Repeat([]byte{0x11}, 700), false)

	out, err := e.run(t, "inspect", testImage, "-s", "512")
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(out, "DEVICE     "+testDevice))
	assert.Assert(t, is.Contains(out, "Image check - ok"))

	e.writeImage(t, bytes.Repeat([]byte{0x11}, 700), true)
	out, err = e.run(t, "inspect", testImage, "-s", "512")
	assert.Equal(t, errors.ExitCode(err), 7)
	assert.Assert(t, is.Contains(out, "Image check - FAIL"))
}

func TestStageAndHistory(t *testing.T) {
	e := setup(t)
	e.writeImage(t, bytes.Repeat([]byte{0x22}, 2048), false)

	out, err := e.run(t, "stage", testImage, "-s", "512")
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(out, "STATUS   ready"))

	_, err = e.run(t, "-f", testImage, "-s", "512", "-R")
	assert.NilError(t, err)
	assert.Equal(t, len(e.platform.reboots), 0)

	out, err = e.run(t, "history")
	assert.NilError(t, err)
	lines := strings.Split(out, "\n")
	assert.Assert(t, len(lines) > 4)
	assert.Assert(t, is.Contains(out, testImage))
	assert.Assert(t, is.Contains(out, "complete"))
	assert.Assert(t, is.Contains(out, "ready"))
}

func TestForget(t *testing.T) {
	e := setup(t)
	e.writeImage(t, bytes.Repeat([]byte{0x33}, 600), false)

	_, err := e.run(t, "stage", testImage, "-s", "512")
	assert.NilError(t, err)

	out, err := e.run(t, "forget", "--missing")
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(out, "Removed 0 staged images"))

	assert.NilError(t, e.fs.Remove(testImage))
	out, err = e.run(t, "forget", "--missing")
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(out, "Forgot "+testImage))

	_, err = e.run(t, "forget", "--image", testImage)
	assert.ErrorContains(t, err, "is not staged")
}
