// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package harness

import (
	"encoding/binary"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/drahnr/hongg/pkg/osutil"
	"github.com/drahnr/hongg/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestFuzzChild is not a test. It is re-executed by the tests below as a
// standalone harness process, wired either to a socketpair channel or to a
// crash file replay.
func TestFuzzChild(t *testing.T) {
	if os.Getenv("HONGG_TEST_CHILD") != "1" {
		t.Skip("re-exec helper")
	}
	Fuzz(func(data []byte) {
		if len(data) > 0 && data[0] == 0xff {
			panic("fault injected by test input")
		}
	})
}

func startChild(t *testing.T, extraEnv ...string) (*exec.Cmd, *os.File) {
	t.Helper()
	bin, err := os.Executable()
	require.NoError(t, err)
	cmd := exec.Command(bin, "-test.run=TestFuzzChild")
	cmd.Env = append(os.Environ(), "HONGG_TEST_CHILD=1")
	cmd.Env = append(cmd.Env, extraEnv...)
	cmd.Stderr = os.Stderr

	var engineFile *os.File
	if len(extraEnv) == 0 {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		require.NoError(t, err)
		engineFile = os.NewFile(uintptr(fds[0]), "engine-end")
		childFile := os.NewFile(uintptr(fds[1]), "harness-end")
		defer childFile.Close()
		cmd.ExtraFiles = []*os.File{childFile} // becomes fd 3 in the child
		cmd.Env = append(cmd.Env, EnvEngine+"=1", EnvChannelFD+"=3")
	}
	require.NoError(t, cmd.Start())
	return cmd, engineFile
}

func sendInput(t *testing.T, w io.Writer, data []byte) error {
	t.Helper()
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:], reqMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readStatus(r io.Reader) (uint32, error) {
	var reply [8]byte
	if _, err := io.ReadFull(r, reply[:]); err != nil {
		return 0, err
	}
	if magic := binary.LittleEndian.Uint32(reply[0:]); magic != replyMagic {
		return 0, io.ErrUnexpectedEOF
	}
	return binary.LittleEndian.Uint32(reply[4:]), nil
}

func TestPersistentCleanShutdown(t *testing.T) {
	cmd, engine := startChild(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, sendInput(t, engine, []byte{byte(i), 1, 2, 3}))
		status, err := readStatus(engine)
		require.NoError(t, err)
		assert.Equal(t, statusCompleted, status)
	}
	// Closing the channel is how the engine asks the harness to stop.
	engine.Close()
	assert.NoError(t, cmd.Wait())
}

func TestPersistentCrash(t *testing.T) {
	cmd, engine := startChild(t)
	defer engine.Close()
	crashDir := filepath.Join(t.TempDir(), "crashes")
	require.NoError(t, osutil.MkdirAll(crashDir))

	rnd := rand.New(testutil.RandSource(t))
	var triggering []byte
	for i := 0; i < 10000; i++ {
		input := make([]byte, 1+rnd.Intn(32))
		for j := range input {
			input[j] = byte(rnd.Intn(256))
		}
		if err := sendInput(t, engine, input); err != nil {
			// The child died on a previous input; the crash input is
			// already recorded.
			break
		}
		status, err := readStatus(engine)
		if err != nil {
			triggering = input
			break
		}
		require.Equal(t, statusCompleted, status)
	}
	if triggering == nil {
		// Force the fault so the test does not depend on the random stream
		// hitting 0xff within the budget.
		triggering = []byte{0xff, 0x01}
		sendInput(t, engine, triggering)
		if _, err := readStatus(engine); err == nil {
			t.Fatalf("child completed an input that must fault")
		}
	}
	err := cmd.Wait()
	require.Error(t, err, "the engine must observe an abnormal exit")

	crashFile := filepath.Join(crashDir, "crash-0001")
	require.NoError(t, osutil.WriteFile(crashFile, triggering))
	saved, readErr := os.ReadFile(crashFile)
	require.NoError(t, readErr)
	require.NotEmpty(t, saved)
	assert.EqualValues(t, 0xff, saved[0])
}

func TestSingleRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good")
	bad := filepath.Join(dir, "bad")
	require.NoError(t, osutil.WriteFile(good, []byte{0x00, 0x01, 0x02}))
	require.NoError(t, osutil.WriteFile(bad, []byte{0xff, 0x01, 0x02}))

	cmd, _ := startChild(t, EnvCrashFile+"="+good)
	assert.NoError(t, cmd.Wait(), "replaying a benign input must exit 0")

	cmd, _ = startChild(t, EnvCrashFile+"="+bad)
	assert.Error(t, cmd.Wait(), "replaying a faulting input must exit non-zero")
}
