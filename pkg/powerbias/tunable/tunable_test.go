package tunable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/powerbias/pkg/powerbias/policy"
)

const testTemplate = "/sys/devices/system/cpu/cpu%d/power/energy_perf_bias"

// recordingFs records every OpenFile call and can fail or block chosen
// paths.
type recordingFs struct {
	afero.Fs

	mu         sync.Mutex
	opened     []string
	failOpen   map[string]error
	failWrite  map[string]error
	blockUntil chan struct{}
}

func newRecordingFs() *recordingFs {
	return &recordingFs{
		Fs:        afero.NewMemMapFs(),
		failOpen:  make(map[string]error),
		failWrite: make(map[string]error),
	}
}

func (r *recordingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	r.mu.Lock()
	r.opened = append(r.opened, name)
	openErr := r.failOpen[name]
	writeErr := r.failWrite[name]
	block := r.blockUntil
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	if openErr != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: openErr}
	}

	f, err := r.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if writeErr != nil {
		return &failingFile{File: f, err: writeErr}, nil
	}
	return f, nil
}

func (r *recordingFs) attempts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.opened)
	slices.Sort(out)
	return out
}

type failingFile struct {
	afero.File
	err error
}

func (f *failingFile) Write([]byte) (int, error) { return 0, f.err }

func newTestWriter(t *testing.T, fs afero.Fs, cores int) *Writer {
	t.Helper()
	w, err := New(Options{Fs: fs, PathTemplate: testTemplate, CoreCount: cores})
	require.NoError(t, err)
	return w
}

func expectedTargets(cores int) []string {
	out := make([]string, cores)
	for i := range out {
		out[i] = fmt.Sprintf(testTemplate, i)
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	w, err := New(Options{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)

	targets := w.Targets()
	require.Len(t, targets, DefaultCoreCount)
	assert.Equal(t, "/sys/devices/system/cpu/cpu0/power/energy_perf_bias", targets[0])
	assert.Equal(t, "/sys/devices/system/cpu/cpu15/power/energy_perf_bias", targets[15])
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{PathTemplate: "/sys/cpu/bias"})
	assert.Error(t, err, "template without a verb")

	_, err = New(Options{PathTemplate: "/sys/cpu%d/%s"})
	assert.Error(t, err, "template with an extra verb")

	_, err = New(Options{CoreCount: -1})
	assert.Error(t, err)
}

func TestTargets_ReturnsCopy(t *testing.T) {
	w := newTestWriter(t, afero.NewMemMapFs(), 4)

	targets := w.Targets()
	targets[0] = "/tmp/elsewhere"

	assert.Equal(t, fmt.Sprintf(testTemplate, 0), w.Targets()[0])
}

func TestApply_WritesEveryCore(t *testing.T) {
	for _, bias := range []policy.Level{0, 1, 6, 15} {
		t.Run(bias.String(), func(t *testing.T) {
			fs := newRecordingFs()
			w := newTestWriter(t, fs, DefaultCoreCount)

			w.Apply(context.Background(), bias)

			want := expectedTargets(DefaultCoreCount)
			slices.Sort(want)
			assert.Equal(t, want, fs.attempts(), "exactly one attempt per core")

			for _, path := range expectedTargets(DefaultCoreCount) {
				data, err := afero.ReadFile(fs, path)
				require.NoError(t, err)
				assert.Equal(t, bias.String(), string(data), "payload for %s", path)
			}
		})
	}
}

func TestApply_TruncatesPreviousValue(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newTestWriter(t, fs, 2)

	w.Apply(context.Background(), 15)
	w.Apply(context.Background(), 0)

	data, err := afero.ReadFile(fs, fmt.Sprintf(testTemplate, 1))
	require.NoError(t, err)
	assert.Equal(t, "0", string(data))
}

func TestApply_Idempotent(t *testing.T) {
	fs := newRecordingFs()
	w := newTestWriter(t, fs, 8)

	w.Apply(context.Background(), 15)
	first := fs.attempts()
	firstReadings := w.Read()

	w.Apply(context.Background(), 15)
	all := fs.attempts()

	// Every path appears exactly twice after two identical batches.
	want := slices.Concat(first, first)
	slices.Sort(want)
	assert.Equal(t, want, all)
	assert.Equal(t, firstReadings, w.Read())
}

func TestApply_FailuresDoNotAffectSiblings(t *testing.T) {
	fs := newRecordingFs()
	w := newTestWriter(t, fs, 6)

	targets := expectedTargets(6)
	fs.failOpen[targets[1]] = os.ErrNotExist
	fs.failOpen[targets[4]] = os.ErrPermission
	fs.failWrite[targets[2]] = errors.New("invalid argument")

	w.Apply(context.Background(), 15)

	want := slices.Clone(targets)
	slices.Sort(want)
	assert.Equal(t, want, fs.attempts(), "failed targets are still attempted once")

	for i, path := range targets {
		data, err := afero.ReadFile(fs, path)
		switch i {
		case 1, 4:
			assert.Error(t, err, "open failure leaves %s untouched", path)
		case 2:
			require.NoError(t, err)
			assert.Empty(t, string(data), "failed write leaves %s truncated", path)
		default:
			require.NoError(t, err)
			assert.Equal(t, "15", string(data))
		}
	}
}

func TestApply_MixedWritableTargetsOnDisk(t *testing.T) {
	root := t.TempDir()
	tmpl := filepath.Join(root, "cpu%d", "energy_perf_bias")

	// Only even cores have a directory; odd cores behave like offline CPUs.
	for i := 0; i < 8; i += 2 {
		require.NoError(t, os.MkdirAll(filepath.Join(root, fmt.Sprintf("cpu%d", i)), 0o755))
	}

	w, err := New(Options{PathTemplate: tmpl, CoreCount: 8})
	require.NoError(t, err)

	w.Apply(context.Background(), 15)

	for i := 0; i < 8; i++ {
		data, err := os.ReadFile(fmt.Sprintf(tmpl, i))
		if i%2 == 1 {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, "15", string(data))
	}
}

func TestApply_ReadOnlyFilesystem(t *testing.T) {
	w := newTestWriter(t, afero.NewReadOnlyFs(afero.NewMemMapFs()), 4)

	assert.NotPanics(t, func() {
		w.Apply(context.Background(), 0)
	})
}

func TestApply_CancelledMidBatch(t *testing.T) {
	fs := newRecordingFs()
	fs.blockUntil = make(chan struct{})
	w := newTestWriter(t, fs, 4)

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		w.Apply(ctx, 15)
		close(returned)
	}()

	require.Eventually(t, func() bool { return len(fs.attempts()) == 4 },
		time.Second, 5*time.Millisecond, "all writes should be dispatched")

	cancel()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Apply did not return after cancellation")
	}

	// Abandoned writes still complete on their own.
	close(fs.blockUntil)
	require.Eventually(t, func() bool {
		for _, path := range expectedTargets(4) {
			data, err := afero.ReadFile(fs, path)
			if err != nil || string(data) != "15" {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newTestWriter(t, fs, 3)

	require.NoError(t, afero.WriteFile(fs, fmt.Sprintf(testTemplate, 0), []byte("6\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, fmt.Sprintf(testTemplate, 2), []byte("15"), 0o644))

	readings := w.Read()
	require.Len(t, readings, 3)

	assert.Equal(t, "6", readings[0].Value)
	assert.NoError(t, readings[0].Err)
	assert.Error(t, readings[1].Err)
	assert.Equal(t, "15", readings[2].Value)
	assert.Equal(t, fmt.Sprintf(testTemplate, 2), readings[2].Path)
}
