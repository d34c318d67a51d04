package guardian

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSampler struct {
	readings []uint64
	i        int
	err      error
}

func (f *fakeSampler) RSS() (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	r := f.readings[f.i]
	if f.i < len(f.readings)-1 {
		f.i++
	}
	return r, nil
}

type fakeRestarter struct {
	calls int
	err   error
}

func (f *fakeRestarter) Reinitialize(ctx context.Context) error {
	f.calls++
	return f.err
}

const mb = 1 << 20

func TestCheckBelowCeilingDoesNothing(t *testing.T) {
	r := &fakeRestarter{}
	g := New(Options{
		Sampler:      &fakeSampler{readings: []uint64{500 * mb}},
		Restarter:    r,
		CeilingBytes: 1536 * mb,
		Log:          zap.NewNop(),
	})
	g.Check(context.Background())
	assert.Zero(t, r.calls)
}

func TestBreachRecoveredByCleanupSkipsRestart(t *testing.T) {
	r := &fakeRestarter{}
	cleaned := false
	g := New(Options{
		Sampler:      &fakeSampler{readings: []uint64{2000 * mb, 800 * mb}},
		Restarter:    r,
		CeilingBytes: 1536 * mb,
		Cleanups:     []func(){func() { cleaned = true }},
		Log:          zap.NewNop(),
	})
	g.Check(context.Background())
	assert.True(t, cleaned)
	assert.Zero(t, r.calls)
}

func TestPersistentBreachRestartsOnce(t *testing.T) {
	r := &fakeRestarter{}
	g := New(Options{
		Sampler:      &fakeSampler{readings: []uint64{2000 * mb, 1900 * mb}},
		Restarter:    r,
		CeilingBytes: 1536 * mb,
		Log:          zap.NewNop(),
	})
	g.Check(context.Background())
	assert.Equal(t, 1, r.calls)
}

func TestSampleErrorIsTolerated(t *testing.T) {
	r := &fakeRestarter{}
	g := New(Options{
		Sampler:      &fakeSampler{err: errors.New("proc gone")},
		Restarter:    r,
		CeilingBytes: 1536 * mb,
		Log:          zap.NewNop(),
	})
	g.Check(context.Background())
	assert.Zero(t, r.calls)
}

func TestRestartErrorDoesNotPanic(t *testing.T) {
	r := &fakeRestarter{err: errors.New("chrome refused")}
	g := New(Options{
		Sampler:      &fakeSampler{readings: []uint64{2000 * mb}},
		Restarter:    r,
		CeilingBytes: 1536 * mb,
		Log:          zap.NewNop(),
	})
	g.Check(context.Background())
	assert.Equal(t, 1, r.calls)
}

func TestDefaults(t *testing.T) {
	g := New(Options{Log: zap.NewNop()})
	assert.NotNil(t, g.sampler)
	assert.NotNil(t, g.sessionMu)
	assert.Equal(t, uint64(1536*mb), g.ceiling)
}
