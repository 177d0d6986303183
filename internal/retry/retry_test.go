package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errFlaky = errors.New("flaky")
var errBroken = errors.New("broken")

func classify(err error) Class {
	if errors.Is(err, errBroken) {
		return Fatal
	}
	return Transient
}

type recordedSleeps struct {
	delays []time.Duration
}

func (s *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy(s *recordedSleeps) Policy {
	return Policy{
		MaxAttempts:  10,
		InitialDelay: 10 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   1.5,
		Classify:     classify,
		Sleep:        s.sleep,
	}
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	s := &recordedSleeps{}
	r := New(testPolicy(s), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls <= 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{10 * time.Second, 15 * time.Second, 22500 * time.Millisecond}, s.delays)
}

func TestRetrier_FatalStopsImmediately(t *testing.T) {
	s := &recordedSleeps{}
	r := New(testPolicy(s), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errBroken
	})

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, fatal.Attempt)
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.delays)
}

func TestRetrier_Exhausted(t *testing.T) {
	s := &recordedSleeps{}
	p := testPolicy(s)
	p.MaxAttempts = 4
	r := New(p, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 4, ex.Attempts)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
	assert.Len(t, s.delays, 3)
}

func TestRetrier_DelayCapped(t *testing.T) {
	r := New(testPolicy(&recordedSleeps{}), nil)
	assert.Equal(t, 10*time.Second, r.Delay(1))
	assert.Equal(t, 60*time.Second, r.Delay(20))
}

func TestRetrier_JitterStaysInBand(t *testing.T) {
	p := testPolicy(&recordedSleeps{})
	p.Jitter = true
	r := New(p, nil)
	for i := 0; i < 100; i++ {
		d := r.Delay(3)
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, time.Duration(float64(22500*time.Millisecond)*1.25))
	}
}

func TestRetrier_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, InitialDelay: time.Hour, Classify: classify}
	r := New(p, nil)

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsValue(t *testing.T) {
	r := New(Policy{MaxAttempts: 3, Sleep: (&recordedSleeps{}).sleep}, nil)
	n := 0
	v, err := Do(context.Background(), r, func(context.Context) (string, error) {
		n++
		if n == 1 {
			return "", errFlaky
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestNew_Defaults(t *testing.T) {
	r := New(Policy{}, nil)
	p := r.Policy()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 1.0, p.Multiplier)
	assert.NotNil(t, p.Classify)
	assert.NotNil(t, p.Sleep)
}
