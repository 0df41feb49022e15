package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/thermal.capture/internal/link"
	"github.com/banshee-data/thermal.capture/internal/radiometry"
	"github.com/banshee-data/thermal.capture/internal/sensor"
	"github.com/banshee-data/thermal.capture/internal/simulator"
	"github.com/banshee-data/thermal.capture/internal/timeutil"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

type rig struct {
	asm    *vospi.Assembler
	rx     *vospi.Receiver
	syncer *vospi.Synchronizer
	cap    *Capturer
}

// newRig wires a capturer to src. The quiet interval elapses instantly; the
// capture timeout runs on real time.
func newRig(t *testing.T, src link.Port, g vospi.Geometry, settings DecodeSettings, config Config) *rig {
	t.Helper()
	asm := vospi.NewAssembler(vospi.AssemblerConfig{Geometry: g, VerifyCRC: true})
	rx := vospi.NewReceiver(src, asm)

	quiet := timeutil.NewMockClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	quiet.SetAutoAdvance(true)
	syncer := vospi.NewSynchronizer(rx, asm, vospi.SynchronizerConfig{Clock: quiet})

	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}
	c := New(rx, asm, syncer, settings, config)

	ctx, cancel := context.WithCancel(context.Background())
	go rx.Run(ctx)
	t.Cleanup(func() {
		cancel()
		src.Close()
		<-rx.Done()
	})
	return &rig{asm: asm, rx: rx, syncer: syncer, cap: c}
}

func newSimRig(t *testing.T, g vospi.Geometry, settings DecodeSettings) (*rig, *simulator.Stream) {
	t.Helper()
	s, err := simulator.NewStream(simulator.StreamConfig{Geometry: g})
	require.NoError(t, err)
	return newRig(t, s, g, settings, Config{}), s
}

var gray = Static{Format: radiometry.FormatGrayscale}

func TestAcquireFrame_FirstCaptureResyncs(t *testing.T) {
	for _, g := range []vospi.Geometry{vospi.GeometrySingleSegment, vospi.GeometryFourSegment} {
		t.Run(g.String(), func(t *testing.T) {
			r, _ := newSimRig(t, g, gray)

			f, err := r.cap.AcquireFrame(context.Background())
			require.NoError(t, err)
			assert.Equal(t, g, f.Geometry)
			assert.Equal(t, g.Samples(), f.Len())
			assert.Equal(t, uint64(1), r.syncer.Resyncs())
			assert.Equal(t, uint64(1), r.cap.Stats().Frames)
			assert.False(t, r.cap.Stats().Last.IsZero())

			// the second capture needs no resync
			_, err = r.cap.AcquireFrame(context.Background())
			require.NoError(t, err)
			assert.Equal(t, uint64(1), r.syncer.Resyncs())
		})
	}
}

func TestAcquireFrame_ReturnsOwnedCopy(t *testing.T) {
	r, _ := newSimRig(t, vospi.GeometrySingleSegment, gray)

	first, err := r.cap.AcquireFrame(context.Background())
	require.NoError(t, err)
	keep := append([]byte(nil), first.Raw...)

	_, err = r.cap.AcquireFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, keep, first.Raw, "next capture overwrote a returned frame")
}

func TestAcquireFrame_RecoversFromLostPacket(t *testing.T) {
	r, s := newSimRig(t, vospi.GeometrySingleSegment, gray)
	s.DropPacket(10)

	_, err := r.cap.AcquireFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Stats().Dropped)
	assert.Equal(t, uint64(1), r.asm.Stats().SyncLosses)
	assert.Equal(t, uint64(2), r.cap.Stats().Resyncs)
}

func TestAcquireFrame_RecoversFromMisalignedStream(t *testing.T) {
	r, s := newSimRig(t, vospi.GeometryFourSegment, gray)
	s.Misalign(50)

	_, err := r.cap.AcquireFrame(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r.cap.Stats().Resyncs, uint64(1))
}

func TestSnapshot_DecodesWithSettings(t *testing.T) {
	settings := Static{Format: radiometry.FormatRGB565, HMirror: true}
	r, _ := newSimRig(t, vospi.GeometrySingleSegment, settings)

	img, frame, err := r.cap.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 80, img.Width)
	assert.Equal(t, 60, img.Height)
	assert.Len(t, img.Pix, 80*60*2)

	want, err := radiometry.Decode(frame, radiometry.Options(settings))
	require.NoError(t, err)
	assert.Equal(t, want.Pix, img.Pix)
}

func TestAcquireFrame_NotConfigured(t *testing.T) {
	t.Run("no geometry", func(t *testing.T) {
		r := newRig(t, link.NewTestablePort(), vospi.Geometry{}, gray, Config{})
		_, err := r.cap.AcquireFrame(context.Background())
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
	t.Run("no pixel format", func(t *testing.T) {
		r := newRig(t, link.NewTestablePort(), vospi.GeometrySingleSegment, Static{}, Config{})
		_, err := r.cap.AcquireFrame(context.Background())
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
	t.Run("no settings", func(t *testing.T) {
		r := newRig(t, link.NewTestablePort(), vospi.GeometrySingleSegment, nil, Config{})
		_, _, err := r.cap.Snapshot(context.Background())
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestAcquireFrame_SensorWithoutFormat(t *testing.T) {
	g := vospi.GeometrySingleSegment
	r := newRig(t, link.NewTestablePort(), vospi.Geometry{}, nil, Config{})
	lepton := sensor.NewLepton(sensor.Config{Control: simulator.NewControl(g, 0, 0), Assembler: r.asm})
	require.NoError(t, lepton.Reset(context.Background()))
	r.cap.settings = lepton

	_, err := r.cap.AcquireFrame(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	require.NoError(t, lepton.SetPixFormat(radiometry.FormatGrayscale))
	assert.True(t, r.cap.Configured())
}

func TestAcquireFrame_Busy(t *testing.T) {
	r := newRig(t, link.NewTestablePort(), vospi.GeometrySingleSegment, gray, Config{})
	r.cap.busy.Lock()
	defer r.cap.busy.Unlock()

	_, err := r.cap.AcquireFrame(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, r.cap.Resync(context.Background()), ErrBusy)
}

func TestAcquireFrame_ConcurrentCallsOneBusy(t *testing.T) {
	// no data arrives, so the first caller holds the capture until timeout
	r := newRig(t, link.NewTestablePort(), vospi.GeometrySingleSegment, gray, Config{Timeout: 200 * time.Millisecond})
	r.asm.ResetSync()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	started := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		_, errs[0] = r.cap.AcquireFrame(context.Background())
	}()
	<-started
	require.Eventually(t, func() bool { return r.rx.Armed() }, time.Second, time.Millisecond)
	_, errs[1] = r.cap.AcquireFrame(context.Background())
	wg.Wait()

	assert.ErrorIs(t, errs[0], ErrCaptureTimeout)
	assert.ErrorIs(t, errs[1], ErrBusy)
}

func TestAcquireFrame_Timeout(t *testing.T) {
	r := newRig(t, link.NewTestablePort(), vospi.GeometrySingleSegment, gray, Config{Timeout: 20 * time.Millisecond})
	r.asm.ResetSync()

	_, err := r.cap.AcquireFrame(context.Background())
	assert.ErrorIs(t, err, ErrCaptureTimeout)
	assert.Equal(t, uint64(1), r.cap.Stats().Timeouts)
	assert.True(t, r.syncer.Pending(), "a timed out capture must leave a resync pending")
}

func TestAcquireFrame_ResyncsAfterTimeout(t *testing.T) {
	port := link.NewTestablePort()
	r := newRig(t, port, vospi.GeometrySingleSegment, gray, Config{Timeout: 50 * time.Millisecond})
	r.asm.ResetSync()

	// half a packet leaves the link misaligned when the capture gives up
	port.AddReadData(sensorFrame(vospi.GeometrySingleSegment)[0][:70])
	_, err := r.cap.AcquireFrame(context.Background())
	require.ErrorIs(t, err, ErrCaptureTimeout)
	require.Zero(t, r.syncer.Resyncs())

	r.cap.timeout = 2 * time.Second
	done := make(chan error, 1)
	go func() {
		_, err := r.cap.AcquireFrame(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return r.syncer.Resyncs() == 1 && r.rx.Armed() }, time.Second, time.Millisecond)
	for _, p := range sensorFrame(vospi.GeometrySingleSegment) {
		port.AddReadData(p)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("capture after timeout did not complete")
	}
	assert.Zero(t, r.asm.Stats().SyncLosses)
}

func TestAcquireFrame_TimeoutOnMockClock(t *testing.T) {
	port := link.NewTestablePort()
	asm := vospi.NewAssembler(vospi.AssemblerConfig{Geometry: vospi.GeometrySingleSegment})
	asm.ResetSync()
	rx := vospi.NewReceiver(port, asm)
	clock := timeutil.NewMockClock(time.Time{})
	c := New(rx, asm, vospi.NewSynchronizer(rx, asm, vospi.SynchronizerConfig{Clock: clock}), gray, Config{Timeout: 3 * time.Second, Clock: clock})

	errc := make(chan error, 1)
	go func() {
		_, err := c.AcquireFrame(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(clock.Timers()) == 1 }, time.Second, time.Millisecond)
	clock.Advance(3 * time.Second)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrCaptureTimeout)
	case <-time.After(time.Second):
		t.Fatal("capture did not time out")
	}
	assert.True(t, asm.Resyncing())
}

// sensorFrame returns one frame's packets in wire order; sample (row, col)
// is row<<8 | col.
func sensorFrame(g vospi.Geometry) [][]byte {
	out := make([][]byte, 0, g.PacketsPerFrame())
	samples := make([]uint16, vospi.LinePixels)
	for i := 0; i < g.PacketsPerFrame(); i++ {
		for col := range samples {
			samples[col] = uint16(i)<<8 | uint16(col)
		}
		var seg uint8
		if g.PacketsPerFrame() > vospi.SegmentRows && i%vospi.SegmentRows == vospi.SpecialPacket {
			seg = uint8(i/vospi.SegmentRows + 1)
		}
		pkt := make([]byte, vospi.PacketSize)
		vospi.EncodePacket(pkt, uint16(i%vospi.SegmentRows), seg, samples)
		out = append(out, pkt)
	}
	return out
}

// A live link keeps the reader blocked in Read through the quiet interval;
// the frame that follows the resync must be captured whole.
func TestAcquireFrame_ReadParkedAcrossResync(t *testing.T) {
	for _, g := range []vospi.Geometry{vospi.GeometrySingleSegment, vospi.GeometryFourSegment} {
		t.Run(g.String(), func(t *testing.T) {
			port := link.NewTestablePort()
			r := newRig(t, port, g, gray, Config{})
			r.asm.ResetSync()
			r.rx.Arm()
			time.Sleep(20 * time.Millisecond) // reader parked in Read
			r.asm.RequestResync()

			type result struct {
				frame vospi.Frame
				err   error
			}
			done := make(chan result, 1)
			go func() {
				f, err := r.cap.AcquireFrame(context.Background())
				done <- result{f, err}
			}()
			require.Eventually(t, func() bool { return r.syncer.Resyncs() == 1 && r.rx.Armed() }, time.Second, time.Millisecond)
			for _, p := range sensorFrame(g) {
				port.AddReadData(p)
			}

			select {
			case res := <-done:
				require.NoError(t, res.err)
				assert.Equal(t, uint16(5<<8|3), res.frame.Sample(5*vospi.LinePixels+3))
			case <-time.After(2 * time.Second):
				t.Fatal("frame after resync never completed")
			}
			assert.Zero(t, r.rx.Stats().Partials)
			assert.Equal(t, uint64(1), r.syncer.Resyncs())
		})
	}
}

// lossyReader replays packets 0, 1, 3 forever so every fill loses sync.
type lossyReader struct {
	i int
}

func (l *lossyReader) Read(b []byte) (int, error) {
	pids := []uint16{0, 1, 3}
	pkt := make([]byte, vospi.PacketSize)
	vospi.EncodePacket(pkt, pids[l.i%len(pids)], 0, nil)
	l.i++
	return copy(b, pkt), nil
}

func (l *lossyReader) Write(b []byte) (int, error) { return len(b), nil }
func (l *lossyReader) Close() error { return nil }

func TestAcquireFrame_ResyncBudget(t *testing.T) {
	r := newRig(t, &lossyReader{}, vospi.GeometrySingleSegment, gray, Config{MaxResyncs: 3})

	_, err := r.cap.AcquireFrame(context.Background())
	require.ErrorIs(t, err, ErrCaptureTimeout)
	assert.Contains(t, err.Error(), "sync lost 3 times")
	assert.Equal(t, uint64(3), r.syncer.Resyncs())
	assert.True(t, r.syncer.Pending())
}

func TestAcquireFrame_ContextCancelled(t *testing.T) {
	r := newRig(t, link.NewTestablePort(), vospi.GeometrySingleSegment, gray, Config{})
	r.asm.ResetSync()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.cap.AcquireFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireFrame_ReceiverStopped(t *testing.T) {
	port := link.NewTestablePort()
	r := newRig(t, port, vospi.GeometrySingleSegment, gray, Config{})
	r.asm.ResetSync()
	r.rx.Arm()
	port.Close()
	<-r.rx.Done()

	_, err := r.cap.AcquireFrame(context.Background())
	assert.ErrorIs(t, err, link.ErrPortClosed)
}

func TestResync_OnDemand(t *testing.T) {
	r, _ := newSimRig(t, vospi.GeometrySingleSegment, gray)
	_, err := r.cap.AcquireFrame(context.Background())
	require.NoError(t, err)

	require.NoError(t, r.cap.Resync(context.Background()))
	assert.Equal(t, uint64(2), r.syncer.Resyncs())
	assert.False(t, r.syncer.Pending())
	assert.True(t, r.rx.Armed())
}

func TestNew_Defaults(t *testing.T) {
	c := New(nil, nil, nil, nil, Config{})
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, DefaultMaxResyncs, c.maxResyncs)
	assert.IsType(t, timeutil.RealClock{}, c.clock)
}

func TestCapturer_Accessors(t *testing.T) {
	r, _ := newSimRig(t, vospi.GeometrySingleSegment, gray)
	_, err := r.cap.AcquireFrame(context.Background())
	require.NoError(t, err)

	rxStats, asmStats := r.cap.LinkStats()
	assert.NotZero(t, rxStats.Packets)
	assert.Equal(t, uint64(1), asmStats.Frames)
	assert.Equal(t, vospi.GeometrySingleSegment, r.cap.Geometry())
	assert.Equal(t, radiometry.FormatGrayscale, r.cap.DecodeOptions().Format)

	bare := New(r.rx, r.asm, r.syncer, nil, Config{})
	assert.Equal(t, radiometry.FormatInvalid, bare.DecodeOptions().Format)
}
