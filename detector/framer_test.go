package detector

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestFramer(t *testing.T, opts ...ConnOption) *Framer {
	t.Helper()

	cfg, err := NewConnectionConfig("127.0.0.1", 5000, opts...)
	require.NoError(t, err)

	return NewFramer(cfg)
}

func echo(cmd, text string) Line { return Line{Text: text, Echo: true, Command: cmd} }

func cont(cmd, text string) Line { return Line{Text: text, Command: cmd} }

func TestFramer_EchoAndContinuation(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	lines := f.Feed([]byte("detector_init 1\r\nok\r\n"))
	require.Equal([]Line{
		echo("detector_init", "detector_init 1"),
		cont("detector_init", "ok"),
	}, lines)
	require.Equal("detector_init", f.Command())
	require.Empty(f.Pending())
}

func TestFramer_PartialLineRetained(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	require.Empty(f.Feed([]byte("detec")))
	require.Equal("detec", f.Pending())

	lines := f.Feed([]byte("tor_init\nstat"))
	require.Equal([]Line{echo("detector_init", "detector_init")}, lines)
	require.Equal("stat", f.Pending())
}

func TestFramer_IdleFlushExactlyOnce(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	require.Empty(f.Feed([]byte("prompt>")))
	require.Empty(f.Expire(100 * time.Millisecond))
	require.Empty(f.Expire(500 * time.Millisecond))

	lines := f.Expire(600 * time.Millisecond)
	require.Equal([]Line{echo("prompt>", "prompt>")}, lines)
	require.Empty(f.Pending())

	require.Empty(f.Expire(900 * time.Millisecond))
	require.Empty(f.Expire(5 * time.Second))
}

func TestFramer_NextEchoClosesFrame(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	f.Feed([]byte("detector_init\nok\n"))
	lines := f.Feed([]byte("detector_start\nstarted\n"))
	require.Equal([]Line{
		echo("detector_start", "detector_start"),
		cont("detector_start", "started"),
	}, lines)
}

func TestFramer_SameLeadingTokenContinues(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	f.Feed([]byte("detector_init\nok\n"))
	lines := f.Feed([]byte("detector_init done\n"))
	require.Equal([]Line{cont("detector_init", "detector_init done")}, lines)
}

func TestFramer_IdleClosesFrame(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	f.Feed([]byte("detector_init\nok\n"))
	require.Empty(f.Expire(600 * time.Millisecond))
	require.Empty(f.Command())

	lines := f.Feed([]byte("detector_init\n"))
	require.Equal([]Line{echo("detector_init", "detector_init")}, lines)
}

func TestFramer_BlankFirstLineIsContinuation(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	f.Feed([]byte("get_img_handle_status\n"))
	lines := f.Feed([]byte("\nrecv:0\n"))
	require.Equal([]Line{cont("get_img_handle_status", "recv:0")}, lines)
}

func TestFramer_BlankFirstLineWithoutOpenFrame(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	lines := f.Feed([]byte("\n\nhello world\nbye\n"))
	require.Equal([]Line{
		echo("hello", "hello world"),
		cont("hello", "bye"),
	}, lines)
}

func TestFramer_WideSupplement(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	lines := f.Feed([]byte("get_pcie_status\nlink:1\n"))
	require.Equal([]Line{
		echo("get_pcie_status", "get_pcie_status"),
		cont("get_pcie_status", "link:1"),
	}, lines)
	require.True(f.AwaitingSupplement())

	// supplementary data never opens a frame
	lines = f.Supplement([]byte("get_pcie_status tail\nspeed:8"))
	require.Equal([]Line{cont("get_pcie_status", "get_pcie_status tail")}, lines)

	lines = f.Finalize()
	require.Equal([]Line{cont("get_pcie_status", "speed:8")}, lines)
	require.False(f.AwaitingSupplement())
	require.Empty(f.Command())
}

func TestFramer_NormalCommandIsNotWide(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	f.Feed([]byte("detector_init\nok\n"))
	require.False(f.AwaitingSupplement())

	f = newTestFramer(t, WithWideCommands("detector_init"))
	f.Feed([]byte("detector_init\nok\n"))
	require.True(f.AwaitingSupplement())
}

func TestFramer_AggregateUntilMarker(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	lines := f.Feed([]byte("detector_temp\nboard_temp:30\n"))
	require.Equal([]Line{echo("detector_temp", "detector_temp")}, lines)

	lines = f.Feed([]byte("fpga_temp:40\nhigh_board_temp:45\n"))
	require.Equal([]Line{
		cont("detector_temp", "board_temp:30 fpga_temp:40 high_board_temp:45"),
	}, lines)

	require.Empty(f.Finalize())
}

func TestFramer_AggregateLengthLimit(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t, WithAggregate("detector_temp", "high_board_temp", 20))

	lines := f.Feed([]byte("detector_temp\naaaaaaaaaa\nbbbbbbbbbb\ncc\n"))
	require.Equal([]Line{
		echo("detector_temp", "detector_temp"),
		cont("detector_temp", "aaaaaaaaaa bbbbbbbbbb"),
		cont("detector_temp", "cc"),
	}, lines)
}

func TestFramer_AggregateFlushedOnClose(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	f.Feed([]byte("detector_temp\nboard_temp:30\n"))
	lines := f.Finalize()
	require.Equal([]Line{cont("detector_temp", "board_temp:30")}, lines)

	// an idle gap closes an aggregating frame before the next echo arrives
	f.Feed([]byte("detector_temp\nboard_temp:31\n"))
	lines = f.Expire(time.Second)
	require.Equal([]Line{cont("detector_temp", "board_temp:31")}, lines)

	lines = f.Feed([]byte("detector_init\n"))
	require.Equal([]Line{echo("detector_init", "detector_init")}, lines)
}

func TestFramer_AggregationSwallowsLinesUntilDone(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	f.Feed([]byte("detector_temp\nboard_temp:31\n"))
	require.Empty(f.Feed([]byte("detector_init\n")))
	require.Equal("detector_temp", f.Command())
}

func TestFramer_AggregateDisabled(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t, WithAggregate("", "", 0))

	lines := f.Feed([]byte("detector_temp\nboard_temp:30\n"))
	require.Equal([]Line{
		echo("detector_temp", "detector_temp"),
		cont("detector_temp", "board_temp:30"),
	}, lines)
}

func TestFramer_OversizedPartialFlushed(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t, WithMaxPartialSize(16))

	require.Empty(f.Feed([]byte(strings.Repeat("x", 16))))

	lines := f.Feed([]byte("y"))
	require.Equal([]Line{echo(strings.Repeat("x", 16)+"y", strings.Repeat("x", 16)+"y")}, lines)
	require.Empty(f.Pending())
}

func TestFramer_InvalidUTF8Dropped(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	lines := f.Feed([]byte("detector_\xffinit\n"))
	require.Equal([]Line{echo("detector_init", "detector_init")}, lines)
}

func TestFramer_WideIdleThreshold(t *testing.T) {
	require := require.New(t)
	opts := []ConnOption{
		WithIdleTimeout(100 * time.Millisecond),
		WithWideIdleTimeout(300 * time.Millisecond),
	}

	f := newTestFramer(t, opts...)
	f.Feed([]byte("detector_info\npartial"))
	require.Empty(f.Expire(200 * time.Millisecond))
	require.Equal([]Line{echo("partial", "partial")}, f.Expire(350*time.Millisecond))

	f = newTestFramer(t, opts...)
	f.Feed([]byte("detector_init\npartial"))
	require.Equal([]Line{echo("partial", "partial")}, f.Expire(200*time.Millisecond))
}

func TestLeadingToken(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"detector_init", "detector_init"},
		{"detector_set_das_param 0 2 0", "detector_set_das_param"},
		{"", ""},
		{"a b", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			require.Equal(t, tt.want, leadingToken(tt.text))
		})
	}
}

func TestFramer_DiscardDropsInFlightFrame(t *testing.T) {
	require := require.New(t)
	f := newTestFramer(t)

	lines := f.Feed([]byte("detector_temp\nboard_temp:35\nhalf"))
	require.Len(lines, 1)
	require.True(f.aggregating)

	f.discard()
	require.Empty(f.Pending())
	require.Empty(f.Command())
	require.Nil(f.Finalize())
	require.Nil(f.Expire(time.Hour))
}
