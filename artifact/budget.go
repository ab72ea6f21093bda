package artifact

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

// Location says where an artifact's bytes live.
type Location string

const (
	None     Location = "None"
	InMemory Location = "InMemory"
	OnDisk   Location = "OnDisk"
)

// SizeQueryAttempts is how many times a station is asked for its size before
// it counts as zero.
const SizeQueryAttempts = 3

// Unit scales a remote size reply to bytes.
type Unit int64

const (
	KB Unit = 1 << 10
	MB Unit = 1 << 20
)

// SizeQuery names a remote command that replies with a decimal size in Unit.
type SizeQuery struct {
	Command string
	Unit    Unit
}

var (
	DatabaseSize = SizeQuery{Command: remote.CmdGetSQLDBSize, Unit: MB}
	LogsSize     = SizeQuery{Command: remote.CmdGetZippedLogsSize, Unit: KB}
)

// Budgeter decides whether an assembled artifact may stay in memory.
type Budgeter struct {
	// Threshold in bytes. Totals above it spill to disk.
	Threshold int64
	Caller    remote.Caller
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Decide returns OnDisk when total exceeds the threshold, InMemory otherwise.
func (b Budgeter) Decide(total int64) Location {
	if total > b.Threshold {
		return OnDisk
	}
	return InMemory
}

// Measure fans the size queries out to every address and sums the replies in
// bytes. A station that fails all attempts contributes zero.
func (b Budgeter) Measure(ctx context.Context, addrs []remote.Address, queries ...SizeQuery) int64 {
	sizes := remote.Gather(ctx, addrs, func(ctx context.Context, addr remote.Address) int64 {
		var sum int64
		for _, q := range queries {
			sum = addSize(sum, b.querySize(ctx, addr, q))
		}
		return sum
	})

	var total int64
	for _, s := range sizes {
		total = addSize(total, s)
	}
	return total
}

func (b Budgeter) querySize(ctx context.Context, addr remote.Address, q SizeQuery) int64 {
	logger := b.logger()
	for attempt := 1; attempt <= SizeQueryAttempts; attempt++ {
		res := b.Caller.Call(ctx, addr, q.Command, b.Timeout)
		if res.Status == remote.StatusOk {
			v, err := strconv.ParseFloat(strings.TrimSpace(res.Text()), 64)
			if err == nil && !math.IsNaN(v) && v >= 0 {
				return bytesOf(v, q.Unit)
			}
			res.Detail = "unparseable size " + strconv.Quote(truncate(res.Text(), 32))
		}
		logger.Warn("size query failed",
			zap.String("address", addr.Key()),
			zap.String("command", q.Command),
			zap.Int("attempt", attempt),
			zap.String("detail", res.Detail))
	}
	return 0
}

// bytesOf converts a declared size to bytes, saturating at math.MaxInt64 so an
// oversized or infinite reply still reads as too large to hold in memory.
func bytesOf(v float64, unit Unit) int64 {
	n := v * float64(unit)
	if n >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

func addSize(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func (b Budgeter) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
