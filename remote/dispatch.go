package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SortAddresses returns a copy of addrs ordered by Key.
func SortAddresses(addrs []Address) []Address {
	sorted := make([]Address, len(addrs))
	copy(sorted, addrs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key() < sorted[j].Key()
	})
	return sorted
}

// Gather runs fn once per address, all concurrently, and waits for every call
// to return. The output is ordered by address key regardless of completion
// order. A panicking fn leaves the zero value in its slot and the panic is
// logged on the global zap logger.
func Gather[T any](ctx context.Context, addrs []Address, fn func(context.Context, Address) T) []T {
	sorted := SortAddresses(addrs)
	out := make([]T, len(sorted))

	var wg sync.WaitGroup
	for i, addr := range sorted {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					zap.L().Error("station call panicked",
						zap.String("address", addr.Key()),
						zap.Any("panic", r))
				}
			}()
			out[i] = fn(ctx, addr)
		}()
	}
	wg.Wait()

	return out
}

// Dispatch sends the same GET command to every address and returns one
// Result per address, sorted.
func Dispatch(ctx context.Context, c Caller, addrs []Address, command string, timeout time.Duration) []Result {
	return Gather(ctx, addrs, func(ctx context.Context, addr Address) (res Result) {
		defer recoverInto(&res, addr, command)
		return c.Call(ctx, addr, command, timeout)
	})
}

// CheckStatus times CheckOnlineStatus on every station and, for the ones that
// answer, asks for the hostname.
func CheckStatus(ctx context.Context, c Caller, addrs []Address, timeout time.Duration) []Result {
	return Gather(ctx, addrs, func(ctx context.Context, addr Address) (res Result) {
		defer recoverInto(&res, addr, CmdCheckOnlineStatus)
		return Probe(ctx, c, addr, timeout)
	})
}

// Probe checks one station. A station that answers anything other than the
// online reply is an Error; an unreachable one is Offline with hostname "Offline".
func Probe(ctx context.Context, c Caller, addr Address, timeout time.Duration) Result {
	res := c.Call(ctx, addr, CmdCheckOnlineStatus, timeout)
	if res.Status == StatusOk && strings.TrimSpace(res.Text()) != OnlineReply {
		res.Status = StatusError
		res.Detail = fmt.Sprintf("unexpected status reply %q", truncate(res.Text(), 64))
		res.Elapsed = 0
	}
	res.Payload = nil
	if res.Status != StatusOk {
		res.Hostname = string(StatusOffline)
		return res
	}

	if host := c.Call(ctx, addr, CmdGetHostName, timeout); host.Status == StatusOk {
		res.Hostname = strings.TrimSpace(host.Text())
	}
	return res
}

// Push sends the same POST command with form to every address.
func Push(ctx context.Context, c Caller, addrs []Address, command string, form map[string][]string, timeout time.Duration) []Result {
	return Gather(ctx, addrs, func(ctx context.Context, addr Address) (res Result) {
		defer recoverInto(&res, addr, command)
		return c.Send(ctx, addr, command, form, timeout)
	})
}

func recoverInto(res *Result, addr Address, command string) {
	if r := recover(); r != nil {
		*res = Result{
			Address: addr,
			Command: command,
			Status:  StatusError,
			Detail:  fmt.Sprintf("panic: %v", r),
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
