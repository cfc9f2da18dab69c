package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"tokenscope/pkg/contract"
)

// LimitKey: 限流分组键（provider + 凭据摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限（含输入+预期输出），0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token （>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
// 每个维度是一个按分钟额度匀速回填、容量等于额度的令牌桶。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req *xrate.Limiter // RPM 维度；nil 表示关闭
	tok *xrate.Limiter // TPM 维度；nil 表示关闭
}

func perMinute(n int) *xrate.Limiter {
	if n <= 0 {
		return nil
	}
	return xrate.NewLimiter(xrate.Limit(float64(n)/60.0), n)
}

func newEntry(lim Limits) *entry {
	return &entry{lim: lim, req: perMinute(lim.RPM), tok: perMinute(lim.TPM)}
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{})
		g.m[key] = e
	}
	return e
}

func (e *entry) validate(a Ask) error {
	if a.Requests <= 0 || a.Tokens < 0 {
		return contract.ErrInvalidInput
	}
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return contract.ErrInvalidInput
	}
	// 超过桶容量的申请永远无法满足
	if e.req != nil && a.Requests > e.req.Burst() {
		return contract.ErrInvalidInput
	}
	if e.tok != nil && a.Tokens > e.tok.Burst() {
		return contract.ErrInvalidInput
	}
	return nil
}

// reserve 在两个维度上同时预约，返回需等待的时长与撤销函数。
func (e *entry) reserve(now time.Time, a Ask) (time.Duration, func()) {
	var rs []*xrate.Reservation
	var wait time.Duration
	if e.req != nil {
		r := e.req.ReserveN(now, a.Requests)
		rs = append(rs, r)
		if d := r.DelayFrom(now); d > wait {
			wait = d
		}
	}
	if e.tok != nil && a.Tokens > 0 {
		r := e.tok.ReserveN(now, a.Tokens)
		rs = append(rs, r)
		if d := r.DelayFrom(now); d > wait {
			wait = d
		}
	}
	cancel := func() {
		for _, r := range rs {
			r.CancelAt(now)
		}
	}
	return wait, cancel
}

func (g *gate) Try(a Ask) bool {
	e := g.get(a.Key)
	if e.validate(a) != nil {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	wait, cancel := e.reserve(now, a)
	if wait > 0 {
		cancel()
		return false
	}
	return true
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e := g.get(a.Key)
	if err := e.validate(a); err != nil {
		return err
	}
	// 快速取消
	if err := ctx.Err(); err != nil {
		return err
	}
	now := g.clk()
	e.mu.Lock()
	wait, cancel := e.reserve(now, a)
	e.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok && now.Add(wait).After(dl) {
		e.mu.Lock()
		cancel()
		e.mu.Unlock()
		return context.DeadlineExceeded
	}
	if err := sleepCtx(ctx, wait); err != nil {
		e.mu.Lock()
		cancel()
		e.mu.Unlock()
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot: 返回当前可用请求/令牌的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	clamp := func(l *xrate.Limiter) int {
		v := l.TokensAt(now)
		if v < 0 {
			return 0
		}
		return int(v)
	}
	if e.req != nil {
		rpmAvail = clamp(e.req)
	}
	if e.tok != nil {
		tpmAvail = clamp(e.tok)
	}
	return
}

// 接口断言（可选）。
var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
