package replay

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tokenscope/internal/diag"
	"tokenscope/internal/estimator"
	"tokenscope/pkg/contract"
)

// RunAll 以最多 concurrency 个 goroutine 并发重放多个 fixture（同一 Estimator 共享）。
//   - 结果按输入顺序返回；
//   - 首错取消：任一 fixture 分析失败即取消其余，返回该错误（附带下标）；
//   - concurrency<=0 视为 1。
func RunAll(ctx context.Context, est *estimator.Estimator, fxs []Fixture, concurrency int) ([]contract.GenerationResult, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make([]contract.GenerationResult, len(fxs))
	if len(fxs) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range fxs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := Run(gctx, est, fxs[i])
			if err != nil {
				return fmt.Errorf("fixture %d: %w", i, err)
			}
			out[i] = res
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		diag.IncOp("replay", "error", "error")
		return nil, err
	}
	diag.IncOp("replay", "finish", "success")
	return out, nil
}
