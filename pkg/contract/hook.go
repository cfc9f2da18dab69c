package contract

// LogitsProcessor: 挂在外部解码循环上的逐步回调。
// 约束：
//  1. 每个解码步调用一次，history 为到目前为止的 token 序列；
//  2. 必须原样返回 scores（同一切片、值不变），不得影响采样结果；
//  3. 同步执行，不做 I/O，不阻塞。
type LogitsProcessor interface {
	Process(history []TokenID, scores []float32) []float32
}
