package svm

import "github.com/wyfcoding/mkl/kernel"

// columnCache 是核矩阵列的 FIFO 缓存，槽位满后按写入顺序淘汰。
type columnCache struct {
	k     kernel.Matrix
	cols  [][]float64
	owner []int       // 槽位当前保存的列号，-1 表示空
	slot  map[int]int // 列号到槽位
	next  int
	hits  int
	miss  int
}

func newColumnCache(k kernel.Matrix, size int) *columnCache {
	n := k.Size()
	size = max(2, min(size, n))
	c := &columnCache{
		k:     k,
		cols:  make([][]float64, size),
		owner: make([]int, size),
		slot:  make(map[int]int, size),
	}
	for i := range c.cols {
		c.cols[i] = make([]float64, n)
		c.owner[i] = -1
	}
	return c
}

// column 返回第 a 列，返回的切片在被淘汰前有效。
func (c *columnCache) column(a int) []float64 {
	if s, ok := c.slot[a]; ok {
		c.hits++
		return c.cols[s]
	}
	c.miss++

	s := c.next
	if old := c.owner[s]; old >= 0 {
		delete(c.slot, old)
	}
	c.owner[s] = a
	c.slot[a] = s
	c.next = (c.next + 1) % len(c.cols)

	col := c.cols[s]
	for i := range col {
		col[i] = c.k.Evaluate(i, a)
	}
	return col
}
