package stock

import "context"

// HistoryCursor 惰性、可重启的流水游标
//
// 创建时固定上界（当时的最大流水ID），之后写入的流水不可见；
// 按页从仓储拉取，Reset后从头再读一遍得到相同序列
//
//	cur, err := ledger.History(ctx, productID)
//	for cur.Next(ctx) {
//	    e := cur.Entry()
//	}
//	if err := cur.Err(); err != nil { ... }
type HistoryCursor struct {
	reader    EntryReader
	productID uint
	upTo      uint
	pageSize  int

	afterID uint
	page    []*MutationEntry
	idx     int
	current *MutationEntry
	done    bool
	err     error
}

// NewHistoryCursor 创建游标，upTo为0表示没有任何流水
func NewHistoryCursor(reader EntryReader, productID, upTo uint, pageSize int) *HistoryCursor {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &HistoryCursor{
		reader:    reader,
		productID: productID,
		upTo:      upTo,
		pageSize:  pageSize,
		done:      upTo == 0,
	}
}

// Next 前进到下一条，没有更多或出错时返回false
func (c *HistoryCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.idx >= len(c.page) {
		if c.done {
			c.current = nil
			return false
		}
		page, err := c.reader.ListEntries(ctx, c.productID, c.afterID, c.upTo, c.pageSize)
		if err != nil {
			c.err = err
			return false
		}
		c.page, c.idx = page, 0
		if len(page) < c.pageSize {
			c.done = true
		}
		if len(page) == 0 {
			c.current = nil
			return false
		}
		c.afterID = page[len(page)-1].ID
	}
	c.current = c.page[c.idx]
	c.idx++
	return true
}

// Entry 当前流水
func (c *HistoryCursor) Entry() *MutationEntry {
	return c.current
}

// Err 读取过程中的错误
func (c *HistoryCursor) Err() error {
	return c.err
}

// Reset 回到起点，上界不变
func (c *HistoryCursor) Reset() {
	c.afterID = 0
	c.page = nil
	c.idx = 0
	c.current = nil
	c.done = c.upTo == 0
	c.err = nil
}

// UpTo 游标可见的最大流水ID
func (c *HistoryCursor) UpTo() uint {
	return c.upTo
}

// Collect 读取剩余全部流水
func (c *HistoryCursor) Collect(ctx context.Context) ([]*MutationEntry, error) {
	var out []*MutationEntry
	for c.Next(ctx) {
		out = append(out, c.Entry())
	}
	return out, c.Err()
}
