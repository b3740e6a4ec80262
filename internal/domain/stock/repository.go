package stock

import "context"

// Reader 只读访问（告警、报表使用）
type Reader interface {
	// FindByProductID 读取已提交的库存记录
	FindByProductID(ctx context.Context, productID uint) (*Record, error)

	// ProductIDs 全部有库存记录的商品ID（升序）
	ProductIDs(ctx context.Context) ([]uint, error)
}

// EntryReader 流水只读访问
type EntryReader interface {
	// LatestEntryID 商品当前最大流水ID，没有流水返回0
	LatestEntryID(ctx context.Context, productID uint) (uint, error)

	// ListEntries 按ID升序返回 afterID < id <= upToID 的流水，最多limit条
	ListEntries(ctx context.Context, productID uint, afterID, upToID uint, limit int) ([]*MutationEntry, error)

	// ListEntriesByOrderRef 查询订单关联的全部流水（按ID升序）
	ListEntriesByOrderRef(ctx context.Context, orderRef string) ([]*MutationEntry, error)
}

// Repository 库存仓储接口（领域层定义，基础设施层实现）
//
// 教学要点：
// 1. Lock*方法必须在Transactor.Transaction内调用，锁定单个商品的库存行，
//    直到事务结束才释放；不同商品互不阻塞
// 2. Save/AppendEntry/*Reservation写入随事务一起提交或回滚
// 3. 流水只有AppendEntry，没有更新和删除
type Repository interface {
	Reader
	EntryReader

	// Create 创建库存记录，已存在返回ErrRecordExists
	Create(ctx context.Context, rec *Record) error

	// LockByProductID 行锁读取（SELECT ... FOR UPDATE）
	LockByProductID(ctx context.Context, productID uint) (*Record, error)

	// Save 保存已锁定的库存记录
	Save(ctx context.Context, rec *Record) error

	// AppendEntry 追加流水，成功后回填ID
	AppendEntry(ctx context.Context, entry *MutationEntry) error

	// CreateReservation 保存新预留
	CreateReservation(ctx context.Context, r *Reservation) error

	// LockReservation 行锁读取预留，调用前应已锁定所属商品
	LockReservation(ctx context.Context, id string) (*Reservation, error)

	// SaveReservation 保存预留状态
	SaveReservation(ctx context.Context, r *Reservation) error
}

// Transactor 事务边界（由存储层提供）
// fn返回error时回滚，返回nil时提交
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
