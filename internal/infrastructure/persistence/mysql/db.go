package mysql

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xiebiao/stockledger/internal/infrastructure/config"
)

// NewDB 创建数据库连接
// 设计说明：
// 1. 使用GORM v2作为ORM框架
// 2. 配置连接池参数（MaxOpenConns、MaxIdleConns、ConnMaxLifetime）
// 3. 开发环境开启SQL日志，生产环境关闭
// 4. database.auto_migrate开启时迁移账本自己的表
func NewDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Server.Mode == "debug" {
		logLevel = logger.Info // 开发环境打印SQL
	}

	db, err := gorm.Open(mysql.Open(cfg.Database.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true, // 唯一键冲突转换为gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 学习要点：合理的连接池配置对性能至关重要
	// 每个账本原语都会占用一个连接直到事务提交，MaxOpenConns决定了并发写入的上限
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取SQL DB失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}
	log.Info("数据库连接成功",
		zap.String("host", cfg.Database.Host),
		zap.String("dbname", cfg.Database.DBName),
	)

	// 注意：生产环境应使用版本化的迁移脚本，不要依赖AutoMigrate
	if cfg.Database.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
		log.Info("数据表迁移完成")
	}

	return db, nil
}

// AutoMigrate 迁移账本和订单使用的表
// 学习要点：AutoMigrate只会创建表、添加字段，不会删除或修改现有字段
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ProductModel{},
		&StockRecordModel{},
		&MutationEntryModel{},
		&ReservationModel{},
		&SalesOrderModel{},
		&SalesOrderItemModel{},
	)
}

// ProductModel 商品目录（只用到与库存相关的列）
type ProductModel struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:200;not null;comment:商品名称"`
	SKU       string    `gorm:"uniqueIndex;size:64;not null;comment:SKU"`
	Price     int64     `gorm:"not null;comment:单价(分)"`
	CreatedAt time.Time `gorm:"comment:创建时间"`
	UpdatedAt time.Time `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (ProductModel) TableName() string {
	return "products"
}

// StockRecordModel 库存记录
// 教学要点:
// 1. 以product_id为主键,一个商品一行,SELECT ... FOR UPDATE锁的就是这一行
// 2. CHECK约束是不变量的最后一道防线,应用层校验失败才会走到这里
type StockRecordModel struct {
	ProductID        uint      `gorm:"primaryKey;autoIncrement:false;comment:商品ID"`
	OnHand           int       `gorm:"not null;default:0;check:chk_stock_on_hand,on_hand >= 0;comment:在库数量"`
	Reserved         int       `gorm:"not null;default:0;check:chk_stock_reserved,reserved >= 0 AND reserved <= on_hand;comment:已预留数量"`
	ReorderThreshold int       `gorm:"not null;default:5;comment:补货阈值"`
	Version          uint      `gorm:"not null;default:1;comment:版本号"`
	CreatedAt        time.Time `gorm:"comment:创建时间"`
	UpdatedAt        time.Time `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (StockRecordModel) TableName() string {
	return "stock_records"
}

// MutationEntryModel 库存流水
// 只有INSERT,没有UPDATE/DELETE;(product_id, id)索引支撑按商品顺序分页
type MutationEntryModel struct {
	ID              uint      `gorm:"primaryKey"`
	ProductID       uint      `gorm:"index:idx_entry_product,priority:1;not null;comment:商品ID"`
	Delta           int       `gorm:"not null;comment:变更量"`
	Reason          string    `gorm:"size:32;not null;comment:变更原因"`
	ResultingOnHand int       `gorm:"not null;comment:变更后在库"`
	Actor           string    `gorm:"size:64;not null;comment:操作人"`
	OrderRef        string    `gorm:"index;size:32;comment:关联订单号"`
	CreatedAt       time.Time `gorm:"comment:创建时间"`
}

// TableName 指定表名
func (MutationEntryModel) TableName() string {
	return "stock_mutation_entries"
}

// ReservationModel 预留句柄
type ReservationModel struct {
	ID        string     `gorm:"primaryKey;size:36;comment:预留ID(uuid)"`
	OrderRef  string     `gorm:"index;size:32;not null;comment:所属订单号"`
	ProductID uint       `gorm:"index;not null;comment:商品ID"`
	Quantity  int        `gorm:"not null;check:chk_reservation_quantity,quantity > 0;comment:预留数量"`
	Status    string     `gorm:"size:16;not null;comment:状态(active/committed/released)"`
	CreatedAt time.Time  `gorm:"comment:创建时间"`
	SettledAt *time.Time `gorm:"comment:提交或释放时间"`
}

// TableName 指定表名
func (ReservationModel) TableName() string {
	return "stock_reservations"
}

// SalesOrderModel 销售订单
// 教学要点:
// 1. 与SalesOrderItemModel是一对多关系
// 2. OrderNo有唯一索引(业务主键)
// 3. Version用于乐观并发控制
// 4. Reservations以JSON列保存,只在reserved之后非空
type SalesOrderModel struct {
	ID              uint                  `gorm:"primaryKey"`
	OrderNo         string                `gorm:"uniqueIndex;size:32;not null;comment:订单号"`
	CustomerID      uint                  `gorm:"index;not null;comment:客户ID"`
	Status          int                   `gorm:"index;type:tinyint;default:1;comment:订单状态(1草稿2校验中3已预留4已提交5已取消)"`
	Notes           string                `gorm:"size:500;comment:备注"`
	Total           int64                 `gorm:"not null;comment:订单总金额(分)"`
	FailureReason   string                `gorm:"size:500;comment:失败或取消原因"`
	Reservations    []reservationColumn   `gorm:"serializer:json;type:json;comment:预留句柄"`
	Version         uint                  `gorm:"not null;default:1;comment:版本号"`
	Items           []SalesOrderItemModel `gorm:"foreignKey:OrderID"`
	ValidatingAt    *time.Time
	ReservedAt      *time.Time
	CommitStartedAt *time.Time
	CommittedAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time `gorm:"index;comment:创建时间"`
	UpdatedAt       time.Time `gorm:"comment:更新时间"`
}

// TableName 指定表名
func (SalesOrderModel) TableName() string {
	return "sales_orders"
}

// SalesOrderItemModel 订单明细,UnitPrice是下单时的价格快照
type SalesOrderItemModel struct {
	ID        uint  `gorm:"primaryKey"`
	OrderID   uint  `gorm:"index;not null;comment:订单ID"`
	ProductID uint  `gorm:"index;not null;comment:商品ID"`
	Quantity  int   `gorm:"not null;comment:数量"`
	UnitPrice int64 `gorm:"not null;comment:下单时单价(分)"`
}

// TableName 指定表名
func (SalesOrderItemModel) TableName() string {
	return "sales_order_items"
}

type reservationColumn struct {
	ID        string `json:"id"`
	ProductID uint   `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
