// Package idgen 提供分布式唯一 ID 生成器，支持 Snowflake 与 Sonyflake 两种算法，用于请求 ID 与 websocket 连接 ID.
package idgen

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sony/sonyflake"
	"github.com/wyfcoding/bspricer/config"
)

var (
	// ErrUnsupportedType 不支持的 ID 生成器类型.
	ErrUnsupportedType = errors.New("unsupported id generator type")
	// ErrParseTime 解析时间失败.
	ErrParseTime = errors.New("failed to parse start time")
	// ErrCreateNode 创建 Snowflake 节点失败.
	ErrCreateNode = errors.New("failed to create snowflake node")
	// ErrCreateSonyflake 创建 Sonyflake 实例失败.
	ErrCreateSonyflake = errors.New("failed to create sonyflake instance")
	// ErrInvalidMachineID 错误的机器 ID.
	ErrInvalidMachineID = errors.New("machine_id must be between 0 and 65535")
)

const maxRetries = 3

// Generator 定义 ID 生成器接口.
type Generator interface {
	Generate() int64
}

func parseStart(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	st, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrParseTime, err)
	}
	return st, nil
}

// SnowflakeGenerator 雪花算法: 每毫秒 4096 个 ID，最多 1024 个节点.
type SnowflakeGenerator struct {
	node *snowflake.Node
}

// NewSnowflakeGenerator 创建 SnowflakeGenerator，StartTime 会修改 snowflake 包级 Epoch.
func NewSnowflakeGenerator(cfg config.SnowflakeConfig) (*SnowflakeGenerator, error) {
	if cfg.StartTime != "" {
		st, err := parseStart(cfg.StartTime, time.Time{})
		if err != nil {
			return nil, err
		}
		snowflake.Epoch = st.UnixMilli()
	}

	node, err := snowflake.NewNode(cfg.MachineID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateNode, err)
	}

	slog.Info("snowflake generator initialized", "machine_id", cfg.MachineID, "epoch", snowflake.Epoch)
	return &SnowflakeGenerator{node: node}, nil
}

// Generate 生成一个新的 ID.
func (g *SnowflakeGenerator) Generate() int64 {
	return g.node.Generate().Int64()
}

// SonyflakeGenerator Sonyflake 算法: 每 10 毫秒 256 个 ID，最多 65536 个节点.
type SonyflakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewSonyflakeGenerator 创建 SonyflakeGenerator.
func NewSonyflakeGenerator(cfg config.SnowflakeConfig) (*SonyflakeGenerator, error) {
	startTime, err := parseStart(cfg.StartTime, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	if cfg.MachineID < 0 || cfg.MachineID > 65535 {
		return nil, ErrInvalidMachineID
	}

	mid := uint16(cfg.MachineID & 0xFFFF)
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: startTime,
		MachineID: func() (uint16, error) { return mid, nil },
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateSonyflake, err)
	}

	slog.Info("sonyflake generator initialized", "machine_id", cfg.MachineID, "start_time", startTime)
	return &SonyflakeGenerator{sf: sf}, nil
}

// Generate 生成一个新的 ID，连续失败时返回 0.
func (g *SonyflakeGenerator) Generate() int64 {
	for i := range maxRetries {
		id, err := g.sf.NextID()
		if err == nil {
			return int64(id & 0x7FFFFFFFFFFFFFFF)
		}
		slog.Warn("sonyflake generator failed, retrying", "retry", i+1, "error", err)
		time.Sleep(10 * time.Millisecond)
	}
	slog.Error("sonyflake generator failed after multiple retries")
	return 0
}

// NewGenerator 根据配置创建对应类型的 ID 生成器.
func NewGenerator(cfg config.SnowflakeConfig) (Generator, error) {
	switch cfg.Type {
	case "sonyflake":
		return NewSonyflakeGenerator(cfg)
	case "snowflake", "":
		return NewSnowflakeGenerator(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}

var (
	mu               sync.Mutex
	defaultGenerator Generator
)

// Init 替换全局默认生成器.
func Init(cfg config.SnowflakeConfig) error {
	g, err := NewGenerator(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	defaultGenerator = g
	mu.Unlock()
	return nil
}

// Default 返回全局默认生成器，未初始化时以 machine_id=1 的 Snowflake 兜底.
func Default() Generator {
	mu.Lock()
	defer mu.Unlock()
	if defaultGenerator == nil {
		g, err := NewGenerator(config.SnowflakeConfig{MachineID: 1})
		if err != nil {
			panic(fmt.Errorf("failed to auto-initialize default id generator: %w", err))
		}
		defaultGenerator = g
	}
	return defaultGenerator
}

// GenID 使用默认生成器生成全局唯一 ID.
func GenID() uint64 {
	return uint64(Default().Generate() & 0x7FFFFFFFFFFFFFFF)
}

// GenIDString 返回十进制字符串形式的 ID，用于请求头与日志.
func GenIDString() string {
	return strconv.FormatUint(GenID(), 10)
}
