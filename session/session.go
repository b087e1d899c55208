// Package session 维护展示层的交互状态：当前参数、扫描区间、网格缓冲区以及最近一次的计算结果。
//
// 任何输入变化都会触发一次完整重算 (单点报价 + 整张热力图)。
package session

import (
	"context"
	"sync"
	"time"

	"github.com/wyfcoding/bspricer/heatmap"
	"github.com/wyfcoding/bspricer/logging"
	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/xerrors"
)

// Snapshot 某一版本会话的只读副本。
type Snapshot struct {
	Version   uint64         `json:"version"`
	State     State          `json:"state"`
	Result    pricing.Result `json:"result"`
	Quote     pricing.Quote  `json:"quote"`
	Clamped   []string       `json:"clamped"`
	Grid      *heatmap.Grid  `json:"grid"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Listener 接收重算后的快照，在会话锁之外串行调用，版本严格递增。
// 并发重算时较旧的版本可能被跳过。监听器内不得修改会话。
type Listener func(Snapshot)

// Session 单个交互会话。
type Session struct {
	gen      *heatmap.Generator
	bounds   *heatmap.Bounds
	defaults State
	minSize  int
	maxSize  int

	pricePlaces int32
	greekPlaces int32

	mu        sync.RWMutex
	state     State
	result    pricing.Result
	clamp     pricing.Clamp
	grid      heatmap.Grid
	version   uint64
	updatedAt time.Time

	nmu       sync.Mutex // 串行化通知
	delivered uint64
	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// Option 会话配置选项。
type Option func(*Session)

// WithGenerator 指定网格生成器。
func WithGenerator(g *heatmap.Generator) Option {
	return func(s *Session) {
		if g != nil {
			s.gen = g
		}
	}
}

// WithBounds 指定 RebaseBounds 时使用的边界规则。
func WithBounds(b *heatmap.Bounds) Option {
	return func(s *Session) {
		s.bounds = b
	}
}

// WithSizeLimits 设置网格边长的允许范围 (闭区间)。
func WithSizeLimits(minSize, maxSize int) Option {
	return func(s *Session) {
		s.minSize, s.maxSize = minSize, maxSize
	}
}

// WithQuotePlaces 设置报价的展示精度。
func WithQuotePlaces(pricePlaces, greekPlaces int32) Option {
	return func(s *Session) {
		s.pricePlaces, s.greekPlaces = pricePlaces, greekPlaces
	}
}

// New 以 defaults 为初始状态创建会话并完成首次计算。
func New(defaults State, opts ...Option) (*Session, error) {
	s := &Session{
		gen:         heatmap.NewGenerator(),
		minSize:     5,
		maxSize:     30,
		pricePlaces: 4,
		greekPlaces: 6,
		listeners:   make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}

	defaults.Spot = defaults.Spot.Normalized()
	defaults.Vol = defaults.Vol.Normalized()
	if err := s.checkSize(defaults.Size); err != nil {
		return nil, err
	}
	s.defaults = defaults

	if err := s.recomputeLocked(defaults); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) checkSize(n int) error {
	if n < 1 {
		return xerrors.ErrInvalidGridSize.WithDetail("grid size %d is below 1", n)
	}
	if n < s.minSize || n > s.maxSize {
		return xerrors.ErrGridSizeOutOfRange.WithDetail("grid size %d outside [%d, %d]", n, s.minSize, s.maxSize)
	}
	return nil
}

// SizeLimits 返回允许的网格边长范围。
func (s *Session) SizeLimits() (minSize, maxSize int) {
	return s.minSize, s.maxSize
}

// Apply 合并局部更新，倒置的区间会被交换。状态有变化时重算并通知订阅者。
// 第二个返回值表示是否发生了重算。
func (s *Session) Apply(ctx context.Context, u Update) (Snapshot, bool, error) {
	s.mu.Lock()
	next := s.state
	u.applyParams(&next.Params)
	if u.RebaseBounds && s.bounds != nil {
		spot, vol, err := s.bounds.Eval(next.Params)
		if err != nil {
			s.mu.Unlock()
			return Snapshot{}, false, err
		}
		next.Spot, next.Vol = spot, vol
	}
	u.applyRanges(&next.Spot, &next.Vol)
	next.Spot = next.Spot.Normalized()
	next.Vol = next.Vol.Normalized()
	if u.Size != nil {
		next.Size = *u.Size
	}

	if err := s.checkSize(next.Size); err != nil {
		s.mu.Unlock()
		return Snapshot{}, false, err
	}
	if next == s.state {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		logging.Debug(ctx, "session update is a no-op", "version", snap.Version)
		return snap, false, nil
	}
	if err := s.recomputeLocked(next); err != nil {
		s.mu.Unlock()
		return Snapshot{}, false, err
	}
	snap := s.snapshotLocked()
	s.unlockAndNotify(snap)
	return snap, true, nil
}

// Recompute 无条件按当前状态重算。
func (s *Session) Recompute(ctx context.Context) (Snapshot, error) {
	logging.Debug(ctx, "session recompute requested")
	s.mu.Lock()
	if err := s.recomputeLocked(s.state); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	snap := s.snapshotLocked()
	s.unlockAndNotify(snap)
	return snap, nil
}

// Reset 恢复创建时的默认状态并重算。
func (s *Session) Reset(ctx context.Context) (Snapshot, error) {
	logging.Debug(ctx, "session reset requested")
	s.mu.Lock()
	if err := s.recomputeLocked(s.defaults); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	snap := s.snapshotLocked()
	s.unlockAndNotify(snap)
	return snap, nil
}

// recomputeLocked 调用方须持有写锁。失败时会话状态保持不变。
func (s *Session) recomputeLocked(next State) error {
	if err := s.gen.GenerateInto(&s.grid, next.Params, next.Spot, next.Vol, next.Size); err != nil {
		return err
	}
	s.result, s.clamp = pricing.Evaluate(next.Params)
	s.state = next
	s.version++
	s.updatedAt = time.Now()
	return nil
}

// Snapshot 返回当前版本的深拷贝。
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// State 返回当前输入状态。
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Version 返回当前版本号，每次重算递增。
func (s *Session) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Version:   s.version,
		State:     s.state,
		Result:    s.result,
		Quote:     s.result.Quote(s.pricePlaces, s.greekPlaces),
		Clamped:   s.clamp.Fields(),
		Grid:      s.grid.Clone(),
		UpdatedAt: s.updatedAt,
	}
}

// Subscribe 注册监听器，返回取消函数。
func (s *Session) Subscribe(fn Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// unlockAndNotify 释放 mu 后投递快照。已投递过更新版本时丢弃，订阅者看到的版本严格递增。
func (s *Session) unlockAndNotify(snap Snapshot) {
	s.mu.Unlock()

	s.nmu.Lock()
	defer s.nmu.Unlock()
	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version
	s.notify(snap)
}

func (s *Session) notify(snap Snapshot) {
	s.lmu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
