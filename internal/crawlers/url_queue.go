package crawlers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

// ErrInvalidTransition 状态只能 Pending -> Fetching -> Done 单向推进
var ErrInvalidTransition = errors.New("无效的状态转换")

// Outcome 单个URL的最终处理结果, Download与Failure二者有且仅有一个非空
type Outcome struct {
	Entry    models.CrawlEntry
	Download *models.DownloadRecord
	Failure  *models.FailureRecord
}

// registryEntry 访问登记表中的一项
type registryEntry struct {
	entry   models.CrawlEntry
	state   models.EntryState
	outcome *Outcome
}

// Frontier 前沿队列与访问登记表
// 职责: 保证每个规范化URL至多入队一次, 按深度从小到大出队(广度优先),
// 并跟踪处理中的URL数量以判断爬取何时结束
type Frontier struct {
	// 保护以下所有字段
	mu sync.RWMutex

	// 队列变化或处理中数量变化时唤醒等待的Dequeue
	cond *sync.Cond

	// 按深度分桶的FIFO队列, buckets[d] 为深度d的待处理项
	buckets [][]models.CrawlEntry

	// 访问登记表: URL -> 状态
	registry map[string]*registryEntry

	// 别名表: 请求URL -> 重定向后的最终URL, 先写入者生效
	aliases map[string]string

	// 排队中与处理中的数量
	queued   int
	inFlight int

	scope    *Scope
	maxDepth int
	stopped  bool
}

// NewFrontier 创建前沿队列
func NewFrontier(scope *Scope, maxDepth int) *Frontier {
	f := &Frontier{
		registry: make(map[string]*registryEntry),
		aliases:  make(map[string]string),
		scope:    scope,
		maxDepth: maxDepth,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// TryEnqueue 原子地检查并登记URL
// 超出深度、不在范围内、不可抓取、已登记或队列已停止时返回false
func (f *Frontier) TryEnqueue(rawURL string, depth int, parent string) bool {
	if depth < 0 || depth > f.maxDepth {
		return false
	}
	if !IsFetchableScheme(rawURL) || (f.scope != nil && !f.scope.Contains(rawURL)) {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return false
	}
	if _, exists := f.registry[rawURL]; exists {
		return false
	}

	entry := models.CrawlEntry{URL: rawURL, Depth: depth, Parent: parent}
	f.registry[rawURL] = &registryEntry{entry: entry, state: models.StatePending}

	for len(f.buckets) <= depth {
		f.buckets = append(f.buckets, nil)
	}
	f.buckets[depth] = append(f.buckets[depth], entry)
	f.queued++

	f.cond.Signal()
	return true
}

// Dequeue 取出深度最小的待处理项, 没有可取项时阻塞
// 队列为空且没有处理中的项(或已停止且处理中归零)时返回false
func (f *Frontier) Dequeue() (models.CrawlEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if f.queued > 0 {
			for d := range f.buckets {
				if len(f.buckets[d]) == 0 {
					continue
				}
				entry := f.buckets[d][0]
				f.buckets[d][0] = models.CrawlEntry{}
				f.buckets[d] = f.buckets[d][1:]
				f.queued--
				f.inFlight++
				f.registry[entry.URL].state = models.StateFetching
				return entry, true
			}
		}
		if f.inFlight == 0 {
			// 唤醒其它等待者, 让它们同样退出
			f.cond.Broadcast()
			return models.CrawlEntry{}, false
		}
		f.cond.Wait()
	}
}

// MarkDone 记录URL的最终结果, 仅允许从处理中状态推进
func (f *Frontier) MarkDone(rawURL string, outcome *Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	re, ok := f.registry[rawURL]
	if !ok {
		return fmt.Errorf("%w: %s 未登记", ErrInvalidTransition, rawURL)
	}
	if re.state != models.StateFetching {
		return fmt.Errorf("%w: %s 当前状态为 %s", ErrInvalidTransition, rawURL, re.state)
	}
	re.state = models.StateDone
	re.outcome = outcome
	f.inFlight--

	f.cond.Broadcast()
	return nil
}

// RecordAlias 记录重定向别名, 并把最终URL登记为已完成
// 同一请求URL只保留第一次记录
func (f *Frontier) RecordAlias(requested, final string) {
	if requested == final {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.aliases[requested]; !exists {
		f.aliases[requested] = final
	}
	if _, exists := f.registry[final]; !exists {
		f.registry[final] = &registryEntry{
			entry: models.CrawlEntry{URL: final, Parent: requested},
			state: models.StateDone,
		}
	}
}

// Stop 停止接收新URL并丢弃所有排队项, 处理中的项不受影响
func (f *Frontier) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return
	}
	f.stopped = true

	for d := range f.buckets {
		for _, entry := range f.buckets[d] {
			delete(f.registry, entry.URL)
		}
		f.buckets[d] = nil
	}
	f.queued = 0

	f.cond.Broadcast()
}

// Stopped 队列是否已停止
func (f *Frontier) Stopped() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stopped
}

// State 查询URL状态
func (f *Frontier) State(rawURL string) (models.EntryState, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	re, ok := f.registry[rawURL]
	if !ok {
		return 0, false
	}
	return re.state, true
}

// Aliases 别名表快照
func (f *Frontier) Aliases() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]string, len(f.aliases))
	for k, v := range f.aliases {
		out[k] = v
	}
	return out
}

// Resolve 经过别名表得到最终URL, 没有别名时返回原值
func (f *Frontier) Resolve(rawURL string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if final, ok := f.aliases[rawURL]; ok {
		return final
	}
	return rawURL
}

// FrontierSnapshot 队列计数快照
type FrontierSnapshot struct {
	Queued     int
	InFlight   int
	Registered int
}

// Snapshot 返回当前计数
func (f *Frontier) Snapshot() FrontierSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return FrontierSnapshot{
		Queued:     f.queued,
		InFlight:   f.inFlight,
		Registered: len(f.registry),
	}
}
