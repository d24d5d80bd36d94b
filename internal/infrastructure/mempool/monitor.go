package mempool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mempool-risk-engine/internal/domain/entity"
	"mempool-risk-engine/internal/infrastructure/blockchain"
	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"go.uber.org/zap"
)

// ErrNoEndpoints is returned when a chain has nothing to connect to
var ErrNoEndpoints = errors.New("no websocket endpoints configured")

// ErrAlreadyRunning is returned by a second Start
var ErrAlreadyRunning = errors.New("monitor already running")

// TransactionHandler receives a private copy of every accepted transaction.
// It runs on the ingestion path and is cut off after the callback budget.
type TransactionHandler func(ctx context.Context, tx *entity.PendingTransaction) error

// chainState holds per-chain counters; counters are atomics so stats never take the cache lock
type chainState struct {
	name    string
	chainID uint64
	routers map[string]struct{}
	// peers is the run's state map, fixed once Start returns
	peers map[string]*chainState

	connected atomic.Bool
	stopped   atomic.Bool

	endpointMu     sync.RWMutex
	activeEndpoint string

	messages         atomic.Int64
	processed        atomic.Int64
	filtered         atomic.Int64
	malformed        atomic.Int64
	connectAttempts  atomic.Int64
	connectFailures  atomic.Int64
	disconnects      atomic.Int64
	callbackErrors   atomic.Int64
	callbackTimeouts atomic.Int64
	evictions        atomic.Int64
}

func (s *chainState) setEndpoint(endpoint string) {
	s.endpointMu.Lock()
	s.activeEndpoint = endpoint
	s.endpointMu.Unlock()
}

func (s *chainState) endpoint() string {
	s.endpointMu.RLock()
	defer s.endpointMu.RUnlock()
	return s.activeEndpoint
}

// Monitor ingests pending transactions from every configured chain
type Monitor struct {
	cfg    config.MonitorConfig
	chains map[string]config.ChainConfig
	dialer Dialer
	logger *logger.Logger
	cache  *txCache
	now    func() time.Time

	minValueWei    *big.Int
	minGasPriceWei *big.Int

	handlerMu sync.RWMutex
	handler   TransactionHandler

	mu      sync.Mutex
	states  map[string]*chainState
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewMonitor creates a new mempool monitor
func NewMonitor(cfg *config.Config, dialer Dialer, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:            cfg.Monitor,
		chains:         cfg.Chains,
		dialer:         dialer,
		logger:         log.WithComponent("mempool-monitor"),
		cache:          newTxCache(cfg.Monitor.MaxCacheSize),
		now:            time.Now,
		minValueWei:    blockchain.ETHToWei(cfg.Monitor.MinValueETH),
		minGasPriceWei: blockchain.GweiToWei(cfg.Monitor.MinGasPriceGwei),
		states:         make(map[string]*chainState),
	}
}

// SetHandler registers the transaction callback
func (m *Monitor) SetHandler(handler TransactionHandler) {
	m.handlerMu.Lock()
	m.handler = handler
	m.handlerMu.Unlock()
}

// Start launches one ingestion task per chain. Configuration problems are
// reported before any task starts. The tasks keep ctx's values but not its
// cancellation; they run until Stop.
func (m *Monitor) Start(ctx context.Context, chains []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	states := make(map[string]*chainState, len(chains))
	for _, name := range chains {
		chainCfg, ok := m.chains[name]
		if !ok {
			return fmt.Errorf("%w: %s", blockchain.ErrUnknownChain, name)
		}
		if len(chainCfg.WSEndpoints) == 0 {
			return fmt.Errorf("%w: %s", ErrNoEndpoints, name)
		}
		routers := make(map[string]struct{}, len(chainCfg.Routers))
		for _, r := range chainCfg.Routers {
			routers[strings.ToLower(r)] = struct{}{}
		}
		states[name] = &chainState{name: name, chainID: chainCfg.ChainID, routers: routers}
	}

	for _, state := range states {
		state.peers = states
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.states = states
	m.running = true

	for name, state := range states {
		m.wg.Add(1)
		go m.runChain(runCtx, state, m.chains[name].WSEndpoints)
	}

	m.wg.Add(1)
	go m.evictionLoop(runCtx)

	m.logger.Info("Mempool monitor started",
		zap.Strings("chains", chains),
		zap.Int("max_cache_size", m.cfg.MaxCacheSize),
		zap.Duration("max_age", m.cfg.MaxAge))
	return nil
}

// Stop cancels every chain task, closes sockets and waits for them to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("Mempool monitor stopped")
}

// runChain owns one chain: sequential endpoint failover with round backoff
func (m *Monitor) runChain(ctx context.Context, state *chainState, endpoints []string) {
	defer m.wg.Done()
	log := m.logger.WithChain(state.name)

	retry := 0
	for {
		connectedThisRound := false
		for _, endpoint := range endpoints {
			if ctx.Err() != nil {
				return
			}
			if m.session(ctx, log, state, endpoint) {
				connectedThisRound = true
			}
			if ctx.Err() != nil {
				return
			}
			if !sleepCtx(ctx, m.cfg.ReconnectDelay) {
				return
			}
		}

		if connectedThisRound {
			retry = 0
		}
		retry++
		if retry > m.cfg.MaxRetries {
			state.stopped.Store(true)
			log.Error("Exhausted reconnection attempts, monitoring stopped for chain",
				zap.Int("max_retries", m.cfg.MaxRetries))
			return
		}

		backoff := time.Duration(retry) * m.cfg.BackoffStep
		if backoff > m.cfg.MaxBackoff {
			backoff = m.cfg.MaxBackoff
		}
		log.Warn("All endpoints failed, backing off",
			zap.Int("retry", retry),
			zap.Duration("backoff", backoff))
		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

// session connects, subscribes and reads until the connection drops.
// It reports whether a subscription was established.
func (m *Monitor) session(ctx context.Context, log *logger.Logger, state *chainState, endpoint string) bool {
	state.connectAttempts.Add(1)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	conn, err := m.dialer.Dial(dialCtx, endpoint)
	cancel()
	if err != nil {
		state.connectFailures.Add(1)
		log.Warn("Failed to connect to endpoint", zap.String("endpoint", endpoint), zap.Error(err))
		return false
	}
	defer conn.Close()

	writeCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	err = conn.Write(writeCtx, subscribeRequest)
	cancel()
	if err != nil {
		state.connectFailures.Add(1)
		log.Warn("Failed to subscribe to pending transactions", zap.String("endpoint", endpoint), zap.Error(err))
		return false
	}

	state.connected.Store(true)
	state.setEndpoint(endpoint)
	log.Info("Subscribed to pending transactions", zap.String("endpoint", endpoint))

	sessionCtx, stopSession := context.WithCancel(ctx)
	defer stopSession()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		m.heartbeat(sessionCtx, log, conn, stopSession)
	}()

	err = m.readLoop(sessionCtx, state, conn)

	stopSession()
	<-heartbeatDone
	state.connected.Store(false)
	state.setEndpoint("")

	if ctx.Err() == nil {
		state.disconnects.Add(1)
		log.Warn("Connection dropped", zap.String("endpoint", endpoint), zap.Error(err))
	}
	return true
}

// heartbeat pings on an interval; a failed ping tears the session down
func (m *Monitor) heartbeat(ctx context.Context, log *logger.Logger, conn Conn, stop context.CancelFunc) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				log.Warn("Heartbeat failed", zap.Error(err))
				stop()
				conn.Close()
				return
			}
		}
	}
}

func (m *Monitor) readLoop(ctx context.Context, state *chainState, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		m.handleMessage(ctx, state, data)
	}
}

// handleMessage never fails; malformed input is counted and dropped
func (m *Monitor) handleMessage(ctx context.Context, state *chainState, data []byte) {
	state.messages.Add(1)

	kind, wireTx, err := parseMessage(data)
	if err != nil {
		state.malformed.Add(1)
		m.logger.Debug("Dropping malformed message", zap.String("chain", state.name), zap.Error(err))
		return
	}
	if kind != messageTransaction {
		return
	}

	tx, err := wireTx.toPending(state.name, state.chainID, m.now())
	if err != nil {
		state.malformed.Add(1)
		m.logger.Debug("Dropping malformed transaction", zap.String("chain", state.name), zap.Error(err))
		return
	}

	if !m.accept(state, tx) {
		state.filtered.Add(1)
		return
	}

	evicted := m.cache.put(tx)
	countEvictions(state.peers, evicted)
	state.processed.Add(1)

	m.invokeHandler(ctx, state, tx.Clone())
}

// accept applies the pre-filter
func (m *Monitor) accept(state *chainState, tx *entity.PendingTransaction) bool {
	if m.minValueWei.Sign() > 0 && tx.Value.Cmp(m.minValueWei) < 0 {
		return false
	}
	if m.minGasPriceWei.Sign() > 0 && tx.GasPrice.Cmp(m.minGasPriceWei) < 0 {
		return false
	}
	if m.cfg.RouterAllowlistOnly {
		if _, ok := state.routers[tx.To]; !ok {
			return false
		}
	}
	return true
}

// invokeHandler runs the callback with a bounded budget. A handler that
// overruns keeps its goroutine but no longer holds up ingestion.
func (m *Monitor) invokeHandler(ctx context.Context, state *chainState, tx *entity.PendingTransaction) {
	m.handlerMu.RLock()
	handler := m.handler
	m.handlerMu.RUnlock()
	if handler == nil {
		return
	}

	var (
		cbCtx  context.Context
		cancel context.CancelFunc
	)
	if m.cfg.CallbackTimeout > 0 {
		cbCtx, cancel = context.WithTimeout(ctx, m.cfg.CallbackTimeout)
	} else {
		cbCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- handler(cbCtx, tx)
	}()

	select {
	case err := <-done:
		if err != nil {
			state.callbackErrors.Add(1)
			m.logger.Warn("Transaction handler failed",
				zap.String("chain", state.name),
				zap.String("hash", tx.Hash),
				zap.Error(err))
		}
	case <-cbCtx.Done():
		state.callbackTimeouts.Add(1)
		m.logger.Warn("Transaction handler exceeded budget",
			zap.String("chain", state.name),
			zap.String("hash", tx.Hash),
			zap.Duration("budget", m.cfg.CallbackTimeout))
	}
}

func (m *Monitor) evictionLoop(ctx context.Context) {
	defer m.wg.Done()
	if m.cfg.EvictionInterval <= 0 || m.cfg.MaxAge <= 0 {
		return
	}

	ticker := time.NewTicker(m.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictExpired()
		}
	}
}

// EvictExpired removes transactions older than the configured max age
func (m *Monitor) EvictExpired() int {
	evicted := m.cache.evictOlderThan(m.now().Add(-m.cfg.MaxAge))
	if len(evicted) > 0 {
		m.mu.Lock()
		states := m.states
		m.mu.Unlock()
		countEvictions(states, evicted)
	}
	if len(evicted) > 0 {
		m.logger.Debug("Evicted expired transactions", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// countEvictions charges each evicted transaction to its own chain; a size
// eviction on one chain can push out another chain's entries.
func countEvictions(states map[string]*chainState, evicted []*entity.PendingTransaction) {
	for _, tx := range evicted {
		if s, ok := states[tx.Chain]; ok {
			s.evictions.Add(1)
		}
	}
}

// GetPendingTransactions returns copies of cached transactions, oldest first
func (m *Monitor) GetPendingTransactions(filter PendingFilter) []*entity.PendingTransaction {
	return m.cache.snapshot(filter, m.now())
}

// GetPendingTransaction returns a copy of one cached transaction
func (m *Monitor) GetPendingTransaction(hash string) (*entity.PendingTransaction, bool) {
	return m.cache.get(strings.ToLower(hash))
}

// AttachAnalysis records the analyzer result on the cached transaction
func (m *Monitor) AttachAnalysis(hash string, analysis *entity.TransactionAnalysis) bool {
	return m.cache.attach(strings.ToLower(hash), analysis)
}

// IsConnected reports whether chain has a live subscription; "" means any chain
func (m *Monitor) IsConnected(chain string) bool {
	m.mu.Lock()
	states := m.states
	m.mu.Unlock()

	if chain != "" {
		s, ok := states[chain]
		return ok && s.connected.Load()
	}
	for _, s := range states {
		if s.connected.Load() {
			return true
		}
	}
	return false
}

// ChainStatus is a point-in-time view of one chain's ingestion
type ChainStatus struct {
	Chain            string `json:"chain"`
	ChainID          uint64 `json:"chain_id"`
	Connected        bool   `json:"connected"`
	Stopped          bool   `json:"stopped"`
	ActiveEndpoint   string `json:"active_endpoint,omitempty"`
	Messages         int64  `json:"messages"`
	Processed        int64  `json:"processed"`
	Filtered         int64  `json:"filtered"`
	Malformed        int64  `json:"malformed"`
	ConnectAttempts  int64  `json:"connect_attempts"`
	ConnectFailures  int64  `json:"connect_failures"`
	Disconnects      int64  `json:"disconnects"`
	CallbackErrors   int64  `json:"callback_errors"`
	CallbackTimeouts int64  `json:"callback_timeouts"`
	Evictions        int64  `json:"evictions"`
	CacheSize        int    `json:"cache_size"`
}

// Statistics aggregates monitor counters
type Statistics struct {
	TotalMessages  int64                  `json:"total_messages"`
	TotalProcessed int64                  `json:"total_processed"`
	TotalFiltered  int64                  `json:"total_filtered"`
	TotalMalformed int64                  `json:"total_malformed"`
	CacheSize      int                    `json:"cache_size"`
	MaxCacheSize   int                    `json:"max_cache_size"`
	Chains         map[string]ChainStatus `json:"chains"`
}

// GetStatistics returns a snapshot of all counters
func (m *Monitor) GetStatistics() Statistics {
	m.mu.Lock()
	states := m.states
	m.mu.Unlock()

	counts := m.cache.countByChain()
	stats := Statistics{
		CacheSize:    m.cache.len(),
		MaxCacheSize: m.cfg.MaxCacheSize,
		Chains:       make(map[string]ChainStatus, len(states)),
	}
	for name, s := range states {
		cs := ChainStatus{
			Chain:            name,
			ChainID:          s.chainID,
			Connected:        s.connected.Load(),
			Stopped:          s.stopped.Load(),
			ActiveEndpoint:   s.endpoint(),
			Messages:         s.messages.Load(),
			Processed:        s.processed.Load(),
			Filtered:         s.filtered.Load(),
			Malformed:        s.malformed.Load(),
			ConnectAttempts:  s.connectAttempts.Load(),
			ConnectFailures:  s.connectFailures.Load(),
			Disconnects:      s.disconnects.Load(),
			CallbackErrors:   s.callbackErrors.Load(),
			CallbackTimeouts: s.callbackTimeouts.Load(),
			Evictions:        s.evictions.Load(),
			CacheSize:        counts[name],
		}
		stats.TotalMessages += cs.Messages
		stats.TotalProcessed += cs.Processed
		stats.TotalFiltered += cs.Filtered
		stats.TotalMalformed += cs.Malformed
		stats.Chains[name] = cs
	}
	return stats
}

// sleepCtx waits for d or until ctx is done; it reports whether the wait completed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
