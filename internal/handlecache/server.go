package handlecache

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// reevaluateInterval is "re-evaluates every 2s while over cap".
const reevaluateInterval = 2 * time.Second

// softLimit computes the process-wide soft cap: an assumed ulimit of 1024 minus reserved slots (at least 1), or a fixed 10M on Windows.
// No real ulimit is read.
func softLimit(reserved int) int {
	const windowsFallback = 10_000_000
	if runtime.GOOS == "windows" {
		return windowsFallback
	}
	// A real deployment would read RLIMIT_NOFILE; absent a syscall dependency in the reference repos pack for this, a conservative constant
	// keeps the cache functional without guessing at OS-specific APIs.
	const assumedUlimit = 1024
	limit := assumedUlimit - reserved
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Server is the central LRU coordinator. One per broker process; every Client reports its eldest last-used timestamp on open/close so the server
// can decide when the process as a whole is over its soft cap.
type Server struct {
	log   *zap.Logger
	limit int

	mu      sync.Mutex
	clients map[*Client]time.Time // client -> its reported eldest age
	limiter *rate.Limiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewServer creates a coordinator whose limit is softLimit(reservedSlots).
func NewServer(log *zap.Logger, reservedSlots int) *Server {
	return &Server{
		log:     log,
		limit:   softLimit(reservedSlots),
		clients: make(map[*Client]time.Time),
		limiter: rate.NewLimiter(rate.Every(reevaluateInterval), 1),
		stopCh:  make(chan struct{}),
	}
}

// Run drives the re-evaluation loop until ctx is cancelled or Stop is called. Intended to run in its own goroutine from cmd/brokerd.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.tick()
	}
}

// Stop halts the Run loop.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Server) tick() {
	s.mu.Lock()
	total := 0
	var sum time.Duration
	now := time.Now()
	n := 0
	for _, eldest := range s.clients {
		total++
		if !eldest.IsZero() {
			sum += now.Sub(eldest)
			n++
		}
	}
	over := total >= s.limit
	var avgAge time.Duration
	if over && n > 0 {
		avgAge = sum / time.Duration(n)
	}
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if !over {
		return
	}
	if s.log != nil {
		s.log.Debug("handlecache over soft cap, broadcasting max_eldest_since_use",
			zap.Int("open_count", total), zap.Int("limit", s.limit), zap.Duration("max_eldest_since_use", avgAge))
	}
	for _, c := range clients {
		c.applyMaxEldestSinceUse(avgAge)
	}
}

func (s *Server) reportEldest(c *Client, eldest time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = eldest
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = time.Time{}
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// Client is one broker subsystem's handle pool (e.g. the message store or the index server). It owns its handles; only this client ever touches
// them, per "only the owning process touches its own handles".
type Client struct {
	server *Server
	log    *zap.Logger

	mu      sync.Mutex
	nextRef Ref
	handles map[Ref]*Handle
	ages    *list.List // ordered by last-used, ascending (front = eldest)
	paths   map[string]*pathMeta
}

// NewClient registers a new handle-cache client with the coordinator.
func NewClient(log *zap.Logger, s *Server) *Client {
	c := &Client{
		server:  s,
		log:     log,
		handles: make(map[Ref]*Handle),
		ages:    list.New(),
		paths:   make(map[string]*pathMeta),
	}
	if s != nil {
		s.register(c)
	}
	return c
}

// Close releases every handle and unregisters from the coordinator.
func (c *Client) Close() {
	c.mu.Lock()
	for _, h := range c.handles {
		h.mu.Lock()
		if h.file != nil {
			h.file.Close()
		}
		h.mu.Unlock()
	}
	c.mu.Unlock()
	if c.server != nil {
		c.server.unregister(c)
	}
}

func (c *Client) reportEldestLocked() {
	var eldest time.Time
	if front := c.ages.Front(); front != nil {
		eldest = front.Value.(*Handle).lastUsed
	}
	if c.server != nil {
		c.server.reportEldest(c, eldest)
	}
}

// Open opens (or reopens) path in mode, returning a new Handle with a fresh Ref. Opening a second writer to an already-write-open path fails with ErrWriterExists.
func (c *Client) Open(path string, mode Mode, policy BufferPolicy, limit int) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.paths[path]
	if !ok {
		meta = &pathMeta{}
		c.paths[path] = meta
	}
	if mode != ModeRead {
		if meta.writer {
			return nil, fmt.Errorf("%w: %s", ErrWriterExists, path)
		}
		meta.writer = true
	} else {
		meta.readers++
	}

	f, err := openOS(path, mode)
	if err != nil {
		return nil, err
	}

	c.nextRef++
	h := &Handle{
		ref:      c.nextRef,
		path:     path,
		mode:     mode,
		policy:   policy,
		limit:    limit,
		file:     f,
		lastUsed: time.Now(),
	}
	h.elem = c.ages.PushBack(h)
	c.handles[h.ref] = h
	c.reportEldestLocked()
	return h, nil
}

func openOS(path string, mode Mode) (*os.File, error) {
	switch mode {
	case ModeRead:
		return os.Open(path)
	case ModeWrite:
		return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	default:
		return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	}
}

// touch marks h as most-recently-used and repositions it in the age list.
func (c *Client) touch(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
	c.ages.MoveToBack(h.elem)
	c.reportEldestLocked()
}

// CloseHandle closes a single handle and releases its path occupancy.
func (c *Client) CloseHandle(h *Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handles, h.ref)
	c.ages.Remove(h.elem)
	if meta, ok := c.paths[h.path]; ok {
		if h.mode == ModeRead {
			meta.readers--
		} else {
			meta.writer = false
		}
		if meta.readers == 0 && !meta.writer {
			delete(c.paths, h.path)
		}
	}
	c.reportEldestLocked()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.flushLocked()
	cerr := h.file.Close()
	h.file = nil
	if err != nil {
		return err
	}
	return cerr
}

// applyMaxEldestSinceUse soft-closes every handle whose age exceeds maxAge.
func (c *Client) applyMaxEldestSinceUse(maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	now := time.Now()
	c.mu.Lock()
	var toClose []*Handle
	for e := c.ages.Front(); e != nil; e = e.Next() {
		h := e.Value.(*Handle)
		h.mu.Lock()
		age := now.Sub(h.lastUsed)
		already := h.softClosed
		h.mu.Unlock()
		if already {
			continue
		}
		if age >= maxAge {
			toClose = append(toClose, h)
		}
	}
	c.mu.Unlock()

	for _, h := range toClose {
		c.softClose(h)
	}
}

// softClose flushes, syncs, and closes the OS handle while keeping all client-side state (offset, dirty flag, etc) so the handle reopens
// transparently on next use.
func (c *Client) softClose(h *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil || h.softClosed {
		return
	}
	if err := h.flushLocked(); err != nil && c.log != nil {
		c.log.Warn("handlecache: soft-close flush failed", zap.String("path", h.path), zap.Error(err))
	}
	if err := h.file.Sync(); err != nil && c.log != nil {
		c.log.Warn("handlecache: soft-close sync failed", zap.String("path", h.path), zap.Error(err))
	}
	h.file.Close()
	h.file = nil
	h.softClosed = true
}

// reopen transparently reopens a soft-closed handle at its recorded offset.
func (c *Client) reopen(h *Handle) error {
	f, err := openOS(h.path, h.mode)
	if err != nil {
		return err
	}
	if h.offset != 0 {
		if _, err := f.Seek(h.offset, io.SeekStart); err != nil {
			f.Close()
			return err
		}
	}
	h.file = f
	h.softClosed = false
	return nil
}

// flushLocked writes out the buffered bytes, if any. Caller holds h.mu.
func (h *Handle) flushLocked() error {
	if len(h.buf) == 0 {
		return nil
	}
	if h.file == nil {
		return nil
	}
	n, err := h.file.Write(h.buf)
	h.offset += int64(n)
	h.trustedOffset = h.offset
	h.buf = h.buf[:0]
	h.dirty = false
	return err
}

// Write appends to h's buffer, flushing immediately if policy is BufferUnbuffered or the buffer would exceed its byte limit.
func (c *Client) Write(h *Handle, p []byte) error {
	c.touch(h)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		if err := c.reopen(h); err != nil {
			return err
		}
	}
	if h.mode == ModeRead {
		return ErrNotOpenForWriting
	}

	h.buf = append(h.buf, p...)
	h.dirty = true
	h.atEOF = true

	switch h.policy {
	case BufferUnbuffered:
		return h.flushLocked()
	case BufferBytes:
		if len(h.buf) >= h.limit {
			return h.flushLocked()
		}
	}
	return nil
}

// Read reads up to len(p) bytes at the handle's current offset, honouring seek elision via maybeSeek.
func (c *Client) Read(h *Handle, p []byte, at seekTarget) (int, error) {
	c.touch(h)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mode == ModeWrite {
		return 0, ErrNotOpenForReading
	}
	if h.file == nil {
		if err := c.reopen(h); err != nil {
			return 0, err
		}
	}
	if err := h.flushLocked(); err != nil {
		return 0, err
	}

	needsSeek, target := h.maybeSeek(at)
	if needsSeek {
		whence := io.SeekStart
		if target < 0 {
			whence = io.SeekEnd
			target = 0
		}
		off, err := h.file.Seek(target, whence)
		if err != nil {
			return 0, err
		}
		h.offset = off
	}

	n, err := h.file.Read(p)
	h.offset += int64(n)
	if err == io.EOF {
		h.atEOF = true
	}
	return n, err
}
