package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"exam-prep-sync/internal/domain"
)

// ErrCoordinatorClosed is returned after Close.
var ErrCoordinatorClosed = errors.New("pod coordinator closed")

// maxRoomCodeAttempts bounds retries when a generated room code is already active.
const maxRoomCodeAttempts = 5

// PodCoordinator runs this device's pod session: at most one pod, one realtime
// subscription, and a local view refreshed from authoritative reads on every event.
type PodCoordinator struct {
	store    PodStore
	realtime Realtime
	identity Identity
	newCode  func() string
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// opMu linearizes lifecycle operations.
	opMu sync.Mutex

	mu       sync.RWMutex
	session  *podSession
	view     domain.PodView
	watchers map[chan domain.PodView]struct{}
	closed   bool
}

type podSession struct {
	podID  string
	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}

	once    sync.Once
	stopErr error
}

// stop releases the subscription and waits for the event loop. Later calls are no-ops.
func (ps *podSession) stop() error {
	ps.once.Do(func() {
		ps.cancel()
		ps.stopErr = ps.sub.Close()
		<-ps.done
	})
	return ps.stopErr
}

func NewPodCoordinator(store PodStore, realtime Realtime, identity Identity, newCode func() string, timeout time.Duration, logger *slog.Logger) *PodCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PodCoordinator{
		store:    store,
		realtime: realtime,
		identity: identity,
		newCode:  newCode,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
		watchers: make(map[chan domain.PodView]struct{}),
	}
}

// Create opens a new pod hosted by this device and enters it.
func (c *PodCoordinator) Create(ctx context.Context, roomName string) (domain.Pod, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.checkIdle(); err != nil {
		return domain.Pod{}, err
	}
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		return domain.Pod{}, fmt.Errorf("%w: room name is required", domain.ErrValidation)
	}
	deviceID := c.identity.DeviceID()

	rctx, cancel := remoteContext(ctx, c.timeout)
	defer cancel()

	var (
		pod domain.Pod
		err error
	)
	for attempt := 0; attempt < maxRoomCodeAttempts; attempt++ {
		pod, err = c.store.CreatePod(rctx, domain.Pod{
			RoomCode:     c.newCode(),
			RoomName:     roomName,
			HostDeviceID: deviceID,
			IsActive:     true,
		})
		if !errors.Is(err, domain.ErrRoomCodeTaken) {
			break
		}
		c.logger.Info("room code collision, regenerating", "attempt", attempt+1)
	}
	if errors.Is(err, domain.ErrRoomCodeTaken) {
		return domain.Pod{}, err
	}
	if err != nil {
		return domain.Pod{}, remoteError("create pod", err)
	}

	if err := c.store.InsertMember(rctx, c.newMember(pod.ID)); err != nil {
		if derr := c.store.DeactivatePod(rctx, pod.ID); derr != nil {
			c.logger.Warn("deactivate orphaned pod", "podId", pod.ID, "error", derr)
		}
		return domain.Pod{}, remoteError("add host to pod", err)
	}

	if err := c.enter(ctx, pod); err != nil {
		return domain.Pod{}, err
	}
	c.logger.Info("pod created", "podId", pod.ID, "roomCode", pod.RoomCode)
	return pod, nil
}

// Join enters the active pod with roomCode. Codes are case-insensitive.
// Joining the pod this device is already in re-establishes the subscription.
func (c *PodCoordinator) Join(ctx context.Context, roomCode string) (domain.Pod, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.isClosed() {
		return domain.Pod{}, ErrCoordinatorClosed
	}
	code := strings.ToUpper(strings.TrimSpace(roomCode))
	if code == "" {
		return domain.Pod{}, fmt.Errorf("%w: room code is required", domain.ErrValidation)
	}

	rctx, cancel := remoteContext(ctx, c.timeout)
	defer cancel()

	pod, err := c.store.FindActivePodByCode(rctx, code)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return domain.Pod{}, err
	}
	if err != nil {
		return domain.Pod{}, remoteError("find pod", err)
	}

	if current := c.currentSession(); current != nil {
		if current.podID != pod.ID {
			return domain.Pod{}, domain.ErrAlreadyInPod
		}
		if err := current.stop(); err != nil {
			c.logger.Warn("close stale subscription", "podId", pod.ID, "error", err)
		}
		c.clearSession(current)
	}

	deviceID := c.identity.DeviceID()
	_, found, err := c.store.FindMember(rctx, pod.ID, deviceID)
	if err != nil {
		return domain.Pod{}, remoteError("find member", err)
	}
	if !found {
		if err := c.store.InsertMember(rctx, c.newMember(pod.ID)); err != nil {
			return domain.Pod{}, remoteError("join pod", err)
		}
	}

	if err := c.enter(ctx, pod); err != nil {
		return domain.Pod{}, err
	}
	c.logger.Info("pod joined", "podId", pod.ID, "roomCode", pod.RoomCode)
	return pod, nil
}

// Leave removes this device from the pod, deactivating it when the device is the host.
// The subscription and local state are released before returning even if the remote writes fail.
func (c *PodCoordinator) Leave(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	ps := c.currentSession()
	if ps == nil {
		return nil
	}
	pod := c.View().Pod
	deviceID := c.identity.DeviceID()

	rctx, cancel := remoteContext(ctx, c.timeout)
	defer cancel()

	var errs []error
	if err := c.store.RemoveMember(rctx, ps.podID, deviceID); err != nil {
		errs = append(errs, remoteError("remove member", err))
	}
	if pod != nil && pod.HostDeviceID == deviceID {
		if err := c.store.DeactivatePod(rctx, ps.podID); err != nil {
			errs = append(errs, remoteError("deactivate pod", err))
		}
	}

	if err := ps.stop(); err != nil {
		c.logger.Warn("close subscription", "podId", ps.podID, "error", err)
	}
	c.clearSession(ps)
	c.logger.Info("pod left", "podId", ps.podID)
	return errors.Join(errs...)
}

// UpdateScore adds points to this device's score with a server-side increment
// and returns the new total.
func (c *PodCoordinator) UpdateScore(ctx context.Context, points int) (int, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if points < 0 {
		return 0, fmt.Errorf("%w: points must not be negative", domain.ErrValidation)
	}
	ps := c.currentSession()
	if ps == nil {
		return 0, domain.ErrNotInPod
	}
	deviceID := c.identity.DeviceID()

	rctx, cancel := remoteContext(ctx, c.timeout)
	defer cancel()
	score, err := c.store.IncrementScore(rctx, ps.podID, deviceID, points)
	if errors.Is(err, domain.ErrMemberNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, remoteError("update score", err)
	}

	// Apply the acknowledged total locally; the member-change event will bring everyone else's.
	c.mu.Lock()
	if c.session == ps {
		for i := range c.view.Members {
			if c.view.Members[i].DeviceID == deviceID {
				c.view.Members[i].Score = score
			}
		}
		sortMembers(c.view.Members)
		c.view.UpdatedAt = c.now()
		c.broadcastLocked()
	}
	c.mu.Unlock()
	return score, nil
}

// AdvanceQuestion sets the pod's current question. Host only.
func (c *PodCoordinator) AdvanceQuestion(ctx context.Context, questionID string) (domain.Pod, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	ps := c.currentSession()
	if ps == nil {
		return domain.Pod{}, domain.ErrNotInPod
	}
	view := c.View()
	if view.Pod == nil || view.Pod.HostDeviceID != c.identity.DeviceID() {
		return domain.Pod{}, domain.ErrNotHost
	}
	if strings.TrimSpace(questionID) == "" {
		return domain.Pod{}, fmt.Errorf("%w: question id is required", domain.ErrValidation)
	}

	rctx, cancel := remoteContext(ctx, c.timeout)
	defer cancel()
	pod, err := c.store.SetCurrentQuestion(rctx, ps.podID, questionID)
	if err != nil {
		return domain.Pod{}, remoteError("advance question", err)
	}
	c.setPod(ps, pod)
	return pod, nil
}

// ListActivePods returns active pods, newest first.
func (c *PodCoordinator) ListActivePods(ctx context.Context) ([]domain.Pod, error) {
	rctx, cancel := remoteContext(ctx, c.timeout)
	defer cancel()
	pods, err := c.store.ListActivePods(rctx)
	if err != nil {
		return nil, remoteError("list pods", err)
	}
	return pods, nil
}

// View returns a copy of the current pod view.
func (c *PodCoordinator) View() domain.PodView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Watch returns a channel of pod views, starting with the current one.
// Slow readers only ever miss stale views. The caller must invoke cancel.
func (c *PodCoordinator) Watch() (<-chan domain.PodView, func()) {
	ch := make(chan domain.PodView, 8)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.watchers[ch] = struct{}{}
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.watchers[ch]; ok {
			delete(c.watchers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// Close tears down the active subscription without leaving the pod and closes all watchers.
func (c *PodCoordinator) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ps := c.session
	c.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.stop()
		c.clearSession(ps)
	}

	c.mu.Lock()
	for ch := range c.watchers {
		delete(c.watchers, ch)
		close(ch)
	}
	c.mu.Unlock()
	return err
}

func (c *PodCoordinator) checkIdle() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCoordinatorClosed
	}
	if c.session != nil {
		return domain.ErrAlreadyInPod
	}
	return nil
}

func (c *PodCoordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *PodCoordinator) currentSession() *podSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *PodCoordinator) newMember(podID string) domain.PodMember {
	return domain.PodMember{
		PodID:    podID,
		DeviceID: c.identity.DeviceID(),
		Nickname: c.identity.Nickname(),
		Score:    0,
	}
}

// enter subscribes before the first membership read so no change is missed.
// The first read runs on the event loop so every refresh is applied in order.
func (c *PodCoordinator) enter(ctx context.Context, pod domain.Pod) error {
	sub, err := c.realtime.Subscribe(ctx, pod.ID)
	if err != nil {
		return remoteError("subscribe to pod", err)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	ps := &podSession{
		podID:  pod.ID,
		sub:    sub,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.session = ps
	p := pod
	c.view = domain.PodView{Pod: &p, UpdatedAt: c.now()}
	c.broadcastLocked()
	c.mu.Unlock()

	ready := make(chan struct{})
	go c.run(loopCtx, ps, ready)
	<-ready
	return nil
}

func (c *PodCoordinator) clearSession(ps *podSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != ps {
		return
	}
	c.session = nil
	c.view = domain.PodView{UpdatedAt: c.now()}
	c.broadcastLocked()
}

func (c *PodCoordinator) run(ctx context.Context, ps *podSession, ready chan<- struct{}) {
	defer close(ps.done)
	c.refreshMembers(ctx, ps)
	close(ready)

	events := ps.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.PodID != ps.podID {
				continue
			}
			switch ev.Kind {
			case domain.EventMemberChange:
				c.refreshMembers(ctx, ps)
			case domain.EventPodUpdate:
				c.refreshPod(ctx, ps)
			}
		}
	}
}

func (c *PodCoordinator) refreshMembers(ctx context.Context, ps *podSession) {
	rctx, cancel := remoteContext(ctx, c.timeout)
	defer cancel()
	members, err := c.store.ListMembers(rctx, ps.podID)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("refresh pod members", "podId", ps.podID, "error", err)
		}
		return
	}
	sortMembers(members)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != ps {
		return
	}
	c.view.Members = members
	c.view.UpdatedAt = c.now()
	c.broadcastLocked()
}

func (c *PodCoordinator) refreshPod(ctx context.Context, ps *podSession) {
	rctx, cancel := remoteContext(ctx, c.timeout)
	defer cancel()
	pod, err := c.store.GetPod(rctx, ps.podID)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("refresh pod", "podId", ps.podID, "error", err)
		}
		return
	}
	c.setPod(ps, pod)
}

func (c *PodCoordinator) setPod(ps *podSession, pod domain.Pod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != ps {
		return
	}
	p := pod
	c.view.Pod = &p
	c.view.UpdatedAt = c.now()
	c.broadcastLocked()
}

func (c *PodCoordinator) broadcastLocked() {
	view := c.snapshotLocked()
	for ch := range c.watchers {
		select {
		case ch <- view:
		default:
			// drop the oldest queued view so the newest always lands
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}

func (c *PodCoordinator) snapshotLocked() domain.PodView {
	view := domain.PodView{UpdatedAt: c.view.UpdatedAt}
	if c.view.Pod != nil {
		p := *c.view.Pod
		view.Pod = &p
	}
	view.Members = make([]domain.PodMember, len(c.view.Members))
	copy(view.Members, c.view.Members)
	return view
}

// sortMembers orders by score descending, then earliest join, then nickname.
func sortMembers(members []domain.PodMember) {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].Nickname < members[j].Nickname
	})
}
