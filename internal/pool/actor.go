package pool

import (
	"context"
	"time"
)

// Commands sent over Pool.cmds. All are handled exclusively by run(),
// which is the only goroutine allowed to mutate reg/drain state.
type (
	cmdAcquire[C any] struct {
		db   string
		resp chan acquireResult[C]
	}
	cmdCancelWaiter[C any] struct {
		db   string
		resp chan acquireResult[C]
	}
	cmdRelease[C any] struct {
		db       string
		id       connID
		conn     C
		poisoned bool
	}
	cmdMetrics[C any] struct {
		resp chan Snapshot
	}
	cmdRunOnce[C any]       struct{}
	cmdBeginShutdown[C any] struct{}
	cmdDrainBlockDelta[C any] struct {
		db    string
		delta int
	}
	cmdDrainAllDelta[C any] struct {
		delta int
	}

	cmdConnectDone[C any] struct {
		db  string
		id  connID
		conn C
		err  error
	}
	cmdStealDone[C any] struct {
		to, from string
		id       connID
		conn     C
		err      error
	}
	cmdCloseDone[C any] struct {
		db string
		id connID
	}
	cmdMoveDone[C any] struct {
		from, to string
		id       connID
		conn     C
		err      error
	}
	cmdReopenDone[C any] struct {
		db  string
		id  connID
		conn C
		err  error
	}
)

func (p *Pool[C]) run() {
	ticker := time.NewTicker(p.cfg.AdjustmentInterval)
	defer ticker.Stop()

	for {
		select {
		case raw := <-p.cmds:
			p.handle(raw)
		case <-ticker.C:
			p.runOnce()
		}

		if p.shuttingDown.Load() && p.reg.isEmpty() {
			p.closeShutdown()
			return
		}
	}
}

func (p *Pool[C]) closeShutdown() {
	select {
	case <-p.shutdownDoneCh:
	default:
		close(p.shutdownDoneCh)
	}
}

func (p *Pool[C]) handle(raw any) {
	switch cmd := raw.(type) {
	case cmdAcquire[C]:
		p.onAcquire(cmd)
	case cmdCancelWaiter[C]:
		p.onCancelWaiter(cmd)
	case cmdRelease[C]:
		p.onRelease(cmd)
	case cmdMetrics[C]:
		cmd.resp <- p.reg.snapshot()
	case cmdRunOnce[C]:
		p.runOnce()
	case cmdBeginShutdown[C]:
		// state already flipped in Shutdown(); waiters still queued resolve
		// with ErrShutdown, then a tick runs promptly.
		for _, b := range p.reg.blocks {
			for w := b.popWaiter(); w != nil; w = b.popWaiter() {
				w.resp <- acquireResult[C]{err: ErrShutdown}
			}
		}
		p.runOnce()
	case cmdDrainBlockDelta[C]:
		if b, ok := p.reg.get(cmd.db); ok {
			b.drainRefs += cmd.delta
			if b.drainRefs < 0 {
				b.drainRefs = 0
			}
		}
	case cmdDrainAllDelta[C]:
		if cmd.delta > 0 {
			p.drain.lockAll()
		} else {
			p.drain.unlockAll()
		}
	case cmdConnectDone[C]:
		p.onConnectDone(cmd)
	case cmdStealDone[C]:
		p.onStealDone(cmd)
	case cmdCloseDone[C]:
		p.onCloseDone(cmd)
	case cmdMoveDone[C]:
		p.onMoveDone(cmd)
	case cmdReopenDone[C]:
		p.onReopenDone(cmd)
	}
}

func (p *Pool[C]) onAcquire(cmd cmdAcquire[C]) {
	if p.shuttingDown.Load() {
		cmd.resp <- acquireResult[C]{err: ErrShutdown}
		return
	}

	// An idle connection of an undrained block goes to this acquire through
	// the regular assignment path, without planning a new connection.
	if b, ok := p.reg.get(cmd.db); ok && !(p.drain.allDrained() || b.drainRefs > 0) {
		if id, ok := b.popOldestIdle(); ok {
			now := time.Now()
			b.demand, b.lastDemandUpdate = bumpDemand(b.demand, b.lastDemandUpdate, now, p.cfg.DemandHalfLife)
			b.counts[VarIdle]--
			b.pushWaiter(&waiter[C]{resp: cmd.resp})
			p.completeToIdle(b, p.reg.conns[id])
			return
		}
	}

	now := time.Now()
	blocks := p.snapshotForAlgo(now)
	plan := planAcquire(cmd.db, blocks, p.reg.totalActive(), p.shuttingDown.Load(), p.cfg.constraints())

	b := p.reg.getOrCreate(cmd.db)
	b.demand, b.lastDemandUpdate = bumpDemand(b.demand, b.lastDemandUpdate, now, p.cfg.DemandHalfLife)

	switch plan.Decision {
	case AcquireFailShutdown:
		cmd.resp <- acquireResult[C]{err: ErrShutdown}
		return
	case AcquireCreate:
		p.spawnCreate(b, cmd.db)
	case AcquireSteal:
		p.spawnSteal(cmd.db, plan.From)
	case AcquireWait:
		// fall through to queue below
	}

	b.pushWaiter(&waiter[C]{resp: cmd.resp})
}

func (p *Pool[C]) onCancelWaiter(cmd cmdCancelWaiter[C]) {
	b, ok := p.reg.get(cmd.db)
	if !ok {
		return
	}
	for el := b.waiters.Front(); el != nil; el = el.Next() {
		w := el.Value.(*waiter[C])
		if w.resp == cmd.resp {
			w.canceled = true
			b.removeWaiter(el)
			return
		}
	}
}

func (p *Pool[C]) onRelease(cmd cmdRelease[C]) {
	b, ok := p.reg.get(cmd.db)
	if !ok {
		return
	}
	rec, ok := p.reg.conns[cmd.id]
	if !ok {
		return
	}
	now := time.Now()
	b.counts[VarActive]--
	rec.conn = cmd.conn
	rec.lastActive = now
	rec.poisoned = cmd.poisoned

	b.demand, b.lastDemandUpdate = bumpDemand(b.demand, b.lastDemandUpdate, now, p.cfg.DemandHalfLife)

	rtype := ReleaseNormal
	if cmd.poisoned {
		rtype = ReleasePoison
	}
	blocks := p.snapshotForAlgo(now)
	plan := planRelease(cmd.db, blocks, rtype)

	switch plan.Decision {
	case ReleaseDefault:
		p.completeToIdle(b, rec)
	case ReleaseDiscard:
		rec.state = stateDisconnecting
		b.counts[VarDisconnecting]++
		p.spawnDiscard(cmd.db, rec.id, rec.conn)
	case ReleaseReopen:
		rec.state = stateReconnecting
		rec.reconnectTo = cmd.db
		b.counts[VarReconnecting]++
		p.spawnReopen(cmd.db, rec.id, rec.conn)
	case ReleaseHandoff:
		rec.state = stateReconnecting
		rec.reconnectTo = plan.To
		b.counts[VarReconnecting]++
		p.spawnMoveTo(cmd.db, plan.To, rec.id, rec.conn)
	}
}

// completeToIdle is the single path by which a connection becomes Idle:
// it first offers the connection directly to the block's head waiter
// (moving straight to Active, spec §4.3), and only falls back to the Idle
// pool if no waiter is queued.
func (p *Pool[C]) completeToIdle(b *block[C], rec *connRecord[C]) {
	if w := b.popWaiter(); w != nil {
		rec.state = stateActive
		b.counts[VarActive]++
		w.resp <- acquireResult[C]{id: rec.id, conn: rec.conn}
		return
	}
	rec.state = stateIdle
	b.counts[VarIdle]++
	b.pushIdle(rec.id)
}

func (p *Pool[C]) runOnce() {
	if len(p.reg.blocks) == 0 {
		return
	}
	now := time.Now()
	p.adjustQuotas(now)

	gcDue := now.Sub(p.lastGC) >= p.cfg.GCInterval
	if gcDue {
		p.lastGC = now
	}

	blocks := p.snapshotForAlgo(now)
	ops := planRebalance(blocks, p.reg.totalActive(), gcDue, p.cfg.constraints())
	for _, op := range ops {
		switch op.Kind {
		case RebalanceCreate:
			b := p.reg.getOrCreate(op.DB)
			p.spawnCreate(b, op.DB)
		case RebalanceClose:
			p.spawnCloseOne(op.DB)
		case RebalanceTransfer:
			p.spawnSteal(op.To, op.From)
		}
	}
}

func (p *Pool[C]) adjustQuotas(now time.Time) {
	demand := make(map[string]float64, len(p.reg.blocks))
	for name, b := range p.reg.blocks {
		demand[name] = decay(b.demand, now.Sub(b.lastDemandUpdate), p.cfg.DemandHalfLife)
	}
	quotas := computeQuotas(demand, p.cfg.MaxCapacity)
	for name, q := range quotas {
		p.reg.blocks[name].quota = q
	}
}

func (p *Pool[C]) snapshotForAlgo(now time.Time) map[string]algoBlock {
	out := make(map[string]algoBlock, len(p.reg.blocks))
	for name, b := range p.reg.blocks {
		age, hasAge := b.oldestIdleAge(now, p.reg.conns)
		decayedDemand := decay(b.demand, now.Sub(b.lastDemandUpdate), p.cfg.DemandHalfLife)
		out[name] = algoBlock{
			name:          name,
			counts:        b.counts,
			quota:         b.quota,
			demand:        decayedDemand,
			drained:       p.drain.allDrained() || b.drainRefs > 0,
			oldestIdleAge: age,
			hasIdleAge:    hasAge,
			idleCount:     len(b.idle),
			activeCount:   int(b.counts.Get(VarActive)),
			transitCount:  int(b.counts.Get(VarConnecting) + b.counts.Get(VarReconnecting) + b.counts.Get(VarDisconnecting)),
			localWaiting:  int(b.counts.Get(VarWaiting)),
		}
	}
	return out
}

// ---- background task spawns (run on their own goroutines; only the
// cmd*Done handlers, executed back on the actor, mutate state) ----

func (p *Pool[C]) spawnCreate(b *block[C], db string) {
	id := p.reg.allocID()
	now := time.Now()
	p.reg.conns[id] = &connRecord[C]{id: id, db: db, state: stateConnecting, createdAt: now, lastActive: now}
	b.counts[VarConnecting]++

	p.tasksWG.Add(1)
	go func() {
		defer p.tasksWG.Done()
		conn, err := p.connector.Connect(context.Background(), db)
		p.send(cmdConnectDone[C]{db: db, id: id, conn: conn, err: err})
	}()
}

func (p *Pool[C]) onConnectDone(cmd cmdConnectDone[C]) {
	b, ok := p.reg.get(cmd.db)
	if !ok {
		return
	}
	b.counts[VarConnecting]--
	rec, ok := p.reg.conns[cmd.id]
	if !ok {
		return
	}
	if cmd.err != nil {
		delete(p.reg.conns, cmd.id)
		p.reg.recordTerminal(b, VarFailed)
		p.log.Debug("connect failed", "db", cmd.db, "err", cmd.err)
		return
	}
	rec.conn = cmd.conn
	rec.lastActive = time.Now()
	p.completeToIdle(b, rec)
}

func (p *Pool[C]) spawnSteal(to, from string) {
	fromBlock, ok := p.reg.get(from)
	if !ok {
		return
	}
	victimID, ok := fromBlock.popOldestIdle()
	if !ok {
		return
	}
	victim := p.reg.conns[victimID]
	victim.state = stateReconnecting
	victim.reconnectTo = to
	fromBlock.counts[VarIdle]--
	fromBlock.counts[VarReconnecting]++

	p.tasksWG.Add(1)
	go func() {
		defer p.tasksWG.Done()
		newConn, err := p.connector.Reconnect(context.Background(), victim.conn, to)
		p.send(cmdStealDone[C]{to: to, from: from, id: victimID, conn: newConn, err: err})
	}()
}

func (p *Pool[C]) onStealDone(cmd cmdStealDone[C]) {
	fromBlock, ok := p.reg.get(cmd.from)
	if ok {
		fromBlock.counts[VarReconnecting]--
	}
	rec, ok := p.reg.conns[cmd.id]
	if !ok {
		return
	}
	if cmd.err != nil {
		// Design note: the connection is lost from `from`, not `to`.
		delete(p.reg.conns, cmd.id)
		if fromBlock != nil {
			p.reg.recordTerminal(fromBlock, VarFailed)
		}
		p.log.Debug("steal reconnect failed", "from", cmd.from, "to", cmd.to, "err", cmd.err)
		return
	}
	rec.db = cmd.to
	rec.conn = cmd.conn
	rec.lastActive = time.Now()
	toBlock := p.reg.getOrCreate(cmd.to)
	p.completeToIdle(toBlock, rec)
}

func (p *Pool[C]) spawnDiscard(db string, id connID, conn C) {
	p.tasksWG.Add(1)
	go func() {
		defer p.tasksWG.Done()
		err := p.connector.Disconnect(context.Background(), conn)
		if err != nil {
			p.log.Debug("disconnect failed, treating as gone", "db", db, "err", err)
		}
		p.send(cmdCloseDone[C]{db: db, id: id})
	}()
}

func (p *Pool[C]) onCloseDone(cmd cmdCloseDone[C]) {
	b, ok := p.reg.get(cmd.db)
	if !ok {
		delete(p.reg.conns, cmd.id)
		return
	}
	b.counts[VarDisconnecting]--
	delete(p.reg.conns, cmd.id)
	p.reg.recordTerminal(b, VarClosed)
}

func (p *Pool[C]) spawnCloseOne(db string) {
	b, ok := p.reg.get(db)
	if !ok {
		return
	}
	id, ok := b.popOldestIdle()
	if !ok {
		return
	}
	rec := p.reg.conns[id]
	rec.state = stateDisconnecting
	b.counts[VarIdle]--
	b.counts[VarDisconnecting]++
	p.spawnDiscard(db, id, rec.conn)
}

func (p *Pool[C]) spawnReopen(db string, id connID, conn C) {
	p.tasksWG.Add(1)
	go func() {
		defer p.tasksWG.Done()
		newConn, err := p.connector.Reconnect(context.Background(), conn, db)
		p.send(cmdReopenDone[C]{db: db, id: id, conn: newConn, err: err})
	}()
}

func (p *Pool[C]) onReopenDone(cmd cmdReopenDone[C]) {
	b, ok := p.reg.get(cmd.db)
	if !ok {
		return
	}
	b.counts[VarReconnecting]--
	rec, ok := p.reg.conns[cmd.id]
	if !ok {
		return
	}
	if cmd.err != nil {
		delete(p.reg.conns, cmd.id)
		p.reg.recordTerminal(b, VarFailed)
		return
	}
	rec.conn = cmd.conn
	rec.lastActive = time.Now()
	p.completeToIdle(b, rec)
}

func (p *Pool[C]) spawnMoveTo(from, to string, id connID, conn C) {
	p.tasksWG.Add(1)
	go func() {
		defer p.tasksWG.Done()
		newConn, err := p.connector.Reconnect(context.Background(), conn, to)
		p.send(cmdMoveDone[C]{from: from, to: to, id: id, conn: newConn, err: err})
	}()
}

func (p *Pool[C]) onMoveDone(cmd cmdMoveDone[C]) {
	fromBlock, ok := p.reg.get(cmd.from)
	if ok {
		fromBlock.counts[VarReconnecting]--
	}
	rec, ok := p.reg.conns[cmd.id]
	if !ok {
		return
	}
	if cmd.err != nil {
		delete(p.reg.conns, cmd.id)
		if fromBlock != nil {
			p.reg.recordTerminal(fromBlock, VarFailed)
		}
		return
	}
	rec.db = cmd.to
	rec.conn = cmd.conn
	rec.lastActive = time.Now()
	toBlock := p.reg.getOrCreate(cmd.to)
	p.completeToIdle(toBlock, rec)
}

func (p *Pool[C]) send(cmd any) {
	select {
	case p.cmds <- cmd:
	case <-p.shutdownDoneCh:
	}
}
