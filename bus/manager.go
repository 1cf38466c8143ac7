package bus

import (
	"context"
	"errors"

	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/axi/outstanding"
	"github.com/sarchlab/axisim/trace"
)

// managerIngress splits transactions from the Manager into beats.
func (b *Bus) managerIngress(ctx context.Context) error {
	for {
		var txn axi.Transaction

		select {
		case <-ctx.Done():
			return nil
		case txn = <-b.managerReq:
		}

		err := b.issue(txn)

		switch {
		case err == nil:
		case errors.Is(err, errReset):
			b.log.Warn("transaction dropped by reset",
				"bus", b.name, "txn", txn.String())
		case errors.Is(err, ErrClosed):
			return nil
		default:
			return b.fatal(err)
		}
	}
}

// issue queues the beats of one transaction. Writes go out without
// admission; the write pool paces them once their address beat arrives.
// Reads are admitted into the read pool before their address beat is
// queued. A transaction that arrives during reset waits for its release.
func (b *Bus) issue(txn axi.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.inReset {
		if b.closed {
			return ErrClosed
		}

		b.work.Wait()
	}

	epoch := b.epoch
	id := b.ids.Next()
	addr := axi.Beat{ID: id, Addr: txn.Addr, Len: uint8(txn.Length - 1)}

	b.emit(trace.HookPosTransaction, "Manager", trace.ActionGotRequest,
		txn.String())

	if !txn.Write {
		if err := b.admit(b.readPool, addr, epoch); err != nil {
			return err
		}

		return b.push(b.sendQ[axi.AR], addr, epoch)
	}

	if err := b.push(b.sendQ[axi.AW], addr, epoch); err != nil {
		return err
	}

	for i, d := range txn.Data {
		beat := axi.Beat{ID: id, Data: d, Last: i == txn.Length-1}
		if err := b.push(b.sendQ[axi.W], beat, epoch); err != nil {
			return err
		}
	}

	return nil
}

// managerEgress rebuilds completed transactions and hands them back to the
// Manager.
func (b *Bus) managerEgress(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.closed {
		pool, entry, err := b.collectResponse()
		if err != nil {
			return b.fatal(err)
		}

		if pool == nil {
			b.work.Wait()
			continue
		}

		if entry == nil {
			continue
		}

		if err := b.complete(ctx, pool, entry); err != nil {
			return b.fatal(err)
		}
	}

	return nil
}

// collectResponse takes one beat from B or R. It returns the pool it
// touched, or nil when there was nothing to take, and the entry when its
// transaction is complete.
func (b *Bus) collectResponse() (*outstanding.Pool, *outstanding.Entry, error) {
	if q := b.recvQ[axi.B]; q.Size() > 0 {
		beat := q.Pop().(axi.Beat)

		entry, found := b.writePool.FindByID(beat.ID)
		if !found {
			return nil, nil, axi.Errorf(axi.KindNoSuchID,
				"write response %s", beat)
		}

		return b.writePool, entry, nil
	}

	if q := b.recvQ[axi.R]; q.Size() > 0 {
		beat := q.Pop().(axi.Beat)

		res := b.readPool.Update(beat)
		if err := res.Err(beat); err != nil {
			return nil, nil, err
		}

		if res != outstanding.OKLast {
			return b.readPool, nil, nil
		}

		entry, _ := b.readPool.FindByID(beat.ID)

		return b.readPool, entry, nil
	}

	return nil, nil, nil
}

// complete forwards a finished transaction to the Manager and then retires
// its entry. An entry dropped by a reset during the hand-off is left alone.
func (b *Bus) complete(
	ctx context.Context,
	pool *outstanding.Pool,
	entry *outstanding.Entry,
) error {
	txn := entry.Transaction()
	epoch := b.epoch

	if !b.forward(ctx, b.managerResp, txn) {
		return nil
	}

	b.forwarded[toManager]++
	b.emit(trace.HookPosTransaction, "Manager", trace.ActionSentResponse,
		txn.String())

	if b.epoch != epoch {
		return nil
	}

	return pool.Remove(entry.ID)
}
