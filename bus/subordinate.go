package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/axi/outstanding"
	"github.com/sarchlab/axisim/trace"
)

// subordinateRequests collects address and data beats into requests for
// the Subordinate.
func (b *Bus) subordinateRequests(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.closed {
		txn, ready, moved, err := b.collectRequest()

		switch {
		case err == nil:
		case errors.Is(err, errReset):
			continue
		case errors.Is(err, ErrClosed):
			return nil
		default:
			return b.fatal(err)
		}

		if ready {
			if b.forward(ctx, b.subReq, txn) {
				b.forwarded[toSubordinate]++
				b.emit(trace.HookPosTransaction, "Subordinate",
					trace.ActionSentRequest, txn.String())
			}

			continue
		}

		if !moved {
			b.work.Wait()
		}
	}

	return nil
}

// collectRequest makes one step of request aggregation. It reports a
// request when one is ready for the Subordinate, and whether any beat was
// consumed.
func (b *Bus) collectRequest() (
	txn axi.Transaction,
	ready bool,
	moved bool,
	err error,
) {
	if q := b.recvQ[axi.AW]; q.Size() > 0 {
		beat := q.Peek().(axi.Beat)

		if err := b.admit(b.writePool, beat, b.epoch); err != nil {
			return txn, false, false, err
		}

		q.Pop()
		moved = true
	}

	if q := b.recvQ[axi.W]; q.Size() > 0 {
		beat := q.Peek().(axi.Beat)

		// Data may overtake its address beat. It waits in the queue until
		// the address beat has been admitted.
		if _, found := b.writePool.FindByID(beat.ID); found {
			q.Pop()

			res := b.writePool.Update(beat)
			if err := res.Err(beat); err != nil {
				return txn, false, true, err
			}

			if res == outstanding.OKLast {
				entry, _ := b.writePool.FindByID(beat.ID)
				return entry.Transaction(), true, true, nil
			}

			moved = true
		}
	}

	if q := b.recvQ[axi.AR]; q.Size() > 0 {
		beat := q.Pop().(axi.Beat)

		entry, found := b.readPool.FindByID(beat.ID)
		if !found {
			return txn, false, true, axi.Errorf(axi.KindUnmatchedAddressBeat,
				"read address %s", beat)
		}

		return axi.NewRead(entry.Addr, entry.Length), true, true, nil
	}

	return txn, false, moved, nil
}

// subordinateResponses turns responses from the Subordinate into B and R
// beats.
func (b *Bus) subordinateResponses(ctx context.Context) error {
	for {
		var txn axi.Transaction

		select {
		case <-ctx.Done():
			return nil
		case txn = <-b.subResp:
		}

		err := b.answer(txn)

		switch {
		case err == nil:
		case errors.Is(err, errReset):
			b.log.Warn("response dropped by reset",
				"bus", b.name, "txn", txn.String())
		case errors.Is(err, ErrClosed):
			return nil
		default:
			return b.fatal(err)
		}
	}
}

// answer matches a response to its outstanding entry and queues the
// response beats.
func (b *Bus) answer(txn axi.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.emit(trace.HookPosTransaction, "Subordinate", trace.ActionGotResponse,
		txn.String())

	entry, err := b.match(txn)
	if err != nil {
		return err
	}

	if !txn.Write && (txn.Length != entry.Length || len(txn.Data) != txn.Length) {
		return axi.Errorf(axi.KindMalformedTransaction,
			"read response %s for entry id=%d length=%d",
			txn, entry.ID, entry.Length)
	}

	entry.Answered = true
	epoch := b.epoch

	if txn.Write {
		return b.push(b.sendQ[axi.B], axi.Beat{ID: entry.ID}, epoch)
	}

	for i, d := range txn.Data {
		beat := axi.Beat{ID: entry.ID, Data: d, Last: i == txn.Length-1}
		if err := b.push(b.sendQ[axi.R], beat, epoch); err != nil {
			return err
		}
	}

	return nil
}

// match finds the entry a response belongs to. The Subordinate does not see
// IDs, so responses are matched by address. When several unanswered entries
// share the address the oldest one is taken and the ambiguity is reported.
func (b *Bus) match(txn axi.Transaction) (*outstanding.Entry, error) {
	pool := b.readPool
	if txn.Write {
		pool = b.writePool
	}

	var candidates []*outstanding.Entry

	for _, e := range pool.FindAllByAddress(txn.Addr) {
		if e.Answered || (txn.Write && !e.Complete()) {
			continue
		}

		candidates = append(candidates, e)
	}

	if len(candidates) == 0 {
		return nil, axi.Errorf(axi.KindUnmatchedResponse,
			"no outstanding %s entry for %s", pool.Name(), txn)
	}

	if len(candidates) > 1 {
		b.ambiguous++
		detail := fmt.Sprintf("%d entries at %s, picked id=%d",
			len(candidates), axi.FormatAddress(txn.Addr), candidates[0].ID)
		b.log.Warn("ambiguous response match", "bus", b.name, "detail", detail)
		b.emit(trace.HookPosTransaction, pool.Name(), trace.ActionAmbiguous,
			detail)
	}

	return candidates[0], nil
}
