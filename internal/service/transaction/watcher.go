package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/history"
	"github.com/mrz1836/herald/internal/notify"
	"github.com/mrz1836/herald/internal/registry"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// historyTimeout bounds one history write.
const historyTimeout = 5 * time.Second

// Outcomes reported to the metrics recorder.
const (
	outcomeSuccess  = "success"
	outcomeFail     = "fail"
	outcomeRejected = "rejected"
)

// watch follows the status stream of a submitted transaction until it closes.
// Statuses after the first terminal one are drained and ignored.
func (s *Service) watch(ctx context.Context, j *job, statuses <-chan chain.Status) {
	for {
		select {
		case <-ctx.Done():
			if !j.finished {
				s.fail(context.WithoutCancel(ctx), j, heralderr.WithCause(
					heralderr.WithDetail(heralderr.ErrSendTransactionFailed, "service stopped before inclusion"), ctx.Err()))
			}
			return
		case st, ok := <-statuses:
			if !ok {
				if !j.finished {
					s.fail(ctx, j, heralderr.WithDetail(heralderr.ErrSendTransactionFailed, "status stream ended before inclusion"))
				}
				return
			}
			if j.finished {
				continue
			}
			s.onStatus(ctx, j, st)
		}
	}
}

func (s *Service) onStatus(ctx context.Context, j *job, st chain.Status) {
	if st.Hash != "" && !j.hashEmitted {
		s.onHash(ctx, j, st.Hash)
	}

	switch {
	case st.Kind == chain.StatusError:
		err := st.Err
		if err == nil {
			err = heralderr.ErrSendTransactionFailed
		}
		if !heralderr.Is(err, heralderr.ErrSendTransactionFailed) && !heralderr.Is(err, heralderr.ErrUnableToSend) {
			err = heralderr.WithCause(heralderr.WithDetail(heralderr.ErrSendTransactionFailed, err.Error()), err)
		}
		s.fail(ctx, j, err)
	case j.strategy.settles(st.Kind):
		s.succeed(ctx, j, st)
	}
}

// onHash moves the record to processing and starts its history entry.
func (s *Service) onHash(ctx context.Context, j *job, hash string) {
	j.hashEmitted = true
	j.record.ExtrinsicHash = hash

	processing := registry.StatusProcessing
	if err := s.registry.Update(j.record.ID, registry.Patch{Status: &processing, ExtrinsicHash: &hash}); err != nil {
		s.logger.Error("marking %s processing: %v", j.record.ID, err)
	}

	entry := s.historyEntry(j, history.StatusProcessing)
	s.writeHistory(ctx, j, func(hctx context.Context) error {
		return s.history.Record(hctx, entry)
	})

	s.events.emit(Event{Name: EventExtrinsicHash, ID: j.record.ID, ExtrinsicHash: hash})
}

func (s *Service) succeed(ctx context.Context, j *job, st chain.Status) {
	j.finished = true

	success := registry.StatusSuccess
	if err := s.registry.Update(j.record.ID, registry.Patch{Status: &success}); err != nil {
		s.logger.Error("marking %s successful: %v", j.record.ID, err)
	}

	link := j.info.ExplorerLink(j.record.ExtrinsicHash)
	s.writeHistory(ctx, j, func(hctx context.Context) error {
		return s.history.Update(hctx, j.record.Chain, j.record.ExtrinsicHash, history.Patch{
			Status:       history.StatusSuccess,
			BlockHash:    st.BlockHash,
			BlockNumber:  st.BlockNumber,
			ExplorerLink: link,
		})
	})

	s.notifier.Notify(notify.Notification{
		Kind:  notify.KindSuccess,
		Title: fmt.Sprintf("Transaction included on %s", j.info.Name),
		Body:  j.record.ExtrinsicHash,
		Link:  link,
	})
	s.metrics.Finished(string(j.record.ChainType), outcomeSuccess)
	s.logger.Debug("transaction %s included in block %d", j.record.ID, st.BlockNumber)

	s.events.emit(Event{
		Name:          EventSuccess,
		ID:            j.record.ID,
		ExtrinsicHash: j.record.ExtrinsicHash,
		BlockHash:     st.BlockHash,
		BlockNumber:   st.BlockNumber,
		Warnings:      j.record.Warnings,
	})
}

// fail finishes a signed transaction with err.
func (s *Service) fail(ctx context.Context, j *job, err error) {
	if j.finished {
		return
	}
	j.finished = true

	failed := registry.StatusFail
	if uerr := s.registry.Update(j.record.ID, registry.Patch{Status: &failed, Errors: []error{err}}); uerr != nil {
		s.logger.Error("marking %s failed: %v", j.record.ID, uerr)
	}

	if j.record.ExtrinsicHash == "" {
		entry := s.historyEntry(j, history.StatusFailed)
		entry.Error = err.Error()
		s.writeHistory(ctx, j, func(hctx context.Context) error {
			return s.history.Record(hctx, entry)
		})
	} else {
		s.writeHistory(ctx, j, func(hctx context.Context) error {
			return s.history.Update(hctx, j.record.Chain, j.record.ExtrinsicHash, history.Patch{
				Status: history.StatusFailed,
				Error:  err.Error(),
			})
		})
	}

	s.notifier.Notify(notify.Notification{
		Kind:  notify.KindFailure,
		Title: fmt.Sprintf("Transaction failed on %s", j.info.Name),
		Body:  err.Error(),
		Link:  j.info.ExplorerLink(j.record.ExtrinsicHash),
	})
	s.metrics.Finished(string(j.record.ChainType), outcomeFail)
	s.logger.Error("transaction %s failed: %v", j.record.ID, err)

	s.events.emit(Event{
		Name:          EventError,
		ID:            j.record.ID,
		ExtrinsicHash: j.record.ExtrinsicHash,
		Errors:        []error{err},
		Warnings:      j.record.Warnings,
	})
}

// discard drops a record that never reached the chain.
func (s *Service) discard(j *job, err error) {
	j.finished = true
	s.registry.Remove(j.record.ID)

	outcome := outcomeFail
	if heralderr.Is(err, heralderr.ErrUserRejectRequest) {
		outcome = outcomeRejected
	}
	s.metrics.Finished(string(j.record.ChainType), outcome)
	s.logger.Debug("transaction %s dropped before submission: %v", j.record.ID, err)

	s.events.emit(Event{Name: EventError, ID: j.record.ID, Errors: []error{err}, Warnings: j.record.Warnings})
}

func (s *Service) historyEntry(j *job, status string) history.Entry {
	return history.Entry{
		TransactionID: j.record.ID,
		Chain:         string(j.record.Chain),
		ExtrinsicHash: j.record.ExtrinsicHash,
		ChainType:     string(j.record.ChainType),
		Address:       j.record.Address,
		Signer:        j.record.Signer,
		Status:        status,
		Amount:        amountValue(j.record.TransferAmount),
		Fee:           amountValue(j.record.EstimatedFee),
		Symbol:        j.info.Symbol,
		URL:           j.record.URL,
		ExplorerLink:  j.info.ExplorerLink(j.record.ExtrinsicHash),
	}
}

// writeHistory runs one history write. Failures are logged and never change
// the transaction outcome.
func (s *Service) writeHistory(ctx context.Context, j *job, write func(context.Context) error) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	if err := write(hctx); err != nil {
		s.logger.Error("history write for %s failed: %v", j.record.ID, err)
	}
}

func amountValue(a chain.Amount) string {
	if a.Value == nil {
		return "0"
	}
	return a.Value.String()
}
