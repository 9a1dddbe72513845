package relay_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mt_relay/internal/models"
	"mt_relay/internal/relay"
	"mt_relay/internal/storage"

	"github.com/stretchr/testify/require"
)

func newTestRig(t *testing.T, ttl time.Duration) (*relay.Service, *storage.Storage) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := storage.New(filepath.Join(t.TempDir(), "relay.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return relay.New(st, logger, ttl, 90*time.Second), st
}

func makeAccounts(t *testing.T, st *storage.Storage, receivers int) (int, []int) {
	t.Helper()

	user, err := st.CreateUser("operator", "hash")
	require.NoError(t, err)

	sender, err := st.CreateAccount(user.ID, "100001", models.RoleSender, nil, "sender-key")
	require.NoError(t, err)

	receiverIDs := make([]int, 0, receivers)
	for i := 0; i < receivers; i++ {
		acc, err := st.CreateAccount(user.ID, fmt.Sprintf("2000%02d", i), models.RoleReceiver,
			&sender.ID, fmt.Sprintf("receiver-key-%d", i))
		require.NoError(t, err)

		receiverIDs = append(receiverIDs, acc.ID)
	}

	return sender.ID, receiverIDs
}

func signalByID(t *testing.T, svc *relay.Service, senderID int, signalID string) models.Signal {
	t.Helper()

	signals, err := svc.History(context.Background(), senderID, models.HistoryFilter{})
	require.NoError(t, err)

	for _, sig := range signals {
		if sig.ID == signalID {
			return sig
		}
	}

	t.Fatalf("signal %s not found in history", signalID)

	return models.Signal{}
}

func openDraft() relay.SubmitRequest {
	return relay.SubmitRequest{
		Action:    models.ActionOpen,
		Symbol:    "EURUSD",
		OrderType: models.OrderTypeBuy,
		Volume:    0.1,
		Price:     1.0950,
	}
}

func TestSubmitFansOutToLinkedReceivers(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 2)
	ctx := context.Background()

	signal, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, signal.Status)

	// Exactly one queued entry per linked receiver
	for _, receiverID := range receiverIDs {
		views, err := svc.Poll(ctx, receiverID)
		require.NoError(t, err)
		require.Len(t, views, 1)
		require.Equal(t, signal.ID, views[0].SignalID)
	}
}

func TestSubmitWithoutReceiversStaysPending(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, _ := makeAccounts(t, st, 0)

	signal, err := svc.Submit(context.Background(), senderID, openDraft())
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, signal.Status)

	// Recorded for history even though no mailbox ever sees it
	require.Equal(t, models.StatusPending, signalByID(t, svc, senderID, signal.ID).Status)
}

func TestSubmitValidation(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, _ := makeAccounts(t, st, 1)
	ctx := context.Background()

	testCases := []struct {
		desc  string
		draft relay.SubmitRequest
	}{
		{"unknown action", relay.SubmitRequest{Action: "HOLD", Symbol: "EURUSD", Volume: 0.1}},
		{"zero volume open", relay.SubmitRequest{Action: models.ActionOpen, Symbol: "EURUSD", OrderType: models.OrderTypeBuy}},
		{"negative volume", relay.SubmitRequest{Action: models.ActionOpen, Symbol: "EURUSD", OrderType: models.OrderTypeBuy, Volume: -1}},
		{"open without symbol", relay.SubmitRequest{Action: models.ActionOpen, OrderType: models.OrderTypeSell, Volume: 0.1}},
		{"open without order type", relay.SubmitRequest{Action: models.ActionOpen, Symbol: "EURUSD", Volume: 0.1}},
		{"close without ticket", relay.SubmitRequest{Action: models.ActionClose, Symbol: "EURUSD"}},
		{"modify without ticket", relay.SubmitRequest{Action: models.ActionModify, Symbol: "EURUSD"}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := svc.Submit(ctx, senderID, tc.draft)
			require.Error(t, err)
			require.True(t, relay.IsValidation(err))
		})
	}

	// No signal records leaked from rejected drafts
	signals, err := svc.History(ctx, senderID, models.HistoryFilter{})
	require.NoError(t, err)
	require.Empty(t, signals)
}

func TestPollTwiceReturnsEmpty(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 1)
	ctx := context.Background()

	_, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	first, err := svc.Poll(ctx, receiverIDs[0])
	require.NoError(t, err)
	require.Len(t, first, 1)

	// No redelivery without a new submission
	second, err := svc.Poll(ctx, receiverIDs[0])
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestConcurrentPollsNeverShareASignal(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 1)
	ctx := context.Background()

	const submitted = 20
	for i := 0; i < submitted; i++ {
		_, err := svc.Submit(ctx, senderID, openDraft())
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var pollErr error

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				views, err := svc.Poll(ctx, receiverIDs[0])
				if err != nil {
					mu.Lock()
					pollErr = err
					mu.Unlock()

					return
				}

				if len(views) == 0 {
					return
				}

				mu.Lock()
				for _, v := range views {
					seen[v.SignalID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.NoError(t, pollErr)

	require.Len(t, seen, submitted)
	for signalID, count := range seen {
		require.Equalf(t, 1, count, "signal %s delivered %d times", signalID, count)
	}
}

func TestSingleReceiverLifecycle(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 1)
	ctx := context.Background()

	signal, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, signal.Status)

	views, err := svc.Poll(ctx, receiverIDs[0])
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, models.OrderTypeBuy, views[0].OrderType)
	require.Equal(t, models.StatusSent, signalByID(t, svc, senderID, signal.ID).Status)

	price := 1.0951
	exec, signalStatus, err := svc.Acknowledge(ctx, receiverIDs[0], relay.AckRequest{
		SignalID:      signal.ID,
		Status:        models.StatusExecuted,
		ExecutedPrice: &price,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusExecuted, signalStatus)
	require.NotNil(t, exec.ExecutedPrice)
	require.Equal(t, 1.0951, *exec.ExecutedPrice)

	stored := signalByID(t, svc, senderID, signal.ID)
	require.Equal(t, models.StatusExecuted, stored.Status)
	require.Len(t, stored.Executions, 1)
	require.Equal(t, 1.0951, *stored.Executions[0].ExecutedPrice)
}

func TestLateReceiverServedAfterFirstAck(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 2)
	ctx := context.Background()

	signal, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	// The first receiver polls and acks before the second ever polls
	views, err := svc.Poll(ctx, receiverIDs[0])
	require.NoError(t, err)
	require.Len(t, views, 1)

	_, status, err := svc.Acknowledge(ctx, receiverIDs[0], relay.AckRequest{
		SignalID: signal.ID,
		Status:   models.StatusExecuted,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusAcknowledged, status)

	// The queued delivery of the second receiver is still served
	views, err = svc.Poll(ctx, receiverIDs[1])
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, signal.ID, views[0].SignalID)

	// And its ack brings the signal to the terminal state
	_, status, err = svc.Acknowledge(ctx, receiverIDs[1], relay.AckRequest{
		SignalID: signal.ID,
		Status:   models.StatusExecuted,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusExecuted, status)
	require.Equal(t, models.StatusExecuted, signalByID(t, svc, senderID, signal.ID).Status)
}

func TestAckValidation(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	_, receiverIDs := makeAccounts(t, st, 1)
	ctx := context.Background()

	badVolume := -0.1
	testCases := []struct {
		desc string
		req  relay.AckRequest
	}{
		{"missing signal id", relay.AckRequest{Status: models.StatusExecuted}},
		{"malformed signal id", relay.AckRequest{SignalID: "not-a-uuid", Status: models.StatusExecuted}},
		{"unknown status", relay.AckRequest{SignalID: "0e3b4f9c-8f86-4c43-9d3a-1f2a6f8b9c0d", Status: "PARTIAL"}},
		{"negative executed volume", relay.AckRequest{
			SignalID:       "0e3b4f9c-8f86-4c43-9d3a-1f2a6f8b9c0d",
			Status:         models.StatusExecuted,
			ExecutedVolume: &badVolume,
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, _, err := svc.Acknowledge(ctx, receiverIDs[0], tc.req)
			require.Error(t, err)
			require.True(t, relay.IsValidation(err))
		})
	}
}

func TestAckIsIdempotent(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 1)
	ctx := context.Background()

	signal, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	_, err = svc.Poll(ctx, receiverIDs[0])
	require.NoError(t, err)

	firstPrice := 1.0951
	first, _, err := svc.Acknowledge(ctx, receiverIDs[0], relay.AckRequest{
		SignalID:      signal.ID,
		Status:        models.StatusExecuted,
		ExecutedPrice: &firstPrice,
	})
	require.NoError(t, err)

	// Retried ack with a different payload returns the first record unchanged
	code := 134
	second, status, err := svc.Acknowledge(ctx, receiverIDs[0], relay.AckRequest{
		SignalID:  signal.ID,
		Status:    models.StatusFailed,
		ErrorCode: &code,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, models.StatusExecuted, second.Status)
	require.Nil(t, second.ErrorCode)
	require.Equal(t, models.StatusExecuted, status)
}

func TestAckFromUnknownReceiverPair(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 1)
	ctx := context.Background()

	// Receiver registered after the submit is never a delivery target
	user, err := st.CreateUser("other", "hash")
	require.NoError(t, err)

	signal, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	stranger, err := st.CreateAccount(user.ID, "999999", models.RoleReceiver, nil, "stranger-key")
	require.NoError(t, err)

	_, _, err = svc.Acknowledge(ctx, stranger.ID, relay.AckRequest{
		SignalID: signal.ID,
		Status:   models.StatusExecuted,
	})
	require.ErrorIs(t, err, relay.ErrNotFound)

	// The legitimate receiver is unaffected
	views, err := svc.Poll(ctx, receiverIDs[0])
	require.NoError(t, err)
	require.Len(t, views, 1)
}

func TestExpiredSignalIsExcludedFromPoll(t *testing.T) {
	svc, st := newTestRig(t, -time.Second)
	senderID, receiverIDs := makeAccounts(t, st, 1)
	ctx := context.Background()

	signal, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	views, err := svc.Poll(ctx, receiverIDs[0])
	require.NoError(t, err)
	require.Empty(t, views)

	require.Equal(t, models.StatusExpired, signalByID(t, svc, senderID, signal.ID).Status)

	// Ack against the expired signal is rejected
	_, _, err = svc.Acknowledge(ctx, receiverIDs[0], relay.AckRequest{
		SignalID: signal.ID,
		Status:   models.StatusExecuted,
	})
	require.ErrorIs(t, err, relay.ErrInvalidState)
}

func TestFailureDominatesAcrossReceivers(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 2)
	ctx := context.Background()

	signal, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	for _, receiverID := range receiverIDs {
		_, err := svc.Poll(ctx, receiverID)
		require.NoError(t, err)
	}

	code := 10019
	_, status, err := svc.Acknowledge(ctx, receiverIDs[0], relay.AckRequest{
		SignalID:     signal.ID,
		Status:       models.StatusFailed,
		ErrorCode:    &code,
		ErrorMessage: "not enough money",
	})
	require.NoError(t, err)

	// Not terminal until every receiver has reported
	require.Equal(t, models.StatusAcknowledged, status)
	require.Equal(t, models.StatusAcknowledged, signalByID(t, svc, senderID, signal.ID).Status)

	_, status, err = svc.Acknowledge(ctx, receiverIDs[1], relay.AckRequest{
		SignalID: signal.ID,
		Status:   models.StatusExecuted,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, status)
	require.Equal(t, models.StatusFailed, signalByID(t, svc, senderID, signal.ID).Status)
}

func TestSkippedAggregation(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 2)
	ctx := context.Background()

	signal, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	for _, receiverID := range receiverIDs {
		_, err := svc.Poll(ctx, receiverID)
		require.NoError(t, err)
	}

	_, _, err = svc.Acknowledge(ctx, receiverIDs[0], relay.AckRequest{
		SignalID: signal.ID,
		Status:   models.StatusSkipped,
	})
	require.NoError(t, err)

	_, status, err := svc.Acknowledge(ctx, receiverIDs[1], relay.AckRequest{
		SignalID: signal.ID,
		Status:   models.StatusExecuted,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusSkipped, status)
}

func TestHeartbeat(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, _ := makeAccounts(t, st, 0)
	ctx := context.Background()

	balance, equity := 1250.5, 1300.75
	receivedAt, err := svc.Heartbeat(ctx, senderID, models.Telemetry{
		Balance: &balance,
		Equity:  &equity,
	})
	require.NoError(t, err)
	require.False(t, receivedAt.IsZero())

	acc, err := st.GetAccount(1, senderID)
	require.NoError(t, err)
	require.NotNil(t, acc.LastHeartbeatAt)
	require.Equal(t, 1250.5, acc.Balance)
	require.Equal(t, 1300.75, acc.Equity)
	require.True(t, svc.IsLive(acc.LastHeartbeatAt))

	// Partial telemetry keeps previous values
	profit := -12.25
	_, err = svc.Heartbeat(ctx, senderID, models.Telemetry{Profit: &profit})
	require.NoError(t, err)

	acc, err = st.GetAccount(1, senderID)
	require.NoError(t, err)
	require.Equal(t, 1250.5, acc.Balance)
	require.Equal(t, -12.25, acc.Profit)

	// Unknown account
	_, err = svc.Heartbeat(ctx, 98765, models.Telemetry{})
	require.ErrorIs(t, err, relay.ErrNotFound)
}

func TestStats(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 1)
	ctx := context.Background()

	executed, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	gold := openDraft()
	gold.Symbol = "XAUUSD"
	gold.OrderType = models.OrderTypeSell
	_, err = svc.Submit(ctx, senderID, gold)
	require.NoError(t, err)

	ticket := int64(42)
	_, err = svc.Submit(ctx, senderID, relay.SubmitRequest{
		Action:       models.ActionClose,
		Symbol:       "EURUSD",
		SourceTicket: &ticket,
	})
	require.NoError(t, err)

	views, err := svc.Poll(ctx, receiverIDs[0])
	require.NoError(t, err)
	require.Len(t, views, 3)

	_, _, err = svc.Acknowledge(ctx, receiverIDs[0], relay.AckRequest{
		SignalID: executed.ID,
		Status:   models.StatusExecuted,
	})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, senderID, relay.PeriodDay)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 1, stats.ByStatus[models.StatusExecuted])
	require.Equal(t, 2, stats.ByStatus[models.StatusSent])
	require.Equal(t, 2, stats.BySymbol["EURUSD"])
	require.Equal(t, 1, stats.BySymbol["XAUUSD"])
	require.Equal(t, 2, stats.ByAction[models.ActionOpen])
	require.Equal(t, 1, stats.ByAction[models.ActionClose])

	_, err = svc.Stats(ctx, senderID, "fortnight")
	require.Error(t, err)
	require.True(t, relay.IsValidation(err))
}

func TestStatsCountExpiredLazily(t *testing.T) {
	svc, st := newTestRig(t, -time.Second)
	senderID, _ := makeAccounts(t, st, 1)
	ctx := context.Background()

	_, err := svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	// Nothing polled the mailbox, the row still reads PENDING, but the
	// rollup reports it expired
	stats, err := svc.Stats(ctx, senderID, relay.PeriodAll)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ByStatus[models.StatusExpired])
	require.Zero(t, stats.ByStatus[models.StatusPending])
}

func TestHistoryLoadsExecutionsPerSignal(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, receiverIDs := makeAccounts(t, st, 1)
	ctx := context.Background()

	const submitted = 3
	ids := make([]string, 0, submitted)
	for i := 0; i < submitted; i++ {
		signal, err := svc.Submit(ctx, senderID, openDraft())
		require.NoError(t, err)

		ids = append(ids, signal.ID)
	}

	views, err := svc.Poll(ctx, receiverIDs[0])
	require.NoError(t, err)
	require.Len(t, views, submitted)

	for _, id := range ids {
		_, _, err := svc.Acknowledge(ctx, receiverIDs[0], relay.AckRequest{
			SignalID: id,
			Status:   models.StatusExecuted,
		})
		require.NoError(t, err)
	}

	// Every page entry carries its recorded executions
	signals, err := svc.History(ctx, senderID, models.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, signals, submitted)

	for _, sig := range signals {
		require.Equal(t, models.StatusExecuted, sig.Status)
		require.Len(t, sig.Executions, 1)
	}
}

func TestHistoryValidationAndFilters(t *testing.T) {
	svc, st := newTestRig(t, 5*time.Minute)
	senderID, _ := makeAccounts(t, st, 0)
	ctx := context.Background()

	_, err := svc.History(ctx, senderID, models.HistoryFilter{Limit: -1})
	require.True(t, relay.IsValidation(err))

	_, err = svc.History(ctx, senderID, models.HistoryFilter{Offset: -5})
	require.True(t, relay.IsValidation(err))

	from := time.Now().UTC()
	to := from.Add(-time.Hour)
	_, err = svc.History(ctx, senderID, models.HistoryFilter{From: &from, To: &to})
	require.True(t, relay.IsValidation(err))

	_, err = svc.Submit(ctx, senderID, openDraft())
	require.NoError(t, err)

	gold := openDraft()
	gold.Symbol = "XAUUSD"
	_, err = svc.Submit(ctx, senderID, gold)
	require.NoError(t, err)

	filtered, err := svc.History(ctx, senderID, models.HistoryFilter{Symbol: "XAUUSD"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "XAUUSD", filtered[0].Symbol)

	paged, err := svc.History(ctx, senderID, models.HistoryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
}
